// Package provider talks to the code host for pull request, review and
// check-run state.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/logger"
)

const (
	githubAPIBase     = "https://api.github.com"
	githubHTTPTimeout = 30 * time.Second
	githubAPIVersion  = "2022-11-28"
	perPage           = "100"
)

// TokenFunc returns the current API token, or "" when none is configured.
type TokenFunc func(ctx context.Context) string

// PullRequest is the subset of a GitHub pull request the engine needs.
type PullRequest struct {
	Number             int
	URL                string
	State              string // "open" or "closed"
	Merged             bool
	HeadSHA            string
	RequestedReviewers int
	UpdatedAt          time.Time
}

// Review is one submitted review.
type Review struct {
	Author string
	State  string // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING
}

// CheckRun is one check run on a commit.
type CheckRun struct {
	Name       string
	Status     string // queued, in_progress, completed, waiting, requested, pending
	Conclusion string // success, failure, neutral, cancelled, skipped, timed_out, action_required, stale
}

// GitHub is a GitHub REST v3 client.
type GitHub struct {
	token      TokenFunc
	httpClient *http.Client
	apiBase    string // Override for testing and GitHub Enterprise
}

// NewGitHub returns a client for api.github.com, or for apiBase when set.
func NewGitHub(token TokenFunc, apiBase string) *GitHub {
	return NewGitHubWithClient(token, &http.Client{Timeout: githubHTTPTimeout}, apiBase)
}

// NewGitHubWithClient returns a client with a custom HTTP client (for testing).
func NewGitHubWithClient(token TokenFunc, client *http.Client, apiBase string) *GitHub {
	if apiBase == "" {
		apiBase = githubAPIBase
	}
	if token == nil {
		token = func(context.Context) string { return "" }
	}
	return &GitHub{
		token:      token,
		httpClient: client,
		apiBase:    strings.TrimRight(apiBase, "/"),
	}
}

// Name returns the human-readable provider name.
func (g *GitHub) Name() string {
	return "GitHub"
}

// Configured reports whether a token is available.
func (g *GitHub) Configured(ctx context.Context) bool {
	return g.token(ctx) != ""
}

type ghPull struct {
	Number   int        `json:"number"`
	HTMLURL  string     `json:"html_url"`
	State    string     `json:"state"`
	MergedAt *time.Time `json:"merged_at"`
	Head     struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
	RequestedReviewers []struct {
		Login string `json:"login"`
	} `json:"requested_reviewers"`
	RequestedTeams []struct {
		Slug string `json:"slug"`
	} `json:"requested_teams"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ghReview struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	State string `json:"state"`
}

type ghCheckRuns struct {
	TotalCount int `json:"total_count"`
	CheckRuns  []struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"check_runs"`
}

// FindPullRequest returns the pull request whose head is branch, or nil if
// there is none. An open pull request is preferred over closed ones.
func (g *GitHub) FindPullRequest(ctx context.Context, repo Repo, branch string) (*PullRequest, error) {
	q := url.Values{}
	q.Set("head", repo.Owner+":"+branch)
	q.Set("state", "all")
	q.Set("per_page", perPage)

	var pulls []ghPull
	path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(repo.Owner), url.PathEscape(repo.Name))
	if err := g.get(ctx, "provider.find_pull_request", path, q, &pulls); err != nil {
		return nil, err
	}

	var found *ghPull
	for i := range pulls {
		if pulls[i].State == "open" {
			found = &pulls[i]
			break
		}
	}
	if found == nil && len(pulls) > 0 {
		found = &pulls[0]
	}
	if found == nil {
		return nil, nil
	}

	return &PullRequest{
		Number:             found.Number,
		URL:                found.HTMLURL,
		State:              found.State,
		Merged:             found.MergedAt != nil,
		HeadSHA:            found.Head.SHA,
		RequestedReviewers: len(found.RequestedReviewers) + len(found.RequestedTeams),
		UpdatedAt:          found.UpdatedAt,
	}, nil
}

// ListReviews returns reviews in submission order.
func (g *GitHub) ListReviews(ctx context.Context, repo Repo, number int) ([]Review, error) {
	q := url.Values{}
	q.Set("per_page", perPage)

	var raw []ghReview
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), number)
	if err := g.get(ctx, "provider.list_reviews", path, q, &raw); err != nil {
		return nil, err
	}

	reviews := make([]Review, len(raw))
	for i, r := range raw {
		reviews[i] = Review{Author: r.User.Login, State: r.State}
	}
	return reviews, nil
}

// ListCheckRuns returns the check runs for ref.
func (g *GitHub) ListCheckRuns(ctx context.Context, repo Repo, ref string) ([]CheckRun, error) {
	q := url.Values{}
	q.Set("per_page", perPage)

	var raw ghCheckRuns
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(ref))
	if err := g.get(ctx, "provider.list_check_runs", path, q, &raw); err != nil {
		return nil, err
	}

	runs := make([]CheckRun, len(raw.CheckRuns))
	for i, r := range raw.CheckRuns {
		runs[i] = CheckRun{Name: r.Name, Status: r.Status, Conclusion: r.Conclusion}
	}
	return runs, nil
}

// get issues a GET and decodes a 2xx JSON body into out. Non-2xx statuses
// become Provider errors; transport failures become Connectivity errors.
func (g *GitHub) get(ctx context.Context, op, path string, query url.Values, out any) error {
	log := logger.WithComponent("provider")

	u := g.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	req.Header.Set("User-Agent", "taskspace")
	if token := g.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Warn("request failed", "op", op, "path", path, "error", err)
		return apperr.NewConnectivity(op, err)
	}
	defer resp.Body.Close()
	log.Debug("request complete", "op", op, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.NewProvider(op, resp.StatusCode, providerMessage(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.NewProvider(op, resp.StatusCode, "invalid response body: "+err.Error())
	}
	return nil
}

// providerMessage extracts GitHub's "message" field, falling back to the
// raw body.
func providerMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return string(body)
}
