package provider

import "github.com/zhubert/taskspace/task"

// PRState maps a pull request to its stored state.
func PRState(pr *PullRequest) task.PRState {
	switch {
	case pr.Merged:
		return task.PRMerged
	case pr.State == "closed":
		return task.PRClosed
	default:
		return task.PROpen
	}
}

// ReviewStatus derives a decision from each reviewer's latest actionable
// review. GitHub's own reviewDecision depends on branch protection, so it is
// not used. Any changes request wins over approvals.
func ReviewStatus(reviews []Review, requestedReviewers int) task.ReviewStatus {
	latest := make(map[string]string)
	for _, r := range reviews {
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED":
			latest[r.Author] = r.State
		case "DISMISSED":
			delete(latest, r.Author)
		}
	}

	approved := false
	for _, state := range latest {
		if state == "CHANGES_REQUESTED" {
			return task.ReviewChangesRequested
		}
		approved = true
	}
	switch {
	case approved:
		return task.ReviewApproved
	case len(reviews) > 0 || requestedReviewers > 0:
		return task.ReviewPending
	default:
		return task.ReviewNone
	}
}

// CIStatus folds check runs into a single status: any failure wins, then
// anything still running, then passed. No runs means none.
func CIStatus(runs []CheckRun) task.CIStatus {
	if len(runs) == 0 {
		return task.CINone
	}
	pending := false
	for _, r := range runs {
		if r.Status != "completed" {
			pending = true
			continue
		}
		switch r.Conclusion {
		case "failure", "timed_out", "cancelled", "action_required", "startup_failure":
			return task.CIFailed
		}
	}
	if pending {
		return task.CIPending
	}
	return task.CIPassed
}

// Status assembles a PRStatus from fetched provider state.
func Status(pr *PullRequest, reviews []Review, runs []CheckRun) *task.PRStatus {
	if pr == nil {
		return nil
	}
	return &task.PRStatus{
		Number:       pr.Number,
		URL:          pr.URL,
		Status:       PRState(pr),
		ReviewStatus: ReviewStatus(reviews, pr.RequestedReviewers),
		CIStatus:     CIStatus(runs),
	}
}
