package task

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/zhubert/taskspace/paths"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// PRState is the state of a pull request on the provider.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// Terminal reports whether the pull request can no longer change state
// through review or CI.
func (s PRState) Terminal() bool {
	return s == PRClosed || s == PRMerged
}

// ReviewStatus summarizes the reviews on a pull request.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewNone             ReviewStatus = "none"
)

// CIStatus summarizes the check runs on a pull request's head commit.
type CIStatus string

const (
	CIPending CIStatus = "pending"
	CIPassed  CIStatus = "passed"
	CIFailed  CIStatus = "failed"
	CINone    CIStatus = "none"
)

// PRStatus is the last observed provider state for a project's branch.
type PRStatus struct {
	Number       int          `json:"number"`
	URL          string       `json:"url"`
	Status       PRState      `json:"status"`
	ReviewStatus ReviewStatus `json:"review_status"`
	CIStatus     CIStatus     `json:"ci_status"`
}

// Project binds one registered repository to a task through a worktree.
// The worktree path is derived, never stored; see WorktreePath.
type Project struct {
	Name       string    `json:"name"`
	RepoPath   string    `json:"repo_path"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"base_branch"`
	PR         *PRStatus `json:"pr"`
}

// Link is a URL attached to a task.
type Link struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}

// Task is a unit of cross-repository work.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Projects  []Project `json:"projects"`
	Links     []Link    `json:"links"`
	Notes     string    `json:"notes"`
	Tickets   []string  `json:"tickets"`
}

// Project returns the project named name and its index, or nil and -1.
func (t *Task) Project(name string) (*Project, int) {
	idx := slices.IndexFunc(t.Projects, func(p Project) bool { return p.Name == name })
	if idx < 0 {
		return nil, -1
	}
	return &t.Projects[idx], idx
}

// IsActive reports whether the task is still being worked on.
func (t *Task) IsActive() bool {
	return t.Status == StatusActive
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.Projects = make([]Project, len(t.Projects))
	for i, p := range t.Projects {
		if p.PR != nil {
			pr := *p.PR
			p.PR = &pr
		}
		out.Projects[i] = p
	}
	out.Links = slices.Clone(t.Links)
	out.Tickets = slices.Clone(t.Tickets)
	return out
}

// normalize replaces nil slices so the store file always carries arrays.
func (t *Task) normalize() {
	if t.Projects == nil {
		t.Projects = []Project{}
	}
	if t.Links == nil {
		t.Links = []Link{}
	}
	if t.Tickets == nil {
		t.Tickets = []string{}
	}
}

// TaskDir returns the directory holding all worktrees of a task.
func TaskDir(workspaceDir, taskID string) string {
	return filepath.Join(paths.Expand(workspaceDir), taskID)
}

// WorktreePath returns where project's worktree lives for a task.
func WorktreePath(workspaceDir, taskID, project string) string {
	return filepath.Join(TaskDir(workspaceDir, taskID), project)
}
