// Package reconcile polls the provider for pull request, review and CI state
// of every active task and folds the changes into the task store.
package reconcile

import "github.com/zhubert/taskspace/task"

// Changes is the result of comparing two PR snapshots.
type Changes struct {
	Discovered    bool
	ReviewChanged bool
	CIChanged     bool
	StateChanged  bool // open/closed/merged
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.Discovered || c.ReviewChanged || c.CIChanged || c.StateChanged
}

// Diff compares the stored snapshot with a freshly fetched one. Field
// changes are only evaluated when next is non-nil; a pull request that
// disappears is not a change.
func Diff(prev, next *task.PRStatus) Changes {
	switch {
	case next == nil:
		return Changes{}
	case prev == nil:
		return Changes{Discovered: true}
	}
	return Changes{
		ReviewChanged: prev.ReviewStatus != next.ReviewStatus,
		CIChanged:     prev.CIStatus != next.CIStatus,
		StateChanged:  prev.Status != next.Status,
	}
}

// needsWrite reports whether next should replace prev in the store. It also
// catches number or URL changes that Diff does not report.
func needsWrite(prev, next *task.PRStatus) bool {
	if next == nil {
		return false
	}
	return prev == nil || *prev != *next
}
