package provider

import (
	"testing"

	"github.com/zhubert/taskspace/task"
)

func TestReviewStatus(t *testing.T) {
	tests := []struct {
		name      string
		reviews   []Review
		requested int
		want      task.ReviewStatus
	}{
		{"nothing", nil, 0, task.ReviewNone},
		{"requested only", nil, 1, task.ReviewPending},
		{"comments only", []Review{{"a", "COMMENTED"}}, 0, task.ReviewPending},
		{"approved", []Review{{"a", "APPROVED"}}, 0, task.ReviewApproved},
		{"changes win", []Review{{"a", "APPROVED"}, {"b", "CHANGES_REQUESTED"}}, 0, task.ReviewChangesRequested},
		{"latest per author", []Review{{"a", "CHANGES_REQUESTED"}, {"a", "APPROVED"}}, 0, task.ReviewApproved},
		{"comment does not reset", []Review{{"a", "APPROVED"}, {"a", "COMMENTED"}}, 0, task.ReviewApproved},
		{"dismissed", []Review{{"a", "CHANGES_REQUESTED"}, {"a", "DISMISSED"}}, 0, task.ReviewPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReviewStatus(tt.reviews, tt.requested); got != tt.want {
				t.Errorf("ReviewStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCIStatus(t *testing.T) {
	done := func(c string) CheckRun { return CheckRun{Status: "completed", Conclusion: c} }
	running := CheckRun{Status: "in_progress"}

	tests := []struct {
		name string
		runs []CheckRun
		want task.CIStatus
	}{
		{"no runs", nil, task.CINone},
		{"all success", []CheckRun{done("success"), done("skipped"), done("neutral")}, task.CIPassed},
		{"running", []CheckRun{done("success"), running}, task.CIPending},
		{"failure wins over running", []CheckRun{running, done("failure")}, task.CIFailed},
		{"cancelled", []CheckRun{done("cancelled")}, task.CIFailed},
		{"timed out", []CheckRun{done("timed_out")}, task.CIFailed},
		{"queued", []CheckRun{{Status: "queued"}}, task.CIPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CIStatus(tt.runs); got != tt.want {
				t.Errorf("CIStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	if Status(nil, nil, nil) != nil {
		t.Error("no PR maps to nil")
	}
	got := Status(&PullRequest{Number: 4, URL: "u", State: "closed"}, nil, nil)
	want := task.PRStatus{Number: 4, URL: "u", Status: task.PRClosed, ReviewStatus: task.ReviewNone, CIStatus: task.CINone}
	if got == nil || *got != want {
		t.Errorf("Status = %+v, want %+v", got, want)
	}
}
