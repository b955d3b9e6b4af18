package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/notify"
	"github.com/zhubert/taskspace/provider"
	"github.com/zhubert/taskspace/task"
)

// ErrCycleInFlight is returned when a cycle is requested while another one
// is still running.
var ErrCycleInFlight = errors.New("reconcile: cycle already in flight")

// Provider is the part of the code host client the engine uses.
type Provider interface {
	Configured(ctx context.Context) bool
	FindPullRequest(ctx context.Context, repo provider.Repo, branch string) (*provider.PullRequest, error)
	ListReviews(ctx context.Context, repo provider.Repo, number int) ([]provider.Review, error)
	ListCheckRuns(ctx context.Context, repo provider.Repo, ref string) ([]provider.CheckRun, error)
}

// RepoResolver maps a task project to its provider repository.
type RepoResolver interface {
	Resolve(ctx context.Context, name, repoPath string) (provider.Repo, error)
}

// Gates selects which review and CI transitions notify. Discovery of a new
// pull request always notifies.
type Gates struct {
	OnApproved         bool
	OnChangesRequested bool
	OnCIFailed         bool
	OnCIPassed         bool
}

// Options configures an Engine.
type Options struct {
	Store    *task.Store
	Provider Provider
	Resolver RepoResolver
	Notifier notify.Notifier // optional
	Gates    Gates

	// IncludeClosed keeps polling merged and closed pull requests.
	IncludeClosed bool

	// OnTaskUpdated runs after a task's new PR state is persisted.
	OnTaskUpdated func(task.Task)

	Now func() time.Time
}

// Engine runs reconciliation cycles. Cycles never overlap.
type Engine struct {
	store         *task.Store
	provider      Provider
	resolver      RepoResolver
	notifier      notify.Notifier
	gates         Gates
	includeClosed bool
	onTaskUpdated func(task.Task)
	now           func() time.Time

	running     atomic.Bool
	lastPersist atomic.Int64 // unix nanos of the engine's own last store write
	wg          sync.WaitGroup
}

// New returns an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:         opts.Store,
		provider:      opts.Provider,
		resolver:      opts.Resolver,
		notifier:      opts.Notifier,
		gates:         opts.Gates,
		includeClosed: opts.IncludeClosed,
		onTaskUpdated: opts.OnTaskUpdated,
		now:           opts.Now,
	}
	if e.notifier == nil {
		e.notifier = notify.NewDispatcher()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ProjectResult is the outcome for one task project.
type ProjectResult struct {
	TaskID  string
	Project string
	Status  *task.PRStatus
	Changes Changes
	Skipped bool // terminal pull request not polled
	Err     error
}

// Report summarizes a cycle.
type Report struct {
	CycleID       string
	Skipped       bool
	SkipReason    string
	Tasks         int
	Results       []ProjectResult
	Updated       []string // ids of tasks written back
	Notifications int
	Duration      time.Duration
}

type taskUpdate struct {
	task    task.Task
	updates map[string]*task.PRStatus
	notes   []notify.Notification
}

// Failures returns the results that carry an error.
func (r *Report) Failures() []ProjectResult {
	var out []ProjectResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// RunCycle polls every project of every active task once. An unconfigured
// or unauthenticated provider turns the cycle into a no-op. A failure for
// one project is recorded and the cycle moves on.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer e.running.Store(false)

	start := time.Now()
	report := &Report{CycleID: uuid.NewString()}
	log := logger.WithComponent("reconcile").With("cycle", report.CycleID)
	defer func() { report.Duration = time.Since(start) }()

	if e.provider == nil || !e.provider.Configured(ctx) {
		report.Skipped = true
		report.SkipReason = "provider not configured"
		log.Info("cycle skipped", "reason", report.SkipReason)
		return report, nil
	}

	tasks, err := e.store.List()
	if err != nil {
		return report, err
	}

	// Nothing is sent or written until every task has been fetched, so an
	// authentication failure part way through leaves no trace.
	var pending []taskUpdate
	for _, t := range tasks {
		if !t.IsActive() {
			continue
		}
		report.Tasks++

		tu := taskUpdate{task: t, updates: make(map[string]*task.PRStatus)}
		for _, p := range t.Projects {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			res := ProjectResult{TaskID: t.ID, Project: p.Name}
			if p.PR != nil && p.PR.Status.Terminal() && !e.includeClosed {
				res.Skipped = true
				res.Status = p.PR
				report.Results = append(report.Results, res)
				continue
			}

			next, err := e.fetch(ctx, p)
			if apperr.IsProviderAuth(err) {
				report.Skipped = true
				report.SkipReason = "provider authentication failed"
				report.Results = nil
				log.Warn("cycle abandoned", "reason", report.SkipReason, "error", err)
				return report, nil
			}
			if err != nil {
				res.Err = err
				report.Results = append(report.Results, res)
				log.Warn("project fetch failed", "task", t.ID, "project", p.Name, "kind", apperr.KindOf(err), "error", err)
				continue
			}

			res.Status = next
			res.Changes = Diff(p.PR, next)
			report.Results = append(report.Results, res)

			if needsWrite(p.PR, next) {
				tu.updates[p.Name] = next
			}
			tu.notes = append(tu.notes, e.notifications(t, p, res.Changes, next)...)
		}
		if len(tu.updates) > 0 || len(tu.notes) > 0 {
			pending = append(pending, tu)
		}
	}

	// A task's notifications go out only once its new state is on disk;
	// otherwise the next cycle would diff against the old state and send
	// them again.
	for _, tu := range pending {
		if len(tu.updates) > 0 {
			if err := e.persist(tu.task.ID, tu.updates); err != nil {
				log.Error("persist failed, notifications held back", "task", tu.task.ID, "pending", len(tu.notes), "error", err)
				report.Results = append(report.Results, ProjectResult{TaskID: tu.task.ID, Err: err})
				continue
			}
			report.Updated = append(report.Updated, tu.task.ID)
		}
		report.Notifications += e.send(ctx, tu.task.ID, tu.notes)
	}

	log.Info("cycle complete",
		"tasks", report.Tasks,
		"projects", len(report.Results),
		"updated", len(report.Updated),
		"failures", len(report.Failures()),
		"notifications", report.Notifications,
		"duration", time.Since(start))
	return report, nil
}

// fetch finds the pull request for p's branch and, when there is one,
// fetches reviews and check runs concurrently.
func (e *Engine) fetch(ctx context.Context, p task.Project) (*task.PRStatus, error) {
	repo, err := e.resolver.Resolve(ctx, p.Name, p.RepoPath)
	if err != nil {
		return nil, err
	}

	pr, err := e.provider.FindPullRequest(ctx, repo, p.Branch)
	if err != nil || pr == nil {
		return nil, err
	}

	ref := pr.HeadSHA
	if ref == "" {
		ref = p.Branch
	}

	var (
		reviews []provider.Review
		runs    []provider.CheckRun
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reviews, err = e.provider.ListReviews(gctx, repo, pr.Number)
		return err
	})
	g.Go(func() error {
		var err error
		runs, err = e.provider.ListCheckRuns(gctx, repo, ref)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return provider.Status(pr, reviews, runs), nil
}

// notifications builds the notifications for one project's changes.
func (e *Engine) notifications(t task.Task, p task.Project, c Changes, next *task.PRStatus) []notify.Notification {
	if next == nil {
		return nil
	}

	var out []notify.Notification
	base := notify.Notification{TaskID: t.ID, URL: next.URL}
	label := fmt.Sprintf("%s #%d", p.Name, next.Number)

	if c.Discovered {
		n := base
		n.Title, n.Level, n.Source = "Pull request found", notify.LevelInfo, notify.SourcePRDiscovered
		n.Message = fmt.Sprintf("%s (%s) for task %s", label, next.Status, t.ID)
		out = append(out, n)
	}
	if c.ReviewChanged {
		switch {
		case next.ReviewStatus == task.ReviewApproved && e.gates.OnApproved:
			n := base
			n.Title, n.Level, n.Source = "Pull request approved", notify.LevelSuccess, notify.SourceReviewApproved
			n.Message = label + " was approved"
			out = append(out, n)
		case next.ReviewStatus == task.ReviewChangesRequested && e.gates.OnChangesRequested:
			n := base
			n.Title, n.Level, n.Source = "Changes requested", notify.LevelWarning, notify.SourceChangesRequested
			n.Message = "A reviewer requested changes on " + label
			out = append(out, n)
		}
	}
	if c.CIChanged {
		switch {
		case next.CIStatus == task.CIFailed && e.gates.OnCIFailed:
			n := base
			n.Title, n.Level, n.Source = "CI failed", notify.LevelError, notify.SourceCIFailed
			n.Message = "Checks failed on " + label
			out = append(out, n)
		case next.CIStatus == task.CIPassed && e.gates.OnCIPassed:
			n := base
			n.Title, n.Level, n.Source = "CI passed", notify.LevelSuccess, notify.SourceCIPassed
			n.Message = "Checks passed on " + label
			out = append(out, n)
		}
	}

	return out
}

// send delivers notifications and returns how many were attempted.
// Delivery failures are logged only.
func (e *Engine) send(ctx context.Context, taskID string, notes []notify.Notification) int {
	for _, n := range notes {
		if err := e.notifier.Send(ctx, n); err != nil {
			logger.WithTask(taskID).Warn("notification failed", "component", "reconcile", "source", n.Source, "error", err)
		}
	}
	return len(notes)
}

// persist re-reads the store under its lock and writes the new PR state
// into the task. Projects removed since the cycle read the store are left
// alone; a task deleted meanwhile is not an error.
func (e *Engine) persist(taskID string, updates map[string]*task.PRStatus) error {
	updated, err := e.store.UpdateTask(taskID, func(t *task.Task) error {
		for name, st := range updates {
			if p, _ := t.Project(name); p != nil {
				pr := *st
				p.PR = &pr
			}
		}
		t.UpdatedAt = e.now()
		return nil
	})
	if apperr.Is(err, apperr.NotFound) {
		logger.WithTask(taskID).Info("task vanished during cycle, dropping update", "component", "reconcile")
		return nil
	}
	if err != nil {
		return err
	}
	e.lastPersist.Store(time.Now().UnixNano())

	if e.onTaskUpdated != nil {
		e.onTaskUpdated(updated)
	}
	return nil
}

// trigger runs a cycle in the background; it is dropped if one is running.
func (e *Engine) trigger(ctx context.Context, why string) {
	log := logger.WithComponent("reconcile")
	if e.Running() {
		log.Debug("cycle already running, trigger skipped", "trigger", why)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, ErrCycleInFlight) {
				log.Debug("cycle already running, trigger skipped", "trigger", why)
				return
			}
			if ctx.Err() == nil {
				log.Error("cycle failed", "trigger", why, "error", err)
			}
		}
	}()
}

// Run runs a cycle immediately and then every interval until ctx is done.
// Ticks that arrive while a cycle is running are skipped.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return apperr.NewValidation("reconcile.run", "poll interval must be positive, got %s", interval)
	}
	defer e.wg.Wait()

	e.trigger(ctx, "start")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.trigger(ctx, "timer")
		}
	}
}
