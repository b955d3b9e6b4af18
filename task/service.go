// Package task owns the task lifecycle: it creates and destroys worktrees
// through the worktree manager and keeps the task file in step with the
// filesystem.
package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/paths"
	"github.com/zhubert/taskspace/registry"
	"github.com/zhubert/taskspace/worktree"
)

// EnvTaskOverride names the environment variable that pins the current task.
const EnvTaskOverride = "TASKSPACE_TASK"

// Worktrees is the part of the worktree manager the orchestrator uses.
type Worktrees interface {
	Create(ctx context.Context, repoPath, worktreePath, branch, baseBranch string) error
	Remove(ctx context.Context, repoPath, worktreePath string) error
	RunSetup(ctx context.Context, setup *registry.Setup, env worktree.SetupEnv) []worktree.SetupResult
}

// ContextGenerator renders a task's context snapshot. Implementations must
// keep any text the user appended to the previous snapshot.
type ContextGenerator interface {
	Regenerate(t Task, workspaceDir string) error
}

// Options configures a Service.
type Options struct {
	Store        *Store
	Registry     registry.Registry
	Worktrees    Worktrees
	Context      ContextGenerator // optional
	WorkspaceDir string
	BranchPrefix string
	Now          func() time.Time
}

// Service is the task orchestrator.
type Service struct {
	store        *Store
	registry     registry.Registry
	worktrees    Worktrees
	context      ContextGenerator
	workspaceDir string
	branchPrefix string
	now          func() time.Time
}

// NewService returns a Service built from opts.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:        opts.Store,
		registry:     opts.Registry,
		worktrees:    opts.Worktrees,
		context:      opts.Context,
		workspaceDir: paths.Expand(opts.WorkspaceDir),
		branchPrefix: opts.BranchPrefix,
		now:          now,
	}
}

// WorkspaceDir returns the expanded workspace root.
func (s *Service) WorkspaceDir() string {
	return s.workspaceDir
}

// Store returns the task store.
func (s *Service) Store() *Store {
	return s.store
}

// CreateOptions describes a new task.
type CreateOptions struct {
	ID       string
	Title    string
	Tickets  []string
	Projects []AddProjectOptions // created all-or-nothing
}

// AddProjectOptions describes one project binding. Empty Branch defaults to
// the branch prefix plus the task id; empty BaseBranch defaults to the
// registry's default base branch.
type AddProjectOptions struct {
	Project    string
	Branch     string
	BaseBranch string
}

// AddProjectResult is the outcome of binding one project.
type AddProjectResult struct {
	Project Project
	Setup   []worktree.SetupResult
}

// Warnings returns setup warnings for display.
func (r AddProjectResult) Warnings() []string {
	return worktree.Warnings(r.Setup)
}

// CreateResult is the outcome of CreateTask.
type CreateResult struct {
	Task     Task
	Projects []AddProjectResult
}

// ProjectFailure records a best-effort cleanup step that failed.
type ProjectFailure struct {
	Project string
	Err     error
}

// CleanupResult reports what archive or delete removed.
type CleanupResult struct {
	Task       Task
	Removed    []string
	Failures   []ProjectFailure
	DirRemoved bool
	DirErr     error
}

// ValidateID checks that id can name a task and its workspace directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return apperr.NewValidation("task.validate", "task id is required")
	case id == "." || id == "..":
		return apperr.NewValidation("task.validate", "invalid task id %q", id)
	case strings.ContainsAny(id, `/\`):
		return apperr.NewValidation("task.validate", "task id %q must not contain path separators", id)
	case strings.TrimSpace(id) != id:
		return apperr.NewValidation("task.validate", "task id %q has surrounding whitespace", id)
	}
	return nil
}

// CreateTask records a new task and optionally binds initial projects. If
// any project fails, the worktrees created so far are removed and nothing
// is written.
func (s *Service) CreateTask(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	log := logger.WithTask(opts.ID).With("component", "task")

	if err := ValidateID(opts.ID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil, apperr.NewValidation("task.create", "task title is required")
	}
	if err := s.ensureAbsent(opts.ID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, p := range opts.Projects {
		if seen[p.Project] {
			return nil, apperr.NewValidation("task.create", "project %q listed twice", p.Project)
		}
		seen[p.Project] = true
	}

	now := s.now()
	t := Task{
		ID:        opts.ID,
		Title:     title,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Tickets:   dedupe(opts.Tickets),
	}
	t.normalize()

	result := &CreateResult{}
	var created []Project
	rollback := func(cause error) {
		log.Warn("rolling back task creation", "error", cause, "created", len(created))
		for _, p := range created {
			if err := s.worktrees.Remove(ctx, p.RepoPath, WorktreePath(s.workspaceDir, t.ID, p.Name)); err != nil {
				log.Error("rollback failed to remove worktree", "project", p.Name, "error", err)
			}
		}
		if len(created) > 0 {
			s.removeTaskDir(t.ID)
		}
	}

	for _, po := range opts.Projects {
		res, err := s.bindProject(ctx, t.ID, po)
		if err != nil {
			rollback(err)
			return nil, err
		}
		created = append(created, res.Project)
		result.Projects = append(result.Projects, *res)
	}
	t.Projects = append(t.Projects, created...)

	err := s.store.Update(func(tasks *[]Task) error {
		if slices.ContainsFunc(*tasks, func(x Task) bool { return x.ID == t.ID }) {
			return duplicateID(t.ID)
		}
		*tasks = append(*tasks, t)
		return nil
	})
	if err != nil {
		rollback(err)
		return nil, err
	}

	log.Info("task created", "title", t.Title, "projects", len(t.Projects))
	s.regenerate(t)
	result.Task = t.Clone()
	return result, nil
}

func duplicateID(id string) error {
	return apperr.NewValidation("task.create", "task %q already exists", id).
		WithHint("pick another id or archive the existing task")
}

func (s *Service) ensureAbsent(id string) error {
	_, err := s.store.Get(id)
	switch {
	case err == nil:
		return duplicateID(id)
	case apperr.Is(err, apperr.NotFound):
		return nil
	default:
		return err
	}
}

// AddProject binds a registered project to an existing task. The record is
// written only after the worktree exists; if the write fails, the worktree
// is removed again.
func (s *Service) AddProject(ctx context.Context, taskID string, opts AddProjectOptions) (*AddProjectResult, error) {
	log := logger.WithTask(taskID).With("component", "task")

	t, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, apperr.NewValidation("task.add_project", "task %q is archived", taskID)
	}
	if p, _ := t.Project(opts.Project); p != nil {
		return nil, apperr.NewValidation("task.add_project", "project %q is already part of task %q", opts.Project, taskID)
	}

	res, err := s.bindProject(ctx, taskID, opts)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateTask(taskID, func(t *Task) error {
		if p, _ := t.Project(res.Project.Name); p != nil {
			return apperr.NewValidation("task.add_project", "project %q is already part of task %q", res.Project.Name, taskID)
		}
		t.Projects = append(t.Projects, res.Project)
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		log.Warn("recording project failed, removing worktree", "project", res.Project.Name, "error", err)
		if rmErr := s.worktrees.Remove(ctx, res.Project.RepoPath, WorktreePath(s.workspaceDir, taskID, res.Project.Name)); rmErr != nil {
			log.Error("failed to remove orphaned worktree", "project", res.Project.Name, "error", rmErr)
		}
		return nil, err
	}

	log.Info("project added", "project", res.Project.Name, "branch", res.Project.Branch, "warnings", len(res.Warnings()))
	s.regenerate(updated)
	return res, nil
}

// bindProject resolves a project, creates its worktree and runs setup.
// It never touches the store.
func (s *Service) bindProject(ctx context.Context, taskID string, opts AddProjectOptions) (*AddProjectResult, error) {
	if opts.Project == "" {
		return nil, apperr.NewValidation("task.add_project", "project name is required")
	}
	reg, err := s.registry.Lookup(opts.Project)
	if err != nil {
		return nil, err
	}

	branch := opts.Branch
	if branch == "" {
		branch = s.branchPrefix + taskID
	}
	base := opts.BaseBranch
	if base == "" {
		base = reg.DefaultBaseBranch
	}
	if base == "" {
		base = "main"
	}

	wtPath := WorktreePath(s.workspaceDir, taskID, reg.Name)
	if err := s.worktrees.Create(ctx, reg.Path, wtPath, branch, base); err != nil {
		return nil, err
	}

	setup := s.worktrees.RunSetup(ctx, reg.Setup, worktree.SetupEnv{
		TaskID:       taskID,
		Project:      reg.Name,
		Branch:       branch,
		BaseBranch:   base,
		RepoPath:     reg.Path,
		WorktreePath: wtPath,
	})

	return &AddProjectResult{
		Project: Project{
			Name:       reg.Name,
			RepoPath:   reg.Path,
			Branch:     branch,
			BaseBranch: base,
		},
		Setup: setup,
	}, nil
}

// RemoveProject removes a project's worktree and then its record. If the
// worktree cannot be removed the record is left as it was.
func (s *Service) RemoveProject(ctx context.Context, taskID, name string) error {
	log := logger.WithTask(taskID).With("component", "task")

	t, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	p, _ := t.Project(name)
	if p == nil {
		return apperr.NewNotFound("task.remove_project", "project", name)
	}

	if err := s.worktrees.Remove(ctx, p.RepoPath, WorktreePath(s.workspaceDir, taskID, name)); err != nil {
		log.Error("worktree removal failed, keeping record", "project", name, "error", err)
		return err
	}

	updated, err := s.store.UpdateTask(taskID, func(t *Task) error {
		if _, idx := t.Project(name); idx >= 0 {
			t.Projects = slices.Delete(t.Projects, idx, idx+1)
		}
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("project removed", "project", name)
	s.regenerate(updated)
	return nil
}

// ArchiveTask marks a task archived. With cleanup, every worktree is
// removed best-effort and the task directory is deleted; the task is
// archived even if some removals fail.
func (s *Service) ArchiveTask(ctx context.Context, taskID string, cleanup bool) (*CleanupResult, error) {
	log := logger.WithTask(taskID).With("component", "task")

	t, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, apperr.NewValidation("task.archive", "task %q is already archived", taskID)
	}

	res := &CleanupResult{}
	if cleanup {
		s.cleanupWorktrees(ctx, t, res)
	}

	updated, err := s.store.UpdateTask(taskID, func(t *Task) error {
		t.Status = StatusArchived
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Task = updated

	log.Info("task archived", "cleanup", cleanup, "removed", len(res.Removed), "failures", len(res.Failures))
	if !cleanup {
		s.regenerate(updated)
	}
	return res, nil
}

// DeleteTask removes every worktree, the task directory and the record.
// It cannot be undone.
func (s *Service) DeleteTask(ctx context.Context, taskID string) (*CleanupResult, error) {
	log := logger.WithTask(taskID).With("component", "task")

	t, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}

	res := &CleanupResult{Task: t}
	s.cleanupWorktrees(ctx, t, res)

	err = s.store.Update(func(tasks *[]Task) error {
		*tasks = slices.DeleteFunc(*tasks, func(x Task) bool { return x.ID == taskID })
		return nil
	})
	if err != nil {
		return res, err
	}

	log.Info("task deleted", "removed", len(res.Removed), "failures", len(res.Failures))
	return res, nil
}

func (s *Service) cleanupWorktrees(ctx context.Context, t Task, res *CleanupResult) {
	log := logger.WithTask(t.ID).With("component", "task")
	for _, p := range t.Projects {
		if err := s.worktrees.Remove(ctx, p.RepoPath, WorktreePath(s.workspaceDir, t.ID, p.Name)); err != nil {
			log.Warn("worktree removal failed (best-effort)", "project", p.Name, "error", err)
			res.Failures = append(res.Failures, ProjectFailure{Project: p.Name, Err: err})
			continue
		}
		res.Removed = append(res.Removed, p.Name)
	}
	if err := s.removeTaskDir(t.ID); err != nil {
		res.DirErr = err
	} else {
		res.DirRemoved = true
	}
}

func (s *Service) removeTaskDir(taskID string) error {
	dir := TaskDir(s.workspaceDir, taskID)
	if err := os.RemoveAll(dir); err != nil {
		logger.WithTask(taskID).Warn("failed to remove task directory", "dir", dir, "error", err)
		return apperr.NewFileSystem("task.cleanup", "remove "+dir, err)
	}
	return nil
}

// DetectCurrentTask resolves the task a shell is working in: the
// TASKSPACE_TASK override first, then the first path segment of cwd below
// the workspace root.
func (s *Service) DetectCurrentTask(cwd string) (string, error) {
	id := strings.TrimSpace(os.Getenv(EnvTaskOverride))
	if id == "" {
		var ok bool
		id, ok = TaskIDFromPath(s.workspaceDir, cwd)
		if !ok {
			return "", apperr.NewNotFound("task.detect", "task for directory", cwd).
				WithHint("cd into a task worktree or set " + EnvTaskOverride)
		}
	}
	if _, err := s.store.Get(id); err != nil {
		return "", err
	}
	return id, nil
}

// TaskIDFromPath returns the first segment of dir below workspaceDir.
func TaskIDFromPath(workspaceDir, dir string) (string, bool) {
	root := resolvePath(paths.Expand(workspaceDir))
	dir = resolvePath(dir)
	if root == "" || dir == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first, first != ""
}

// resolvePath cleans p and resolves symlinks when it exists, so that
// /tmp and /private/tmp style aliases compare equal.
func resolvePath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

// GetTask returns a task by id.
func (s *Service) GetTask(id string) (Task, error) {
	return s.store.Get(id)
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(status Status) ([]Task, error) {
	tasks, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return tasks, nil
	}
	return slices.DeleteFunc(tasks, func(t Task) bool { return t.Status != status }), nil
}

// SetNotes replaces a task's free-text notes.
func (s *Service) SetNotes(taskID, notes string) error {
	return s.mutate(taskID, func(t *Task) error {
		t.Notes = notes
		return nil
	})
}

// AddTicket attaches an external ticket reference.
func (s *Service) AddTicket(taskID, ticket string) error {
	ticket = strings.TrimSpace(ticket)
	if ticket == "" {
		return apperr.NewValidation("task.add_ticket", "ticket reference is required")
	}
	return s.mutate(taskID, func(t *Task) error {
		if slices.Contains(t.Tickets, ticket) {
			return apperr.NewValidation("task.add_ticket", "ticket %q already attached", ticket)
		}
		t.Tickets = append(t.Tickets, ticket)
		return nil
	})
}

// AddLink appends a link and returns it.
func (s *Service) AddLink(taskID, title, url string) (Link, error) {
	if strings.TrimSpace(url) == "" {
		return Link{}, apperr.NewValidation("task.add_link", "link url is required")
	}
	if title == "" {
		title = url
	}
	link := Link{ID: uuid.New().String(), Title: title, URL: url, AddedAt: s.now()}
	err := s.mutate(taskID, func(t *Task) error {
		t.Links = append(t.Links, link)
		return nil
	})
	return link, err
}

// RemoveLink deletes the link at index (zero-based).
func (s *Service) RemoveLink(taskID string, index int) error {
	return s.mutate(taskID, func(t *Task) error {
		if index < 0 || index >= len(t.Links) {
			return apperr.NewValidation("task.remove_link", "invalid link index %d (task has %d links)", index, len(t.Links))
		}
		t.Links = slices.Delete(t.Links, index, index+1)
		return nil
	})
}

func (s *Service) mutate(taskID string, fn func(t *Task) error) error {
	updated, err := s.store.UpdateTask(taskID, func(t *Task) error {
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return err
	}
	s.regenerate(updated)
	return nil
}

// regenerate refreshes the context snapshot. A failure is logged and does
// not undo the operation that triggered it.
func (s *Service) regenerate(t Task) {
	if s.context == nil || !t.IsActive() {
		return
	}
	if err := s.context.Regenerate(t, s.workspaceDir); err != nil {
		logger.WithTask(t.ID).Warn("context snapshot regeneration failed", "error", err)
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// IsDuplicate reports whether err rejected a duplicate id or project.
func IsDuplicate(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.Validation && strings.Contains(e.Message, "already")
}
