// Package worktree wraps the git subprocess calls that create, remove and
// inspect worktrees, and applies per-project setup to a fresh worktree.
package worktree

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Branch   string // short name, empty when detached
	Head     string
	Bare     bool
	Detached bool
}

// Manager runs git on behalf of the orchestrator.
type Manager struct {
	executor exec.CommandExecutor
	runner   exec.CommandRunner
}

// NewManager returns a Manager using the real git binary and a shell
// runner with the default setup timeout.
func NewManager() *Manager {
	return &Manager{
		executor: exec.NewRealExecutor(),
		runner:   exec.NewShellRunner(exec.DefaultCommandTimeout),
	}
}

// NewManagerWith returns a Manager using the given executor and runner.
func NewManagerWith(executor exec.CommandExecutor, runner exec.CommandRunner) *Manager {
	if runner == nil {
		runner = exec.NewShellRunner(exec.DefaultCommandTimeout)
	}
	return &Manager{executor: executor, runner: runner}
}

// Create adds a worktree at worktreePath. An existing branch is checked out
// as-is; otherwise the branch is created from baseBranch. Create never
// reuses an existing path.
func (m *Manager) Create(ctx context.Context, repoPath, worktreePath, branch, baseBranch string) error {
	log := logger.WithComponent("worktree")
	start := time.Now()

	if _, err := os.Lstat(worktreePath); err == nil {
		return apperr.NewFileSystem("worktree.create", "path already exists: "+worktreePath, fs.ErrExist).
			WithHint("remove the directory or pick another project name")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return apperr.NewFileSystem("worktree.create", "stat "+worktreePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0755); err != nil {
		return apperr.NewFileSystem("worktree.create", "create parent directory", err)
	}

	args := []string{"worktree", "add"}
	if m.BranchExists(ctx, repoPath, branch) {
		log.Info("attaching worktree to existing branch", "branch", branch, "path", worktreePath)
		args = append(args, worktreePath, branch)
	} else {
		log.Info("creating worktree on new branch", "branch", branch, "base", baseBranch, "path", worktreePath)
		args = append(args, "-b", branch, worktreePath, baseBranch)
	}

	output, err := m.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		log.Error("failed to create worktree",
			"duration", time.Since(start),
			"output", string(output),
			"error", err)
		return apperr.NewExternalProcess("worktree.create", "git worktree add failed", output, err)
	}

	log.Debug("worktree created", "path", worktreePath, "duration", time.Since(start))
	return nil
}

// Remove force-removes the worktree at worktreePath. A follow-up prune is
// best-effort.
func (m *Manager) Remove(ctx context.Context, repoPath, worktreePath string) error {
	log := logger.WithComponent("worktree")
	log.Info("removing worktree", "repo", repoPath, "path", worktreePath)

	output, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", "--force", worktreePath)
	if err != nil {
		log.Error("failed to remove worktree", "output", string(output), "error", err)
		return apperr.NewExternalProcess("worktree.remove", "git worktree remove failed", output, err)
	}

	if output, err := m.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		log.Warn("worktree prune failed (best-effort)", "output", string(output), "error", err)
	}
	return nil
}

// BranchExists reports whether refs/heads/<branch> resolves in repoPath.
func (m *Manager) BranchExists(ctx context.Context, repoPath, branch string) bool {
	if branch == "" {
		return false
	}
	_, _, err := m.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// List returns the worktrees attached to repoPath.
func (m *Manager) List(ctx context.Context, repoPath string) ([]Worktree, error) {
	stdout, stderr, err := m.executor.Run(ctx, repoPath, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, apperr.NewExternalProcess("worktree.list", "git worktree list failed", stderr, err)
	}
	return ParsePorcelain(string(stdout)), nil
}

// PathInUse reports whether any worktree of repoPath lives at path.
func (m *Manager) PathInUse(ctx context.Context, repoPath, path string) (bool, error) {
	worktrees, err := m.List(ctx, repoPath)
	if err != nil {
		return false, err
	}
	want := filepath.Clean(path)
	for _, wt := range worktrees {
		if filepath.Clean(wt.Path) == want {
			return true, nil
		}
	}
	return false, nil
}

// ParsePorcelain splits `git worktree list --porcelain` output into one
// Worktree per blank-line-delimited block.
func ParsePorcelain(output string) []Worktree {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	var worktrees []Worktree
	for _, block := range strings.Split(output, "\n\n") {
		if wt, ok := parseBlock(block); ok {
			worktrees = append(worktrees, wt)
		}
	}
	return worktrees
}

func parseBlock(block string) (Worktree, bool) {
	var wt Worktree
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			wt.Path = value
		case "HEAD":
			wt.Head = value
		case "branch":
			wt.Branch = strings.TrimPrefix(value, "refs/heads/")
		case "bare":
			wt.Bare = true
		case "detached":
			wt.Detached = true
		}
	}
	return wt, wt.Path != ""
}
