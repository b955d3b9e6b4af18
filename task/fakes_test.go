package task

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/registry"
	"github.com/zhubert/taskspace/worktree"
)

// fakeWorktrees stands in for git: Create makes the directory and Remove
// deletes it.
type fakeWorktrees struct {
	mu         sync.Mutex
	creates    []string
	removes    []string
	setups     []worktree.SetupEnv
	failCreate map[string]bool
	failRemove map[string]bool
	warn       bool
}

func newFakeWorktrees() *fakeWorktrees {
	return &fakeWorktrees{failCreate: map[string]bool{}, failRemove: map[string]bool{}}
}

func (f *fakeWorktrees) Create(_ context.Context, _, path, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, path)
	if f.failCreate[path] {
		return apperr.NewExternalProcess("worktree.create", "git worktree add failed", []byte("fatal: boom"), errors.New("exit status 128"))
	}
	if _, err := os.Lstat(path); err == nil {
		return apperr.NewFileSystem("worktree.create", "worktree path already exists: "+path, nil)
	}
	return os.MkdirAll(path, 0755)
}

func (f *fakeWorktrees) Remove(_ context.Context, _, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, path)
	if f.failRemove[path] {
		return apperr.NewExternalProcess("worktree.remove", "git worktree remove failed", []byte("fatal: locked"), errors.New("exit status 128"))
	}
	return os.RemoveAll(path)
}

func (f *fakeWorktrees) RunSetup(_ context.Context, setup *registry.Setup, env worktree.SetupEnv) []worktree.SetupResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups = append(f.setups, env)
	if setup.IsEmpty() {
		return nil
	}
	var out []worktree.SetupResult
	for _, c := range setup.Commands {
		r := worktree.SetupResult{Kind: worktree.SetupCommand, Entry: c}
		if f.warn {
			r.Warning = "exit 1"
		}
		out = append(out, r)
	}
	return out
}

type fakeContext struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeContext) Regenerate(t Task, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, t.ID)
	return c.err
}
