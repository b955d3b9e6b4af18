package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultCommandTimeout bounds a single post-create setup command.
const DefaultCommandTimeout = 120 * time.Second

// CommandResult captures the outcome of one shell command.
type CommandResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      error // start failure, timeout, or non-zero exit
}

// OK reports whether the command ran and exited zero.
func (r CommandResult) OK() bool {
	return r.Err == nil
}

// CommandRunner runs user-supplied shell commands under a bounded timeout.
// It is the only place worktree setup touches a shell.
type CommandRunner interface {
	RunShell(ctx context.Context, dir, command string, env []string) CommandResult
}

// ShellRunner runs commands with `sh -c`.
type ShellRunner struct {
	Timeout time.Duration
}

// NewShellRunner returns a ShellRunner; a non-positive timeout selects
// DefaultCommandTimeout.
func NewShellRunner(timeout time.Duration) *ShellRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ShellRunner{Timeout: timeout}
}

func (r *ShellRunner) RunShell(ctx context.Context, dir, command string, env []string) CommandResult {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	// Grandchildren holding the pipes open must not outlive the timeout.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := CommandResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Err:      err,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = context.DeadlineExceeded
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}
	return res
}

// MockRunner records shell commands and returns canned results keyed by
// the exact command string. Unknown commands succeed.
type MockRunner struct {
	mu      sync.Mutex
	results map[string]CommandResult
	calls   []string
}

// NewMockRunner creates an empty MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{results: make(map[string]CommandResult)}
}

// SetResult registers the result returned for command.
func (m *MockRunner) SetResult(command string, res CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[command] = res
}

// Calls returns the commands run so far, in order.
func (m *MockRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockRunner) RunShell(ctx context.Context, dir, command string, env []string) CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, command)
	if res, ok := m.results[command]; ok {
		res.Command = command
		return res
	}
	return CommandResult{Command: command}
}

var _ CommandRunner = (*ShellRunner)(nil)
var _ CommandRunner = (*MockRunner)(nil)
