// Package exec is the seam between taskspace and the git and gh binaries.
// Production code runs them through RealExecutor; tests inject a
// MockExecutor with canned responses and inspect the calls it recorded.
package exec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/zhubert/taskspace/logger"
)

// CommandExecutor runs a program in a directory.
type CommandExecutor interface {
	// Run returns stdout and stderr separately.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)

	// Output returns stdout only.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput returns stdout and stderr interleaved, for error reports.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// nonInteractiveEnv keeps git and gh from blocking on a credential or pager
// prompt when taskspace runs them unattended.
var nonInteractiveEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GH_PROMPT_DISABLED=1",
	"GH_NO_UPDATE_NOTIFIER=1",
	"GIT_PAGER=cat",
}

// RealExecutor runs commands with os/exec and logs each one with its
// duration at debug level.
type RealExecutor struct {
	// Env is appended to the inherited environment.
	Env []string
}

// NewRealExecutor returns an executor that never prompts.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{Env: slices.Clone(nonInteractiveEnv)}
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd
}

func (e *RealExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	cmd := e.command(ctx, dir, name, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	trace(dir, name, args, start, err)
	return stdout.Bytes(), stderr.Bytes(), err
}

func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := e.command(ctx, dir, name, args).Output()
	trace(dir, name, args, start, err)
	return out, err
}

func (e *RealExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := e.command(ctx, dir, name, args).CombinedOutput()
	trace(dir, name, args, start, err)
	return out, err
}

func trace(dir, name string, args []string, start time.Time, err error) {
	log := logger.WithComponent("exec")
	attrs := []any{"cmd", name, "args", args, "dir", dir, "duration", time.Since(start)}
	if err != nil {
		log.Debug("command failed", append(attrs, "error", err)...)
		return
	}
	log.Debug("command ok", attrs...)
}

// MockCall is one recorded invocation.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

// hasPrefix reports whether c runs name with args starting with prefix.
func (c MockCall) hasPrefix(name string, prefix []string) bool {
	return c.Name == name && len(c.Args) >= len(prefix) && slices.Equal(c.Args[:len(prefix)], prefix)
}

// MockResponse is what a matched call returns.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

type mockRule struct {
	match func(MockCall) bool
	resp  MockResponse
}

// MockExecutor answers calls from rules checked in registration order.
// A call no rule matches goes to the fallback, or succeeds with no output.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []mockRule
	calls    []MockCall
	fallback CommandExecutor
}

// NewMockExecutor returns a MockExecutor; fallback may be nil.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

func (e *MockExecutor) addRule(match func(MockCall) bool, resp MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, mockRule{match: match, resp: resp})
}

// AddExactMatch answers name with exactly args.
func (e *MockExecutor) AddExactMatch(name string, args []string, resp MockResponse) {
	e.addRule(func(c MockCall) bool {
		return c.Name == name && slices.Equal(c.Args, args)
	}, resp)
}

// AddPrefixMatch answers name with args beginning with prefixArgs. A nil
// prefix matches every invocation of name.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, resp MockResponse) {
	e.addRule(func(c MockCall) bool { return c.hasPrefix(name, prefixArgs) }, resp)
}

// AddArgMatch answers name with args beginning with prefixArgs and
// containing want after the prefix, e.g. a specific worktree path.
func (e *MockExecutor) AddArgMatch(name string, prefixArgs []string, want string, resp MockResponse) {
	e.addRule(func(c MockCall) bool {
		return c.hasPrefix(name, prefixArgs) && slices.Contains(c.Args[len(prefixArgs):], want)
	}, resp)
}

// GetCalls returns a copy of every recorded call.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

// CallsWithPrefix returns the recorded calls of name whose args start with
// prefixArgs.
func (e *MockExecutor) CallsWithPrefix(name string, prefixArgs ...string) []MockCall {
	var out []MockCall
	for _, c := range e.GetCalls() {
		if c.hasPrefix(name, prefixArgs) {
			out = append(out, c)
		}
	}
	return out
}

// ClearCalls forgets the recorded calls; rules are kept.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// respond records call and returns the first matching rule's response.
// ok is false when no rule matched.
func (e *MockExecutor) respond(call MockCall) (resp MockResponse, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	for _, r := range e.rules {
		if r.match(call) {
			return r.resp, true
		}
	}
	return MockResponse{}, false
}

func (e *MockExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	resp, ok := e.respond(MockCall{Dir: dir, Name: name, Args: args})
	if !ok && e.fallback != nil {
		return e.fallback.Run(ctx, dir, name, args...)
	}
	return resp.Stdout, resp.Stderr, resp.Err
}

func (e *MockExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	resp, ok := e.respond(MockCall{Dir: dir, Name: name, Args: args})
	if !ok && e.fallback != nil {
		return e.fallback.Output(ctx, dir, name, args...)
	}
	return resp.Stdout, resp.Err
}

func (e *MockExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	resp, ok := e.respond(MockCall{Dir: dir, Name: name, Args: args})
	if !ok && e.fallback != nil {
		return e.fallback.CombinedOutput(ctx, dir, name, args...)
	}
	if resp.Stdout == nil && resp.Stderr == nil {
		return nil, resp.Err
	}
	return append(slices.Clone(resp.Stdout), resp.Stderr...), resp.Err
}

var (
	_ CommandExecutor = (*RealExecutor)(nil)
	_ CommandExecutor = (*MockExecutor)(nil)
)
