package exec

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRealExecutor_Run(t *testing.T) {
	executor := NewRealExecutor()

	stdout, stderr, err := executor.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRealExecutor_CombinedOutput(t *testing.T) {
	output, err := NewRealExecutor().CombinedOutput(context.Background(), "", "echo", "combined")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "combined\n" {
		t.Errorf("expected 'combined\\n', got %q", string(output))
	}
}

func TestMockExecutor_ExactMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"worktree", "list", "--porcelain"}, MockResponse{
		Stdout: []byte("worktree /repo\n"),
	})

	stdout, _, err := mock.Run(context.Background(), "/repo", "git", "worktree", "list", "--porcelain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "worktree /repo\n" {
		t.Errorf("unexpected stdout %q", string(stdout))
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Dir != "/repo" || calls[0].Name != "git" {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestMockExecutor_PrefixMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"rev-parse"}, MockResponse{Stdout: []byte("abc123")})

	ctx := context.Background()
	stdout, _, _ := mock.Run(ctx, "", "git", "rev-parse", "--verify", "refs/heads/main")
	if string(stdout) != "abc123" {
		t.Errorf("expected 'abc123', got %q", string(stdout))
	}

	stdout, _, _ = mock.Run(ctx, "", "git", "status")
	if string(stdout) != "" {
		t.Errorf("expected empty response for unmatched command, got %q", string(stdout))
	}
}

func TestMockExecutor_ArgMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	failErr := errors.New("exit status 128")
	mock.AddArgMatch("git", []string{"worktree", "remove"}, "/ws/T-1/api", MockResponse{
		Stderr: []byte("fatal: locked"),
		Err:    failErr,
	})

	ctx := context.Background()
	out, err := mock.CombinedOutput(ctx, "", "git", "worktree", "remove", "--force", "/ws/T-1/api")
	if err != failErr {
		t.Errorf("expected %v, got %v", failErr, err)
	}
	if string(out) != "fatal: locked" {
		t.Errorf("expected stderr in combined output, got %q", string(out))
	}

	if _, err := mock.CombinedOutput(ctx, "", "git", "worktree", "remove", "--force", "/ws/T-1/web"); err != nil {
		t.Errorf("other path should not match, got %v", err)
	}

	if got := len(mock.CallsWithPrefix("git", "worktree", "remove")); got != 2 {
		t.Errorf("CallsWithPrefix = %d, want 2", got)
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	fallback := NewMockExecutor(nil)
	fallback.AddExactMatch("gh", []string{"auth", "token"}, MockResponse{Stdout: []byte("tok")})

	mock := NewMockExecutor(fallback)
	out, err := mock.Output(context.Background(), "", "gh", "auth", "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "tok" {
		t.Errorf("expected fallback output, got %q", string(out))
	}
}

func TestMockExecutor_ConcurrentAccess(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"rev-parse"}, MockResponse{Stdout: []byte("ok")})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = mock.Run(context.Background(), "", "git", "rev-parse", "HEAD")
		}()
	}
	wg.Wait()

	if got := len(mock.GetCalls()); got != 20 {
		t.Errorf("expected 20 calls, got %d", got)
	}
	mock.ClearCalls()
	if got := len(mock.GetCalls()); got != 0 {
		t.Errorf("expected 0 calls after clear, got %d", got)
	}
}

func TestRealExecutor_NonInteractiveEnv(t *testing.T) {
	out, err := NewRealExecutor().Output(context.Background(), "", "sh", "-c", "echo $GIT_TERMINAL_PROMPT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "0\n" {
		t.Errorf("GIT_TERMINAL_PROMPT = %q, want 0", string(out))
	}
}

func TestRealExecutor_Dir(t *testing.T) {
	dir := t.TempDir()
	out, err := NewRealExecutor().Output(context.Background(), dir, "pwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(string(out)); filepath.Base(got) != filepath.Base(dir) {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}
