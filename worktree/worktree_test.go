package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/exec"
)

func newTestManager() (*Manager, *exec.MockExecutor, *exec.MockRunner) {
	mock := exec.NewMockExecutor(nil)
	runner := exec.NewMockRunner()
	return NewManagerWith(mock, runner), mock, runner
}

func TestCreate_NewBranch(t *testing.T) {
	m, mock, _ := newTestManager()
	wtPath := filepath.Join(t.TempDir(), "T-1", "api")

	mock.AddPrefixMatch("git", []string{"rev-parse", "--verify"}, exec.MockResponse{Err: errors.New("exit status 128")})

	if err := m.Create(context.Background(), "/src/api", wtPath, "T-1", "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	adds := mock.CallsWithPrefix("git", "worktree", "add")
	if len(adds) != 1 {
		t.Fatalf("expected 1 worktree add, got %d", len(adds))
	}
	want := []string{"worktree", "add", "-b", "T-1", wtPath, "main"}
	if !slices.Equal(adds[0].Args, want) {
		t.Errorf("args = %v, want %v", adds[0].Args, want)
	}
	if adds[0].Dir != "/src/api" {
		t.Errorf("dir = %q", adds[0].Dir)
	}

	if _, err := os.Stat(filepath.Dir(wtPath)); err != nil {
		t.Error("parent directory should be created")
	}
}

func TestCreate_ExistingBranch(t *testing.T) {
	m, mock, _ := newTestManager()
	wtPath := filepath.Join(t.TempDir(), "api")

	mock.AddExactMatch("git", []string{"rev-parse", "--verify", "refs/heads/feature"}, exec.MockResponse{Stdout: []byte("abc\n")})

	if err := m.Create(context.Background(), "/src/api", wtPath, "feature", "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	adds := mock.CallsWithPrefix("git", "worktree", "add")
	want := []string{"worktree", "add", wtPath, "feature"}
	if len(adds) != 1 || !slices.Equal(adds[0].Args, want) {
		t.Errorf("calls = %+v, want args %v", adds, want)
	}
}

func TestCreate_PathExists(t *testing.T) {
	m, mock, _ := newTestManager()
	wtPath := t.TempDir()

	err := m.Create(context.Background(), "/src/api", wtPath, "b", "main")
	if !apperr.Is(err, apperr.FileSystem) {
		t.Fatalf("expected FileSystem error, got %v", err)
	}
	if len(mock.GetCalls()) != 0 {
		t.Errorf("no git command should run, got %+v", mock.GetCalls())
	}
}

func TestCreate_GitFailure(t *testing.T) {
	m, mock, _ := newTestManager()
	wtPath := filepath.Join(t.TempDir(), "api")

	mock.AddPrefixMatch("git", []string{"rev-parse"}, exec.MockResponse{Err: errors.New("no")})
	mock.AddPrefixMatch("git", []string{"worktree", "add"}, exec.MockResponse{
		Stderr: []byte("fatal: invalid reference: nope"),
		Err:    errors.New("exit status 128"),
	})

	err := m.Create(context.Background(), "/src/api", wtPath, "b", "nope")
	if !apperr.Is(err, apperr.ExternalProcess) {
		t.Fatalf("expected ExternalProcess error, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Output != "fatal: invalid reference: nope" {
		t.Errorf("error should carry git output, got %+v", ae)
	}
}

func TestRemove(t *testing.T) {
	m, mock, _ := newTestManager()

	if err := m.Remove(context.Background(), "/src/api", "/ws/T-1/api"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected remove + prune, got %+v", calls)
	}
	want := []string{"worktree", "remove", "--force", "/ws/T-1/api"}
	if !slices.Equal(calls[0].Args, want) {
		t.Errorf("args = %v, want %v", calls[0].Args, want)
	}
	if !slices.Equal(calls[1].Args, []string{"worktree", "prune"}) {
		t.Errorf("expected prune, got %v", calls[1].Args)
	}
}

func TestRemove_Failure(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.AddPrefixMatch("git", []string{"worktree", "remove"}, exec.MockResponse{
		Stderr: []byte("fatal: not a working tree"),
		Err:    errors.New("exit status 128"),
	})

	err := m.Remove(context.Background(), "/src/api", "/ws/T-1/api")
	if !apperr.Is(err, apperr.ExternalProcess) {
		t.Fatalf("expected ExternalProcess, got %v", err)
	}
	if len(mock.CallsWithPrefix("git", "worktree", "prune")) != 0 {
		t.Error("prune should not run after a failed remove")
	}
}

func TestRemove_PruneFailureIgnored(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.AddExactMatch("git", []string{"worktree", "prune"}, exec.MockResponse{Err: errors.New("boom")})

	if err := m.Remove(context.Background(), "/src/api", "/ws/x"); err != nil {
		t.Errorf("prune failure should be best-effort, got %v", err)
	}
}

const porcelain = `worktree /src/api
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /ws/T-1/api
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feature/T-1

worktree /ws/detached
HEAD 3333333333333333333333333333333333333333
detached

`

func TestParsePorcelain(t *testing.T) {
	got := ParsePorcelain(porcelain)
	want := []Worktree{
		{Path: "/src/api", Head: "1111111111111111111111111111111111111111", Branch: "main"},
		{Path: "/ws/T-1/api", Head: "2222222222222222222222222222222222222222", Branch: "feature/T-1"},
		{Path: "/ws/detached", Head: "3333333333333333333333333333333333333333", Detached: true},
	}
	if !slices.Equal(got, want) {
		t.Errorf("ParsePorcelain =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParsePorcelain_BareAndEmpty(t *testing.T) {
	if got := ParsePorcelain(""); len(got) != 0 {
		t.Errorf("empty output should parse to nothing, got %+v", got)
	}
	got := ParsePorcelain("worktree /srv/repo.git\r\nbare\r\n")
	if len(got) != 1 || !got[0].Bare || got[0].Path != "/srv/repo.git" {
		t.Errorf("unexpected %+v", got)
	}
}

func TestListAndPathInUse(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.AddExactMatch("git", []string{"worktree", "list", "--porcelain"}, exec.MockResponse{Stdout: []byte(porcelain)})

	list, err := m.List(context.Background(), "/src/api")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 worktrees, got %d", len(list))
	}

	inUse, err := m.PathInUse(context.Background(), "/src/api", "/ws/T-1/api/")
	if err != nil || !inUse {
		t.Errorf("PathInUse = %v, %v; want true", inUse, err)
	}
	inUse, _ = m.PathInUse(context.Background(), "/src/api", "/ws/T-2/api")
	if inUse {
		t.Error("PathInUse should be false for unknown path")
	}
}

func TestList_Failure(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.AddPrefixMatch("git", []string{"worktree", "list"}, exec.MockResponse{
		Stderr: []byte("fatal: not a git repository"),
		Err:    errors.New("exit status 128"),
	})
	if _, err := m.List(context.Background(), "/nowhere"); !apperr.Is(err, apperr.ExternalProcess) {
		t.Errorf("expected ExternalProcess, got %v", err)
	}
}

func TestBranchExists(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.AddExactMatch("git", []string{"rev-parse", "--verify", "refs/heads/gone"}, exec.MockResponse{Err: errors.New("exit 1")})

	if m.BranchExists(context.Background(), "/r", "gone") {
		t.Error("gone should not exist")
	}
	if !m.BranchExists(context.Background(), "/r", "main") {
		t.Error("main should exist (unmatched mock succeeds)")
	}
	if m.BranchExists(context.Background(), "/r", "") {
		t.Error("empty branch never exists")
	}
}
