package exec

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestShellRunner_CapturesStreams(t *testing.T) {
	dir := t.TempDir()
	r := NewShellRunner(0)
	if r.Timeout != DefaultCommandTimeout {
		t.Errorf("Timeout = %v, want default", r.Timeout)
	}

	res := r.RunShell(context.Background(), dir, "echo out; echo err 1>&2; pwd", nil)
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !strings.HasPrefix(res.Stdout, "out\n") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestShellRunner_ExitCode(t *testing.T) {
	res := NewShellRunner(time.Second*5).RunShell(context.Background(), t.TempDir(), "exit 3", nil)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("should not be marked timed out")
	}
}

func TestShellRunner_Env(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")
	res := NewShellRunner(0).RunShell(context.Background(), dir, "echo $TASKSPACE_TASK > "+out, []string{"TASKSPACE_TASK=ENG-7"})
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ENG-7\n" {
		t.Errorf("env output = %q", string(data))
	}
}

func TestShellRunner_Timeout(t *testing.T) {
	r := NewShellRunner(100 * time.Millisecond)
	start := time.Now()
	res := r.RunShell(context.Background(), t.TempDir(), "sleep 5", nil)
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.OK() {
		t.Error("timed out command should not be OK")
	}
	if time.Since(start) > 4*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestMockRunner(t *testing.T) {
	m := NewMockRunner()
	m.SetResult("make deps", CommandResult{ExitCode: 2, Err: os.ErrInvalid})

	if res := m.RunShell(context.Background(), "", "make deps", nil); res.OK() || res.ExitCode != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if res := m.RunShell(context.Background(), "", "npm ci", nil); !res.OK() {
		t.Errorf("unknown command should succeed, got %+v", res)
	}
	if calls := m.Calls(); len(calls) != 2 || calls[1] != "npm ci" {
		t.Errorf("Calls = %v", calls)
	}
}
