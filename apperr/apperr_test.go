package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"validation", NewValidation("task.create", "task %q already exists", "T-1"), Validation},
		{"wrapped not found", fmt.Errorf("outer: %w", NewNotFound("task.get", "task", "T-2")), NotFound},
		{"process", NewExternalProcess("worktree.add", "git failed", []byte("fatal"), errors.New("exit 128")), ExternalProcess},
		{"connectivity", NewConnectivity("provider.get", errors.New("dial tcp")), Connectivity},
		{"filesystem", NewFileSystem("store.save", "rename failed", errors.New("EXDEV")), FileSystem},
		{"provider", NewProvider("provider.get", 500, ""), Provider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		reason ProviderReason
		auth   bool
		nf     bool
	}{
		{401, ReasonAuth, true, false},
		{404, ReasonNotFound, false, true},
		{403, ReasonGeneric, false, false},
		{502, ReasonGeneric, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := NewProvider("op", tt.status, "")
			if err.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", err.Reason, tt.reason)
			}
			if IsProviderAuth(err) != tt.auth {
				t.Errorf("IsProviderAuth = %v, want %v", IsProviderAuth(err), tt.auth)
			}
			if IsProviderNotFound(err) != tt.nf {
				t.Errorf("IsProviderNotFound = %v, want %v", IsProviderNotFound(err), tt.nf)
			}
		})
	}
}

func TestError_MessageCarriesOutput(t *testing.T) {
	err := NewExternalProcess("worktree.add", "failed to create worktree", []byte("fatal: already exists\n"), errors.New("exit status 128"))
	msg := err.Error()
	for _, want := range []string{"worktree.add", "failed to create worktree", "fatal: already exists", "exit status 128"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestHintOf(t *testing.T) {
	err := fmt.Errorf("sync: %w", NewProvider("op", 401, ""))
	if HintOf(err) == "" {
		t.Error("expected hint for auth error")
	}
	if HintOf(errors.New("plain")) != "" {
		t.Error("expected no hint for plain error")
	}

	v := NewValidation("op", "bad").WithHint("try again")
	if HintOf(v) != "try again" {
		t.Errorf("HintOf = %q", HintOf(v))
	}
}

func TestUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := NewFileSystem("op", "mkdir failed", base)
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
