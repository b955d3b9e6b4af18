package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/registry"
)

func TestRepoFromRemote(t *testing.T) {
	tests := []struct {
		remote string
		want   Repo
		ok     bool
	}{
		{"git@github.com:acme/api.git", Repo{"acme", "api"}, true},
		{"git@github.com:acme/api", Repo{"acme", "api"}, true},
		{"https://github.com/acme/api.git", Repo{"acme", "api"}, true},
		{"https://github.com/acme/api/\n", Repo{"acme", "api"}, true},
		{"ssh://git@github.example.com/acme/web.git", Repo{"acme", "web"}, true},
		{"", Repo{}, false},
		{"/local/path/repo", Repo{}, false},
		{"https://github.com/acme", Repo{}, false},
		{"https://gitlab.com/group/sub/repo.git", Repo{}, false},
	}
	for _, tt := range tests {
		got, err := RepoFromRemote(tt.remote)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("RepoFromRemote(%q) = %+v, %v; want %+v ok=%v", tt.remote, got, err, tt.want, tt.ok)
		}
	}
}

func TestResolver(t *testing.T) {
	reg := registry.New(filepath.Join(t.TempDir(), "p.yaml"),
		registry.Project{Name: "api", Path: "/src/api", Remote: "acme/api-server"},
		registry.Project{Name: "web", Path: "/src/web"},
	)
	mock := exec.NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, exec.MockResponse{Stdout: []byte("git@github.com:acme/web.git\n")})
	r := NewResolver(reg, mock)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "api", "/src/api")
	if err != nil || got != (Repo{"acme", "api-server"}) {
		t.Errorf("registry remote: %+v, %v", got, err)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("registry remote should not shell out")
	}

	for range 2 {
		got, err = r.Resolve(ctx, "web", "/src/web")
		if err != nil || got != (Repo{"acme", "web"}) {
			t.Errorf("origin remote: %+v, %v", got, err)
		}
	}
	calls := mock.GetCalls()
	if len(calls) != 1 || calls[0].Dir != "/src/web" {
		t.Errorf("origin should be read once from the repo, calls = %+v", calls)
	}
}

func TestResolver_SeesRemoteRegisteredLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	seed := registry.New(path, registry.Project{Name: "web", Path: "/src/web"})
	if err := seed.Save(); err != nil {
		t.Fatal(err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	mock := exec.NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"remote", "get-url", "origin"}, exec.MockResponse{Stdout: []byte("git@github.com:acme/web.git\n")})
	r := NewResolver(reg, mock)
	ctx := context.Background()

	if got, err := r.Resolve(ctx, "web", "/src/web"); err != nil || got != (Repo{"acme", "web"}) {
		t.Fatalf("origin remote: %+v, %v", got, err)
	}

	// Another shell sets an explicit remote while this process keeps running.
	other, err := registry.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Remove("web"); err != nil {
		t.Fatal(err)
	}
	if err := other.Add(registry.Project{Name: "web", Path: "/src/web", Remote: "acme/web-frontend"}); err != nil {
		t.Fatal(err)
	}
	if err := other.Save(); err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve(ctx, "web", "/src/web")
	if err != nil || got != (Repo{"acme", "web-frontend"}) {
		t.Errorf("after re-register: %+v, %v", got, err)
	}
	if n := len(mock.GetCalls()); n != 1 {
		t.Errorf("git remote calls = %d, want 1", n)
	}
}

func TestResolver_NoOrigin(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"remote"}, exec.MockResponse{Err: errors.New("exit status 2")})
	_, err := NewResolver(nil, mock).Resolve(context.Background(), "x", "/src/x")
	if !apperr.Is(err, apperr.ExternalProcess) {
		t.Errorf("expected ExternalProcess, got %v", err)
	}
}
