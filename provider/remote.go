package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/registry"
)

// Repo identifies a repository on the provider.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.Trim(strings.TrimSpace(s), "/"), "/")
	name = strings.TrimSuffix(name, ".git")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, apperr.NewValidation("provider.parse_repo", "invalid repository %q, expected owner/name", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// RepoFromRemote extracts owner/name from a git remote URL. It accepts
// scp-like SSH (git@host:owner/name.git), ssh:// and https:// forms.
func RepoFromRemote(remote string) (Repo, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return Repo{}, apperr.NewValidation("provider.parse_remote", "empty remote url")
	}

	var path string
	if strings.Contains(remote, "://") {
		u, err := url.Parse(remote)
		if err != nil {
			return Repo{}, apperr.NewValidation("provider.parse_remote", "invalid remote url %q: %v", remote, err)
		}
		path = u.Path
	} else if _, after, ok := strings.Cut(remote, ":"); ok && !strings.HasPrefix(remote, "/") {
		path = after
	} else {
		return Repo{}, apperr.NewValidation("provider.parse_remote", "unsupported remote url %q", remote)
	}

	repo, err := ParseRepo(path)
	if err != nil {
		return Repo{}, apperr.NewValidation("provider.parse_remote", "cannot find owner/name in remote %q", remote)
	}
	return repo, nil
}

// Resolver maps a task project to its provider repository: the registry's
// remote field when set, else the origin remote of the source repository.
// Results are cached per project until the registry reports a change.
type Resolver struct {
	registry registry.Registry
	executor exec.CommandExecutor

	mu    sync.Mutex
	cache map[string]Repo
}

// NewResolver returns a Resolver. reg may be nil.
func NewResolver(reg registry.Registry, executor exec.CommandExecutor) *Resolver {
	if executor == nil {
		executor = exec.NewRealExecutor()
	}
	return &Resolver{registry: reg, executor: executor, cache: make(map[string]Repo)}
}

// refresher is a registry that can pick up changes made by other processes.
type refresher interface {
	Refresh() (bool, error)
}

// Resolve returns the repository for project name whose checkout is at
// repoPath.
func (r *Resolver) Resolve(ctx context.Context, name, repoPath string) (Repo, error) {
	if rf, ok := r.registry.(refresher); ok {
		changed, err := rf.Refresh()
		if err != nil {
			logger.WithComponent("provider").Warn("registry refresh failed, using last read", "error", err)
		}
		if changed {
			r.mu.Lock()
			clear(r.cache)
			r.mu.Unlock()
		}
	}

	key := name + "\x00" + repoPath
	r.mu.Lock()
	if repo, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return repo, nil
	}
	r.mu.Unlock()

	repo, err := r.resolve(ctx, name, repoPath)
	if err != nil {
		return Repo{}, err
	}

	r.mu.Lock()
	r.cache[key] = repo
	r.mu.Unlock()
	return repo, nil
}

func (r *Resolver) resolve(ctx context.Context, name, repoPath string) (Repo, error) {
	if r.registry != nil {
		if p, err := r.registry.Lookup(name); err == nil && p.Remote != "" {
			return ParseRepo(p.Remote)
		}
	}

	out, err := r.executor.Output(ctx, repoPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return Repo{}, apperr.NewExternalProcess("provider.resolve",
			fmt.Sprintf("git remote get-url origin failed in %s", repoPath), out, err)
	}
	return RepoFromRemote(string(out))
}
