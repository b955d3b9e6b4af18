// Package secrets resolves provider credentials. An environment variable
// always wins over the secure store.
package secrets

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
)

// SecureStore is a credential store keyed by name. Get returns "" when the
// key is absent; an error means the store itself could not be read.
type SecureStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// Backend looks up tokens in the environment first, then in a SecureStore.
type Backend struct {
	store     SecureStore
	lookupEnv func(string) (string, bool)
}

// NewBackend returns a Backend over store. A nil store means environment
// variables only.
func NewBackend(store SecureStore) *Backend {
	return &Backend{store: store, lookupEnv: os.LookupEnv}
}

// Token returns the token for envVar or key, or "" when neither has one.
// Secure store failures are logged and treated as "no token".
func (b *Backend) Token(ctx context.Context, envVar, key string) string {
	log := logger.WithComponent("secrets")

	if envVar != "" {
		if v, ok := b.lookupEnv(envVar); ok && strings.TrimSpace(v) != "" {
			log.Debug("token from environment", "env", envVar)
			return strings.TrimSpace(v)
		}
	}
	if b.store == nil || key == "" {
		return ""
	}
	v, err := b.store.Get(ctx, key)
	if err != nil {
		log.Warn("secure store lookup failed", "key", key, "error", err)
		return ""
	}
	if v != "" {
		log.Debug("token from secure store", "key", key)
	}
	return strings.TrimSpace(v)
}

// MapStore is an in-memory SecureStore.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapStore returns a MapStore seeded with values.
func NewMapStore(values map[string]string) *MapStore {
	m := &MapStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MapStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set stores value under key.
func (m *MapStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// GHCLIStore reads the token the GitHub CLI keeps in the OS keychain. It
// serves a single key, "github"; other keys are absent. The answer, token
// or no token, is reused for TTL so a sync cycle that makes many API calls
// runs `gh auth token` once, while a fresh `gh auth login` is still seen
// within TTL.
type GHCLIStore struct {
	executor exec.CommandExecutor
	timeout  time.Duration
	// TTL bounds how long a looked-up token is reused.
	TTL time.Duration
	now func() time.Time

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
	fetched   bool
}

// GitHubKey is the key GHCLIStore answers to.
const GitHubKey = "github"

// DefaultTokenTTL is how long GHCLIStore reuses a token.
const DefaultTokenTTL = 2 * time.Minute

// NewGHCLIStore returns a store that shells out to `gh auth token`.
func NewGHCLIStore(executor exec.CommandExecutor) *GHCLIStore {
	if executor == nil {
		executor = exec.NewRealExecutor()
	}
	return &GHCLIStore{executor: executor, timeout: 10 * time.Second, TTL: DefaultTokenTTL, now: time.Now}
}

func (s *GHCLIStore) Get(ctx context.Context, key string) (string, error) {
	if key != GitHubKey {
		return "", nil
	}
	// Held across the subprocess so concurrent callers share one lookup.
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.fetched && now.Sub(s.fetchedAt) < s.TTL {
		return s.token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token := ""
	out, err := s.executor.Output(ctx, "", "gh", "auth", "token")
	if err != nil {
		// Not logged in, or gh missing: no token rather than a failure.
		logger.WithComponent("secrets").Debug("gh auth token unavailable", "error", err)
	} else {
		token = strings.TrimSpace(string(out))
	}
	if ctx.Err() != nil && err != nil {
		// A cancelled or timed-out lookup says nothing about the login.
		return "", nil
	}
	s.token, s.fetchedAt, s.fetched = token, now, true
	return token, nil
}

// Forget drops the cached answer so the next Get runs `gh auth token`.
func (s *GHCLIStore) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = false
	s.token = ""
}
