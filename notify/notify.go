// Package notify delivers reconciliation events to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotConfigured is returned when a notifier lacks required settings.
var ErrNotConfigured = errors.New("notify: not configured")

// Levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Sources name the event that produced a notification.
const (
	SourcePRDiscovered     = "pr.discovered"
	SourceReviewApproved   = "review.approved"
	SourceChangesRequested = "review.changes_requested"
	SourceCIFailed         = "ci.failed"
	SourceCIPassed         = "ci.passed"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Source  string `json:"source"`
	URL     string `json:"url,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// Capabilities declares what a notifier can render.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Links          bool `json:"links"`
}

// Notifier sends notifications somewhere.
type Notifier interface {
	// Name returns the unique identifier for this notifier, e.g. "slack".
	Name() string

	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}

// Factory builds a Notifier from string settings.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name. It panics on a
// duplicate name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notify: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a Notifier by name using the registered factory.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notify: unknown notifier %q", name)
	}
	return factory(settings)
}

// Available returns the registered notifier names.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

func init() {
	Register("log", func(map[string]string) (Notifier, error) { return NewLog(), nil })
	Register("slack", func(s map[string]string) (Notifier, error) {
		if s["webhook_url"] == "" {
			return nil, ErrNotConfigured
		}
		return NewSlack(s["webhook_url"]), nil
	})
	Register("desktop", func(map[string]string) (Notifier, error) { return NewDesktop(nil), nil })
}
