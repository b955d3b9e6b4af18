// Package logger is the process-wide slog logger. Output goes to a file
// under the taskspace logs directory, never to the terminal, so CLI output
// stays clean and the watch process leaves a trail to inspect later.
//
//	log := logger.WithTask(t.ID)
//	log.Info("project added", "project", name)
//	// level=INFO msg="project added" taskID=ENG-42 project=api
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhubert/taskspace/paths"
)

const (
	cliLogName   = "taskspace.log"
	watchLogName = "taskspace-watch.log"
)

// sink is the open log file and the logger writing to it.
type sink struct {
	path string
	file *os.File
	log  *slog.Logger
}

var (
	mu    sync.Mutex
	level = new(slog.LevelVar)
	out   *sink
	// opened is set by the first Init or lazy open and cleared by Reset.
	// Close leaves it set so a late log call after shutdown goes nowhere
	// instead of reopening the file.
	opened bool
)

func logsFile(name string) (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// DefaultLogPath is where one-shot CLI commands log.
func DefaultLogPath() (string, error) { return logsFile(cliLogName) }

// WatchLogPath is where the long-running watch process logs.
func WatchLogPath() (string, error) { return logsFile(watchLogName) }

// SetLevel sets the minimum level from its name: debug, info, warn or
// error, case-insensitive.
func SetLevel(name string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("unknown log level %q", name)
	}
	mu.Lock()
	level.Set(l)
	mu.Unlock()
	return nil
}

// Level returns the current minimum level.
func Level() slog.Level {
	mu.Lock()
	defer mu.Unlock()
	return level.Level()
}

// Init opens path for appending. Only the first call in a process has any
// effect; later calls return nil.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if opened {
		return nil
	}
	return open(path)
}

// open installs a sink on path. Caller holds mu.
func open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	out = &sink{
		path: path,
		file: f,
		log:  slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})),
	}
	opened = true
	out.log.Debug("log opened", "path", path, "pid", os.Getpid())
	return nil
}

// current returns the installed logger, opening the default file on first
// use. Falls back to slog.Default when no file can be opened.
func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !opened {
		path, err := DefaultLogPath()
		if err == nil {
			err = open(path)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
			opened = true
		}
	}
	if out == nil {
		return slog.Default()
	}
	return out.log
}

// Path returns the file being written, or "" if none is open.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return ""
	}
	return out.path
}

// Get returns the root logger.
func Get() *slog.Logger { return current() }

// WithTask returns a logger tagged with taskID.
func WithTask(taskID string) *slog.Logger { return current().With("taskID", taskID) }

// WithComponent returns a logger tagged with a component name such as
// "worktree" or "reconcile".
func WithComponent(name string) *slog.Logger { return current().With("component", name) }

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		out.file.Close()
		out = nil
	}
}

// Reset closes the log and forgets all state, including the level, so Init
// can run again. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		out.file.Close()
	}
	out = nil
	opened = false
	level = new(slog.LevelVar)
}

// ClearLogs deletes the CLI and watch logs, plus any rotated siblings
// matching taskspace*.log, and returns how many files it removed.
func ClearLogs() (int, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return 0, fmt.Errorf("locate logs directory: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "taskspace*.log"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range matches {
		switch err := os.Remove(p); {
		case err == nil:
			removed++
		case !os.IsNotExist(err):
			return removed, err
		}
	}
	return removed, nil
}
