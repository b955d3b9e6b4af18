package worktree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/registry"
)

// SetupKind identifies the kind of a setup entry.
type SetupKind string

const (
	SetupCopy    SetupKind = "copy"
	SetupSymlink SetupKind = "symlink"
	SetupCommand SetupKind = "command"
)

// SetupResult is the outcome of one setup entry. A failed entry carries a
// Warning and never stops later entries.
type SetupResult struct {
	Kind    SetupKind
	Entry   string
	Warning string
	Command *exec.CommandResult
}

// OK reports whether the entry succeeded.
func (r SetupResult) OK() bool {
	return r.Warning == ""
}

// SetupEnv is exported to setup commands as TASKSPACE_* variables.
type SetupEnv struct {
	TaskID       string
	Project      string
	Branch       string
	BaseBranch   string
	RepoPath     string
	WorktreePath string
}

func (e SetupEnv) vars() []string {
	return []string{
		"TASKSPACE_TASK=" + e.TaskID,
		"TASKSPACE_PROJECT=" + e.Project,
		"TASKSPACE_BRANCH=" + e.Branch,
		"TASKSPACE_BASE_BRANCH=" + e.BaseBranch,
		"TASKSPACE_REPO_PATH=" + e.RepoPath,
		"TASKSPACE_WORKTREE=" + e.WorktreePath,
	}
}

// Warnings returns the warnings of the failed results.
func Warnings(results []SetupResult) []string {
	var out []string
	for _, r := range results {
		if !r.OK() {
			out = append(out, fmt.Sprintf("%s %s: %s", r.Kind, r.Entry, r.Warning))
		}
	}
	return out
}

// RunSetup applies copy entries, then symlink entries, then commands, each
// in declaration order.
func (m *Manager) RunSetup(ctx context.Context, setup *registry.Setup, env SetupEnv) []SetupResult {
	if setup.IsEmpty() {
		return nil
	}
	log := logger.WithComponent("worktree").With("worktree", env.WorktreePath)
	var results []SetupResult

	for _, entry := range setup.Copy {
		res := SetupResult{Kind: SetupCopy, Entry: entry}
		if err := copyEntry(env.RepoPath, env.WorktreePath, entry); err != nil {
			res.Warning = err.Error()
			log.Warn("setup copy failed", "entry", entry, "error", err)
		}
		results = append(results, res)
	}

	for _, entry := range setup.Symlink {
		res := SetupResult{Kind: SetupSymlink, Entry: entry}
		if err := symlinkEntry(env.RepoPath, env.WorktreePath, entry); err != nil {
			res.Warning = err.Error()
			log.Warn("setup symlink failed", "entry", entry, "error", err)
		}
		results = append(results, res)
	}

	for _, command := range setup.Commands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		cr := m.runner.RunShell(ctx, env.WorktreePath, command, env.vars())
		res := SetupResult{Kind: SetupCommand, Entry: command, Command: &cr}
		switch {
		case cr.TimedOut:
			res.Warning = "timed out"
		case cr.Err != nil:
			res.Warning = fmt.Sprintf("exit %d: %s", cr.ExitCode, lastLine(cr.Stderr, cr.Err))
		}
		if res.OK() {
			log.Debug("setup command completed", "command", command, "duration", cr.Duration)
		} else {
			log.Warn("setup command failed",
				"command", command,
				"exitCode", cr.ExitCode,
				"timedOut", cr.TimedOut,
				"stderr", cr.Stderr)
		}
		results = append(results, res)
	}

	return results
}

func lastLine(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if l := strings.TrimSpace(lines[len(lines)-1]); l != "" {
		return l
	}
	return err.Error()
}

// resolveEntry maps a relative setup entry to its source and destination.
func resolveEntry(repoPath, worktreePath, entry string) (string, string, error) {
	clean := filepath.Clean(entry)
	if entry == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("entry must be a relative path inside the repository")
	}
	return filepath.Join(repoPath, clean), filepath.Join(worktreePath, clean), nil
}

func copyEntry(repoPath, worktreePath, entry string) error {
	src, dst, err := resolveEntry(repoPath, worktreePath, entry)
	if err != nil {
		return err
	}
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return copySymlink(src, dst)
	case info.IsDir():
		return copyTree(src, dst)
	default:
		return copyFile(src, dst, info)
	}
}

func symlinkEntry(repoPath, worktreePath, entry string) error {
	src, dst, err := resolveEntry(repoPath, worktreePath, entry)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination already exists")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Symlink(src, dst)
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_ = os.Remove(dst)
	return os.Symlink(target, dst)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			return copySymlink(path, target)
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			return copyFile(path, target, info)
		}
	})
}
