// Package paths resolves where taskspace keeps its config, data and logs.
//
// In order of precedence:
//
//   - TASKSPACE_HOME set: everything lives under it
//   - ~/.taskspace/ exists: everything lives under it
//   - any XDG_*_HOME set: config, data and state go to their XDG homes
//   - otherwise: ~/.taskspace/ is used
//
// Config holds config.yaml and projects.yaml; data holds tasks.json and the
// default workspace root; state holds logs/.
package paths

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const appName = "taskspace"

// HomeEnv overrides every other layout rule when set.
const HomeEnv = "TASKSPACE_HOME"

// Layout names how the directories were chosen.
type Layout string

const (
	LayoutOverride Layout = "override" // TASKSPACE_HOME
	LayoutFlat     Layout = "flat"     // ~/.taskspace
	LayoutXDG      Layout = "xdg"
)

type dirs struct {
	layout Layout
	config string
	data   string
	state  string
}

func single(layout Layout, dir string) *dirs {
	return &dirs{layout: layout, config: dir, data: dir, state: dir}
}

var (
	mu     sync.Mutex
	cached *dirs
)

func resolve() (*dirs, error) {
	mu.Lock()
	defer mu.Unlock()
	if cached == nil {
		d, err := detect()
		if err != nil {
			return nil, err
		}
		cached = d
	}
	return cached, nil
}

func detect() (*dirs, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return single(LayoutOverride, Expand(dir)), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	flat := filepath.Join(home, "."+appName)
	if info, err := os.Stat(flat); err == nil && info.IsDir() {
		return single(LayoutFlat, flat), nil
	}

	xdg := func(env string, fallback ...string) (string, bool) {
		if v := os.Getenv(env); v != "" {
			return filepath.Join(v, appName), true
		}
		return filepath.Join(append([]string{home}, append(fallback, appName)...)...), false
	}
	config, c := xdg("XDG_CONFIG_HOME", ".config")
	data, d := xdg("XDG_DATA_HOME", ".local", "share")
	state, s := xdg("XDG_STATE_HOME", ".local", "state")
	if !c && !d && !s {
		return single(LayoutFlat, flat), nil
	}
	return &dirs{layout: LayoutXDG, config: config, data: data, state: state}, nil
}

// ConfigDir returns the directory for configuration files.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.config, nil
}

// DataDir returns the directory for persistent data files.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.data, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.state, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// RegistryFilePath returns the full path to the project registry.
func RegistryFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "projects.yaml"), nil
}

// StoreFilePath returns the full path to the task store.
func StoreFilePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tasks.json"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// WorkspaceDir returns the default root under which task worktrees live.
func WorkspaceDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspaces"), nil
}

// CurrentLayout reports which rule chose the directories.
func CurrentLayout() (Layout, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.layout, nil
}

// Expand replaces a leading ~ with the user's home directory and cleans the
// result. Paths without a leading ~ are only cleaned.
func Expand(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// Reset forgets the resolved layout so the next call re-reads the
// environment. Tests use it after changing HOME or XDG variables.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
