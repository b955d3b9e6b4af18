// Package registry holds the set of repositories that can be bound to tasks.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/paths"
	"github.com/zhubert/taskspace/store"
)

// Setup describes what to do in a fresh worktree. Copy and Symlink entries
// are paths relative to the source repository; Commands run in the worktree.
type Setup struct {
	Copy     []string `yaml:"copy,omitempty"`
	Symlink  []string `yaml:"symlink,omitempty"`
	Commands []string `yaml:"commands,omitempty"`
}

// IsEmpty reports whether the setup has nothing to do.
func (s *Setup) IsEmpty() bool {
	return s == nil || (len(s.Copy) == 0 && len(s.Symlink) == 0 && len(s.Commands) == 0)
}

// Project is a registered repository.
type Project struct {
	Name              string `yaml:"name"`
	Path              string `yaml:"path"`
	DefaultBaseBranch string `yaml:"default_base_branch,omitempty"`
	Remote            string `yaml:"remote,omitempty"` // owner/repo on the provider
	Setup             *Setup `yaml:"setup,omitempty"`
}

// Registry resolves a project name to its registration.
type Registry interface {
	Lookup(name string) (Project, error)
}

type fileDoc struct {
	Projects []Project `yaml:"projects"`
}

// FileRegistry is a Registry backed by a YAML file.
type FileRegistry struct {
	mu       sync.RWMutex
	path     string
	projects []Project
	// stamp identifies the file contents projects were read from.
	stamp fileStamp
}

// fileStamp is a file's modification time and size; the zero value means
// the file did not exist.
type fileStamp struct {
	mod  time.Time
	size int64
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileStamp{}, nil
	}
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{mod: info.ModTime(), size: info.Size()}, nil
}

// Load reads the registry at path. A missing file yields an empty registry.
func Load(path string) (*FileRegistry, error) {
	projects, stamp, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &FileRegistry{path: path, projects: projects, stamp: stamp}, nil
}

func readFile(path string) ([]Project, fileStamp, error) {
	stamp, err := stampOf(path)
	if err != nil {
		return nil, fileStamp{}, apperr.NewFileSystem("registry.load", "stat "+path, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fileStamp{}, nil
	}
	if err != nil {
		return nil, fileStamp{}, apperr.NewFileSystem("registry.load", "read "+path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fileStamp{}, apperr.NewValidation("registry.load", "parse %s: %v", path, err)
	}
	for i := range doc.Projects {
		doc.Projects[i].Path = paths.Expand(doc.Projects[i].Path)
	}
	if err := validate(doc.Projects); err != nil {
		return nil, fileStamp{}, err
	}
	return doc.Projects, stamp, nil
}

// Refresh re-reads the file when its modification time or size differs
// from the last read, so a long-running process sees projects registered
// from another shell. It reports whether the projects were replaced. A
// file that fails to parse leaves the current projects in place.
func (r *FileRegistry) Refresh() (bool, error) {
	if r.path == "" {
		return false, nil
	}
	stamp, err := stampOf(r.path)
	if err != nil {
		return false, apperr.NewFileSystem("registry.refresh", "stat "+r.path, err)
	}
	r.mu.RLock()
	same := stamp.mod.Equal(r.stamp.mod) && stamp.size == r.stamp.size
	r.mu.RUnlock()
	if same {
		return false, nil
	}

	projects, stamp, err := readFile(r.path)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.projects, r.stamp = projects, stamp
	r.mu.Unlock()
	return true, nil
}

// New returns an in-memory registry holding projects. Save writes to path
// if path is non-empty.
func New(path string, projects ...Project) *FileRegistry {
	return &FileRegistry{path: path, projects: slices.Clone(projects)}
}

func validate(projects []Project) error {
	seen := make(map[string]bool)
	for _, p := range projects {
		if p.Name == "" {
			return apperr.NewValidation("registry.load", "project with empty name")
		}
		if seen[p.Name] {
			return apperr.NewValidation("registry.load", "duplicate project name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Path == "" {
			return apperr.NewValidation("registry.load", "project %s has empty path", p.Name)
		}
	}
	return nil
}

// Lookup returns the project registered under name.
func (r *FileRegistry) Lookup(name string) (Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return Project{}, apperr.NewNotFound("registry.lookup", "project", name).
		WithHint("register it with `taskspace project register`")
}

// List returns registered projects sorted by name.
func (r *FileRegistry) List() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.projects)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers p. The name must be unique and free of path separators.
func (r *FileRegistry) Add(p Project) error {
	if p.Name == "" || strings.ContainsAny(p.Name, `/\`) || p.Name == "." || p.Name == ".." {
		return apperr.NewValidation("registry.add", "invalid project name %q", p.Name)
	}
	if p.Path == "" {
		return apperr.NewValidation("registry.add", "project %s needs a path", p.Name)
	}
	p.Path = paths.Expand(p.Path)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.projects {
		if existing.Name == p.Name {
			return apperr.NewValidation("registry.add", "project %q already registered", p.Name)
		}
		if samePath(existing.Path, p.Path) {
			return apperr.NewValidation("registry.add", "%s is already registered as %q", p.Path, existing.Name)
		}
	}
	r.projects = append(r.projects, p)
	return nil
}

// Remove unregisters name.
func (r *FileRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.projects, func(p Project) bool { return p.Name == name })
	if idx < 0 {
		return apperr.NewNotFound("registry.remove", "project", name)
	}
	r.projects = slices.Delete(r.projects, idx, idx+1)
	return nil
}

// Save writes the registry back to its file atomically.
func (r *FileRegistry) Save() error {
	if r.path == "" {
		return fmt.Errorf("registry has no file path")
	}
	r.mu.RLock()
	doc := fileDoc{Projects: slices.Clone(r.projects)}
	r.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := store.WriteFileAtomic(r.path, data, 0644); err != nil {
		return err
	}
	if stamp, err := stampOf(r.path); err == nil {
		r.mu.Lock()
		r.stamp = stamp
		r.mu.Unlock()
	}
	return nil
}

// samePath reports whether a and b name the same directory. It compares
// device and inode, so symlinks and case-insensitive filesystems resolve.
func samePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

var _ Registry = (*FileRegistry)(nil)
