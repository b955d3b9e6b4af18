// Package store persists entity collections as pretty-printed JSON files.
//
// Every Save rewrites the whole file through a temp file and rename, so a
// reader never sees a truncated document. Update serializes read-modify-write
// cycles across processes with an advisory flock(2) on a sibling lock file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zhubert/taskspace/apperr"
)

// Load reads path into a value of type T. A missing file yields def.
func Load[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return def, apperr.NewFileSystem("store.load", "read "+path, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def, apperr.NewFileSystem("store.load", "parse "+path, err)
	}
	return v, nil
}

// Save writes v to path atomically, creating parent directories on demand.
func Save[T any](path string, v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0644)
}

// Update loads path under an exclusive lock, applies fn, and saves the
// result. If fn returns an error the file is left untouched and that error
// is returned.
func Update[T any](path string, def T, fn func(*T) error) error {
	fl, err := lockFor(path)
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	v, err := Load(path, def)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return Save(path, v)
}

// View loads path under the same lock Update uses, so it never observes a
// half-applied update from a cooperating process.
func View[T any](path string, def T) (T, error) {
	fl, err := lockFor(path)
	if err != nil {
		return def, err
	}
	defer func() { _ = fl.Unlock() }()
	return Load(path, def)
}

func lockFor(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperr.NewFileSystem("store.lock", "create directory", err)
	}
	fl := NewFileLock(path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, apperr.NewFileSystem("store.lock", "acquire lock", err)
	}
	return fl, nil
}

// WriteFileAtomic writes data to a temp file in path's directory, syncs it,
// and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.NewFileSystem("store.save", "create directory "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperr.NewFileSystem("store.save", "create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return apperr.NewFileSystem("store.save", "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return apperr.NewFileSystem("store.save", "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperr.NewFileSystem("store.save", "close temp file", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return apperr.NewFileSystem("store.save", "chmod temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return apperr.NewFileSystem("store.save", "rename temp file", err)
	}
	return nil
}
