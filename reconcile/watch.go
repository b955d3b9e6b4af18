package reconcile

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/logger"
)

// DefaultDebounce is how long Watch waits after the last store change
// before starting a cycle.
const DefaultDebounce = 500 * time.Millisecond

// Watch behaves like Run and also starts a cycle shortly after the task
// file changes on disk, so a project added from another shell is picked up
// without waiting for the next tick. Writes made by the engine itself are
// ignored.
func (e *Engine) Watch(ctx context.Context, interval, debounce time.Duration) error {
	if interval <= 0 {
		return apperr.NewValidation("reconcile.watch", "poll interval must be positive, got %s", interval)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log := logger.WithComponent("reconcile")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.NewFileSystem("reconcile.watch", "create file watcher", err)
	}
	defer watcher.Close()

	// The store is replaced by rename, so watch its directory.
	storePath := filepath.Clean(e.store.Path())
	dir := filepath.Dir(storePath)
	if err := watcher.Add(dir); err != nil {
		return apperr.NewFileSystem("reconcile.watch", "watch "+dir, err)
	}
	log.Info("watching task store", "path", storePath, "interval", interval)

	defer e.wg.Wait()
	e.trigger(ctx, "start")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			debounceTimer.Stop()
			return nil

		case <-ticker.C:
			e.trigger(ctx, "timer")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != storePath || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if e.ownWrite(debounce) {
				continue
			}
			pending = true
			debounceTimer.Reset(debounce)

		case <-debounceTimer.C:
			if pending {
				pending = false
				e.trigger(ctx, "store changed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}

// ownWrite reports whether the engine itself wrote the store within the
// last window.
func (e *Engine) ownWrite(window time.Duration) bool {
	last := e.lastPersist.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < 2*window
}
