package watcher

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// Watcher reports the deletion of a single directory using fsnotify
type Watcher struct {
	logger *zap.Logger

	mu   sync.Mutex
	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// Ensure Watcher implements port.DirWatcher
var _ port.DirWatcher = (*Watcher)(nil)

// New creates a new directory watcher
func New(logger *zap.Logger) *Watcher {
	return &Watcher{logger: logger}
}

// Watch arms a watch on dir, replacing any previous watch.
// onDelete runs on its own goroutine, at most once per call.
func (w *Watcher) Watch(dir string, onDelete func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir = filepath.Clean(dir)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.loop(fsw, w.done, dir, onDelete)

	w.logger.Debug("watching cache root", zap.String("dir", dir))
	return nil
}

// Stop disarms the current watch
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *Watcher) stopLocked() error {
	if w.fsw == nil {
		return nil
	}

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()

	w.fsw = nil
	w.done = nil
	return err
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done <-chan struct{}, dir string, onDelete func()) {
	defer w.wg.Done()

	for {
		select {
		case <-done:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != dir {
				continue
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Warn("cache root removed",
				zap.String("dir", dir),
				zap.String("op", event.Op.String()))
			go onDelete()
			return

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("fsnotify error", zap.String("dir", dir), zap.Error(err))
		}
	}
}
