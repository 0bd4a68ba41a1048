// Package watcher detects deletion of the recall database out from under a
// running worker, so the worker can shut down cleanly instead of writing
// into a ghost file handle.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWindow absorbs the rm/rename bursts some tools produce when they
// replace a file, so one logical deletion fires one callback.
const debounceWindow = 100 * time.Millisecond

// Watcher monitors a path for deletion and invokes onDelete when it goes
// away. The parent directory is what fsnotify actually watches, since a
// watch on the target itself dies with the target.
type Watcher struct {
	targetPath string
	parentPath string
	onDelete   func()
	watcher    *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New creates a watcher for targetPath. Start must be called to begin
// watching.
func New(targetPath string, onDelete func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		targetPath: filepath.Clean(targetPath),
		parentPath: filepath.Dir(filepath.Clean(targetPath)),
		onDelete:   onDelete,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		// The data directory may not exist yet; the loop re-establishes the
		// watch when it appears.
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Initial watch failed")
	}

	go w.loop()
	return nil
}

// Stop stops the watcher and releases the inotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

func (w *Watcher) loop() {
	var debounce *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)

			removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
			if removed && (name == w.targetPath || name == w.parentPath) {
				log.Info().Str("path", name).Msg("Watched path deleted")
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, w.fire)
				continue
			}

			// A recreated target inside the debounce window cancels the
			// callback; the file is back before anyone noticed.
			if name == w.targetPath && event.Op&fsnotify.Create != 0 && debounce != nil {
				debounce.Stop()
				debounce = nil
				continue
			}

			// Data directory recreated: re-establish the watch.
			if name == w.parentPath && event.Op&fsnotify.Create != 0 {
				_ = w.addWatch()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire() {
	log.Info().Str("path", w.targetPath).Msg("Deletion confirmed, invoking callback")
	if w.onDelete != nil {
		w.onDelete()
	}
}
