// Package watcher observes registered transcript files and schedules
// resyncs when they change. It covers the gap where an agent writes its
// transcript without firing a hook.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedxcom/agent-island/internal/logging"
)

type target struct {
	sessionID string
	cwd       string
	dir       string
}

// Watcher maps filesystem events on transcript files to per-session
// resync requests. Directories are watched rather than files because
// agents replace transcripts with rename-over writes.
type Watcher struct {
	fs       *fsnotify.Watcher
	log      *slog.Logger
	schedule func(sessionID, cwd string)

	mu      sync.Mutex
	byPath  map[string]target // transcript path -> session
	dirRefs map[string]int
}

func New(schedule func(sessionID, cwd string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fs:       fs,
		log:      logging.ForComponent(logging.CompWatcher),
		schedule: schedule,
		byPath:   make(map[string]target),
		dirRefs:  make(map[string]int),
	}, nil
}

// Watch registers a transcript file for a session, replacing any earlier
// registration for the same session.
func (w *Watcher) Watch(sessionID, cwd, path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.forgetLocked(sessionID)

	if w.dirRefs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirRefs[dir]++
	w.byPath[path] = target{sessionID: sessionID, cwd: cwd, dir: dir}
	w.log.Debug("watching transcript", "session", sessionID, "path", path)
	return nil
}

// Forget drops the watch for a session.
func (w *Watcher) Forget(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forgetLocked(sessionID)
}

func (w *Watcher) forgetLocked(sessionID string) {
	for path, tg := range w.byPath {
		if tg.sessionID != sessionID {
			continue
		}
		delete(w.byPath, path)
		w.dirRefs[tg.dir]--
		if w.dirRefs[tg.dir] <= 0 {
			delete(w.dirRefs, tg.dir)
			if err := w.fs.Remove(tg.dir); err != nil {
				w.log.Debug("unwatch failed", "dir", tg.dir, "error", err)
			}
		}
		return
	}
}

// Run pumps filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange(filepath.Clean(ev.Name))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleChange(path string) {
	w.mu.Lock()
	tg, ok := w.byPath[path]
	w.mu.Unlock()
	if !ok {
		return
	}
	logging.Aggregate(logging.CompWatcher, "transcript_change")
	w.schedule(tg.sessionID, tg.cwd)
}
