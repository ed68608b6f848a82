package formdef

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"formpilot/internal/logging"
)

// watcher reloads a Loader when its files settle after a change. It
// watches the parent directories so editors that save by rename are seen.
type watcher struct {
	fs          *fsnotify.Watcher
	loader      *Loader
	targets     map[string]bool
	mu          sync.Mutex
	pending     time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// Watch starts reloading on file changes until ctx ends or Stop is
// called. Either one releases the watcher, after which Watch may be
// called again. Built-in defaults are never watched; with no files configured
// Watch is a no-op.
func (l *Loader) Watch(ctx context.Context) error {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watcher != nil {
		return nil
	}

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range []string{l.templatePath, l.rulesPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	if len(targets) == 0 {
		logging.FormDebug("Form watcher: nothing to watch (built-in definition)")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
		logging.Form("Form watcher: watching %s", dir)
	}

	w := &watcher{
		fs:          fsw,
		loader:      l,
		targets:     targets,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	l.watcher = w
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the watcher to exit.
func (l *Loader) Stop() {
	l.watchMu.Lock()
	w := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()
	if w == nil {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	if err := w.fs.Close(); err != nil {
		logging.FormWarn("Form watcher: error closing: %v", err)
	}
	logging.Form("Form watcher: stopped")
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.detach()
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.FormWarn("Form watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	if !w.targets[filepath.Clean(event.Name)] {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logging.FormDebug("Form watcher: %s %s", event.Op, event.Name)
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// flush reloads once the last change is older than the debounce window.
func (w *watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	if err := w.loader.Reload(); err != nil {
		logging.FormWarn("Form watcher: reload failed, keeping previous definition: %v", err)
	}
}

// detach releases the watcher when its context ends. If Stop already took
// it, Stop owns the close.
func (w *watcher) detach() {
	w.loader.watchMu.Lock()
	owned := w.loader.watcher == w
	if owned {
		w.loader.watcher = nil
	}
	w.loader.watchMu.Unlock()
	if !owned {
		return
	}
	if err := w.fs.Close(); err != nil {
		logging.FormWarn("Form watcher: error closing: %v", err)
	}
	logging.Form("Form watcher: context done, stopped")
}
