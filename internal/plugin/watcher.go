package plugin

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of filesystem events a single
// binary replacement produces.
const watchDebounce = 500 * time.Millisecond

// Watch reloads plugins as their binaries change in the configured
// directory: a new enabled executable is loaded, a changed one
// reloaded, a removed one unloaded. Blocks until ctx is cancelled.
func (h *Host) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(h.cfg.Dir); err != nil {
		return err
	}

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.report("plugin", "load_error", map[string]string{"dir": h.cfg.Dir}, err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			path := ev.Name
			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(watchDebounce, func() {
				mu.Lock()
				delete(timers, path)
				mu.Unlock()
				h.pathChanged(path)
			})
			mu.Unlock()
		}
	}
}

// pathChanged reconciles one settled path against the registry.
func (h *Host) pathChanged(path string) {
	h.mu.Lock()
	name, loaded := h.byPath[path]
	h.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		if loaded {
			h.log.Info().Str("path", path).Msg("plugin binary removed")
			h.Unload(name)
		}
		return
	}
	if !h.loadable(path) {
		return
	}
	if loaded {
		if _, err := h.Reload(name); err != nil {
			h.report("plugin", "load_error", map[string]string{"path": path}, err)
		}
		return
	}
	if _, err := h.Load(path); err != nil {
		h.report("plugin", "load_error", map[string]string{"path": path}, err)
	}
}
