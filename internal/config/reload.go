package config

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the config file and reloads on changes.
// It supports fsnotify file watching (cross-platform) and SIGHUP
// (Unix only, registered in reload_unix.go).
//
// Reload never restructures the layer vector at runtime: a reload that
// changes the layer count or any layer's backend id is rejected and
// logged, and the running config is kept. Any other change is accepted:
// Current() returns the new config and the OnReload callbacks receive it.
// The cache server's callback applies only the per-layer TTL ceilings and
// breaker settings; populate rate limit, admin, metrics and logging
// settings are read once at startup and a reload does not change them.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader creates a Reloader for the given config file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration (thread-safe).
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback that is invoked with the new config
// after a successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file for changes and listening for
// SIGHUP (on Unix). Must be called once after NewReloader.
func (r *Reloader) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create file watcher", "error", err)
		return
	}
	r.watcher = watcher

	if err := watcher.Add(r.path); err != nil {
		r.logger.Error("failed to watch config file", "path", r.path, "error", err)
		watcher.Close()
		r.watcher = nil
		return
	}

	r.logger.Info("config file watcher started", "path", r.path)

	go r.watchLoop()

	// Register SIGHUP handler (Unix only — no-op on Windows)
	r.registerSignalHandler()
}

// Stop terminates the file watcher and signal handler.
func (r *Reloader) Stop() {
	close(r.stopCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Reload loads the config from disk, validates it, and — provided it
// does not alter the layer vector's structure — swaps it in and
// notifies all registered callbacks. Returns true if the reload
// succeeded. Exported so signal handlers and tests can call it.
func (r *Reloader) Reload() bool {
	r.logger.Info("reloading configuration", "path", r.path)

	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	old := r.current
	if diff := structuralDiff(old, newCfg); diff != "" {
		r.mu.Unlock()
		r.logger.Warn("config reload rejected: structural layer change requires a restart, keeping current",
			"path", r.path, "diff", diff)
		return false
	}
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded successfully")
	return true
}

// structuralDiff reports a non-empty reason when new changes the fixed
// layer vector (count or per-index backend id) relative to old, and an
// empty string when the reload is safe to apply live.
func structuralDiff(old, new *Config) string {
	if len(old.Layers) != len(new.Layers) {
		return "layer count changed"
	}
	for i := range old.Layers {
		if old.Layers[i].Backend != new.Layers[i].Backend {
			return "layers[" + strconv.Itoa(i) + "].backend changed"
		}
	}
	return ""
}

// watchLoop processes fsnotify events with debouncing.
func (r *Reloader) watchLoop() {
	// Debounce timer — editors often write multiple events on save.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					r.Reload()
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges logs a summary of what changed between the old and new config.
func (r *Reloader) logChanges(old, new *Config) {
	if old.PopulateRateLimit.RequestsPerSecond != new.PopulateRateLimit.RequestsPerSecond ||
		old.PopulateRateLimit.BurstSize != new.PopulateRateLimit.BurstSize {
		r.logger.Info("populate rate limit changed",
			"old_rps", old.PopulateRateLimit.RequestsPerSecond,
			"new_rps", new.PopulateRateLimit.RequestsPerSecond,
			"old_burst", old.PopulateRateLimit.BurstSize,
			"new_burst", new.PopulateRateLimit.BurstSize,
		)
	}

	if old.Admin.Enabled != new.Admin.Enabled {
		r.logger.Info("admin enabled changed", "old", old.Admin.Enabled, "new", new.Admin.Enabled)
	}

	for i := range old.Layers {
		if old.Layers[i].CircuitBreaker != new.Layers[i].CircuitBreaker || old.Layers[i].TTLSeconds != new.Layers[i].TTLSeconds {
			r.logger.Info("layer config changed", "layer", i)
		}
	}
}
