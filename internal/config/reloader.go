package config

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Reloader holds the live configuration and swaps it atomically on reload.
// The daemon triggers Reload on SIGHUP so budget ceilings, model pricing and
// poll intervals can change without dropping in-flight tasks.
type Reloader struct {
	configPath string
	dotenvPath string

	val atomic.Pointer[Config]

	mu       sync.Mutex // serializes Reload and guards watchers
	watchers []func(*Config)
}

// NewReloader starts from an already loaded config.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{configPath: configPath, dotenvPath: dotenvPath}
	r.val.Store(initial)
	return r
}

// Current returns the active config without locking.
func (r *Reloader) Current() *Config {
	return r.val.Load()
}

// Watch registers fn to run after every successful reload.
func (r *Reloader) Watch(fn func(*Config)) {
	r.mu.Lock()
	r.watchers = append(r.watchers, fn)
	r.mu.Unlock()
}

// Reload re-reads the .env file, then the config file. On any error the
// previous config stays active. Watchers run outside the lock, so one of
// them may trigger another Reload without deadlocking.
func (r *Reloader) Reload() error {
	r.mu.Lock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("reload dotenv: %w", err)
	}
	cfg, err := Load(r.configPath)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("reload config: %w", err)
	}

	r.val.Store(cfg)
	watchers := slices.Clone(r.watchers)
	r.mu.Unlock()

	slog.Info("configuration reloaded", "path", r.configPath)
	for _, fn := range watchers {
		fn(cfg)
	}
	return nil
}
