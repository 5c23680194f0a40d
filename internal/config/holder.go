// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/rs/zerolog"
)

// Holder holds configuration with atomic hot-reload, mirroring the
// teacher's config.ConfigHolder. The gateway watches its YAML file for
// rate-limit and polling-cadence tuning without a restart; the kiosk
// uses it the same way for debounce/confirmation-window tuning.
type Holder struct {
	reloadMu sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	loader   *Loader
	logger   zerolog.Logger

	configDir  string
	configFile string
	watcher    *fsnotify.Watcher

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

// NewHolder wraps an already-loaded Config as the initial snapshot.
func NewHolder(initial Config, loader *Loader) *Holder {
	h := &Holder{loader: loader, logger: log.WithComponent("config")}
	snap := NewSnapshot(initial)
	h.snapshot.Store(&snap)
	return h
}

// Get returns the current effective configuration.
func (h *Holder) Get() Config { return h.Current().Config }

// Current returns the current immutable Snapshot.
func (h *Holder) Current() Snapshot {
	p := h.snapshot.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}

// Subscribe registers a channel that receives the new Config after every
// successful reload. The channel must not block the sender.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-reads the config file plus environment and swaps it in only
// if it validates; on failure the previous Config remains in effect.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload: load failed, keeping previous config")
		return fmt.Errorf("load config: %w", err)
	}

	next := h.Current().Next(newCfg)
	h.snapshot.Store(&next)
	h.notify(newCfg)
	h.logger.Info().Uint64("epoch", next.Epoch).Msg("configuration reloaded")
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// StartWatcher watches the loader's config file (if any) for changes and
// reloads on write/create/rename, debounced to absorb editor tmp+rename
// sequences. No-op when the loader has no file path (ENV-only config).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.loader.configPath == "" {
		h.logger.Info().Msg("config watcher disabled (ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher
	h.configDir = filepath.Dir(h.loader.configPath)
	h.configFile = filepath.Base(h.loader.configPath)

	if err := watcher.Add(h.configDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().Str("path", h.loader.configPath).Msg("watching config file for changes")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	const debounceDuration = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if h.configFile != "" && filepath.Base(event.Name) != h.configFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(); err != nil {
						h.logger.Error().Err(err).Msg("automatic config reload failed")
					}
				})
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
