// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// reloadableKeys take effect without a restart. All other changes are
// recorded but only apply after the process restarts.
var reloadableKeys = map[string]bool{
	"Log.Level":   true,
	"Jobs.MaxAge": true,
}

// IsReloadable reports whether a dotted key applies at runtime.
func IsReloadable(key string) bool {
	return reloadableKeys[key]
}

// Holder owns the current configuration and reloads it from file on demand,
// on file change and on SIGHUP.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	reloadMu        sync.Mutex
	listenersMu     sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewHolder creates a holder with the initially loaded configuration.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates a fresh configuration. On failure the previous
// configuration stays in effect. Only reloadable keys are applied; other
// differences are logged as requiring a restart.
func (h *Holder) Reload(_ context.Context) error {
	if h.loader == nil {
		return errors.New("config reload: no loader configured")
	}
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	loaded, err := h.loader.Load()
	if err != nil {
		metrics.RecordConfigReload(false)
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	next := oldCfg
	next.Log.Level = loaded.Log.Level
	next.Jobs.MaxAge = loaded.Jobs.MaxAge
	h.current = next
	h.mu.Unlock()

	if next.Log.Level != oldCfg.Log.Level {
		if err := log.SetLevel(next.Log.Level); err != nil {
			h.logger.Warn().Err(err).Str("level", next.Log.Level).Msg("log level not applied")
		}
	}

	h.logChanges(oldCfg, loaded)
	h.notifyListeners(next)
	metrics.RecordConfigReload(true)

	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file for changes. It watches the parent
// directory so editors that replace the file by rename are still seen.
// Without a config file this is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher, filepath.Clean(path))
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str(log.FieldEvent, "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// StartSignalHandler reloads on SIGHUP until ctx is done. The handler is
// installed before it returns.
func (h *Holder) StartSignalHandler(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				h.logger.Info().Str(log.FieldEvent, "config.sighup").Msg("received SIGHUP")
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			}
		}
	}()
}

// RegisterListener registers a channel that receives the configuration after
// each successful reload. Sends never block; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, loaded AppConfig) {
	oldFlat, newFlat := Flatten(old), Flatten(loaded)
	for _, key := range Changed(old, loaded) {
		ev := h.logger.Info()
		msg := "config changed"
		if !IsReloadable(key) {
			ev = h.logger.Warn()
			msg = "config changed, restart required to apply"
		}
		ev.Str("key", key).
			Interface("old", oldFlat[key]).
			Interface("new", newFlat[key]).
			Msg(msg)
	}
}
