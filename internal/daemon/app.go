// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

// Sweeper evicts expired jobs and accepts a new age threshold on reload.
type Sweeper interface {
	SweepExpired() int
	SetMaxAge(d time.Duration)
}

// Pruner drops history entries past retention.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// App owns the long-lived runtime lifecycle (reload wiring, janitor) and
// delegates server management to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager
	holder  *config.Holder
	jobs    Sweeper

	history       Pruner
	queueDepth    func(ctx context.Context) (int64, error)
	sweepInterval time.Duration
	watchSignals  bool
}

// NewApp creates a new App orchestrator. holder and jobs may be nil.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, jobs Sweeper) *App {
	a := &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		jobs:         jobs,
		watchSignals: true,
	}
	if holder != nil {
		a.sweepInterval = holder.Get().Jobs.SweepInterval
	}
	return a
}

// Manager returns the server manager, mainly so callers can add shutdown hooks.
func (a *App) Manager() Manager { return a.manager }

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.holder != nil {
		// Best-effort: startup must not fail because the watcher could not start.
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		if a.watchSignals {
			a.holder.StartSignalHandler(ctx)
		}
		if a.jobs != nil {
			applyCh := make(chan config.AppConfig, 1)
			a.holder.RegisterListener(applyCh)
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case cfg := <-applyCh:
						a.jobs.SetMaxAge(cfg.Jobs.MaxAge)
						a.logger.Info().
							Str(log.FieldEvent, "jobs.max_age_applied").
							Dur("max_age", cfg.Jobs.MaxAge).
							Msg("job max age updated")
					}
				}
			})
		}
	}

	if a.jobs != nil && a.sweepInterval > 0 {
		g.Go(func() error {
			a.runJanitor(ctx)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

func (a *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// sweep runs one janitor pass. Reads sweep too; this pass only bounds how
// long an unread artifact stays on disk.
func (a *App) sweep(ctx context.Context) {
	if n := a.jobs.SweepExpired(); n > 0 {
		a.logger.Debug().Int("evicted", n).Msg("janitor evicted expired jobs")
	}
	if a.history != nil {
		n, err := a.history.Prune(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "history.prune_failed").Msg("history prune failed")
		} else if n > 0 {
			a.logger.Debug().Int("pruned", n).Msg("history pruned")
		}
	}
	if a.queueDepth != nil {
		if n, err := a.queueDepth(ctx); err == nil {
			metrics.SetQueueDepth("redis", int(n))
		}
	}
}
