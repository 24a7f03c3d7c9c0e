// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the vidgrab service graph and runs its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ManuGH/vidgrab/internal/api"
	"github.com/ManuGH/vidgrab/internal/api/middleware"
	"github.com/ManuGH/vidgrab/internal/artifact"
	"github.com/ManuGH/vidgrab/internal/cache"
	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/delivery"
	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/engine/ytdlp"
	"github.com/ManuGH/vidgrab/internal/health"
	"github.com/ManuGH/vidgrab/internal/history"
	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
	platformnet "github.com/ManuGH/vidgrab/internal/platform/net"
	"github.com/ManuGH/vidgrab/internal/queue"
	"github.com/ManuGH/vidgrab/internal/ratelimit"
	"github.com/ManuGH/vidgrab/internal/telemetry"
)

const (
	historyCapacity      = 1000
	cacheCleanupInterval = time.Minute
	probeCachePrefix     = "vidgrab:probe:"

	// API-wide request window applied in front of the submit limiter.
	apiRequestsPerMinute = 300
)

// Options overrides pieces of the graph. Zero values select the configured
// production implementation.
type Options struct {
	Version string
	// Engine replaces the yt-dlp adapter.
	Engine engine.Engine
	// Clock replaces time.Now in the job registry.
	Clock func() time.Time
}

// Bootstrap builds every component from the holder's current config and
// returns an App ready to Run. Resources acquired here are released by the
// manager's shutdown hooks, or immediately when Bootstrap fails.
func Bootstrap(ctx context.Context, holder *config.Holder, opts Options) (_ *App, err error) {
	if holder == nil {
		return nil, errors.New("config holder is required")
	}
	cfg := holder.Get()
	logger := log.WithComponent("daemon")
	metrics.SetBuildInfo(opts.Version)

	var hooks []namedHook
	addHook := func(name string, h ShutdownHook) { hooks = append(hooks, namedHook{name: name, hook: h}) }
	defer func() {
		if err == nil {
			return
		}
		for i := len(hooks) - 1; i >= 0; i-- {
			_ = hooks[i].hook(context.WithoutCancel(ctx))
		}
	}()

	tracer, terr := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: opts.Version,
		Environment:    "production",
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if terr != nil {
		logger.Warn().Err(terr).Msg("telemetry initialization failed, continuing without tracing")
		cfg.Tracing.Enabled = false
	} else {
		addHook("telemetry", tracer.Shutdown)
	}

	store, err := artifact.NewStore(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	// Jobs never survive a restart, so everything on disk is an orphan.
	if n, perr := store.PruneOrphans(0); perr != nil {
		logger.Warn().Err(perr).Msg("startup orphan cleanup failed")
	} else if n > 0 {
		logger.Info().Int("removed", n).Str(log.FieldRoot, store.Root()).Msg("removed orphaned artifacts")
	}

	hist, err := history.Open(ctx, history.Config{
		Backend:   cfg.History.Backend,
		Path:      cfg.History.Path,
		Retention: cfg.History.Retention,
		Capacity:  historyCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if hist != nil {
		addHook("history", func(context.Context) error { return hist.Close() })
	}

	regOpts := []jobs.RegistryOption{}
	if hist != nil {
		regOpts = append(regOpts, jobs.WithRecorder(hist))
	}
	if opts.Clock != nil {
		regOpts = append(regOpts, jobs.WithClock(opts.Clock))
	}
	registry := jobs.NewRegistry(store, cfg.Jobs.MaxAge, regOpts...)

	var rdb *redis.Client
	if cfg.Queue.Backend == config.BackendRedis || cfg.Cache.Backend == config.BackendRedis {
		rdb, err = queue.Dial(ctx, queue.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		addHook("redis", func(context.Context) error { return rdb.Close() })
	}

	eng := opts.Engine
	if eng == nil {
		eng = ytdlp.New(ytdlp.Config{
			Binary:       cfg.Engine.Binary,
			Retries:      cfg.Engine.Retries,
			CookiesFile:  cfg.Engine.CookiesFile,
			AudioQuality: cfg.Engine.AudioQuality,
		})
	}

	policy, err := platformnet.NewSourcePolicy(cfg.Engine.AllowedHosts, cfg.Engine.AllowPrivate)
	if err != nil {
		return nil, fmt.Errorf("source policy: %w", err)
	}

	var (
		sched      jobs.Scheduler
		queueDepth func(context.Context) (int64, error)
	)
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		rs := queue.NewRedisScheduler(rdb, queue.RedisConfig{
			Queue:    cfg.Queue.Name,
			Instance: queueInstance(cfg.Queue.Instance),
			Workers:  cfg.Jobs.Workers,
			MaxLen:   cfg.Jobs.QueueSize,
		})
		sched, queueDepth = rs, rs.Len
	default:
		sched = jobs.NewPoolScheduler(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	}

	coord, err := jobs.NewCoordinator(registry, eng, store, sched, jobs.CoordinatorConfig{
		EngineTimeout: cfg.Engine.Timeout,
		Policy:        policy,
	})
	if err != nil {
		return nil, err
	}

	var probeStore cache.Cache
	if cfg.Cache.Backend == config.BackendRedis {
		probeStore = cache.NewRedisCache(rdb, probeCachePrefix)
	} else {
		probeStore = cache.NewMemoryCache(cacheCleanupInterval)
	}
	addHook("probe_cache", func(context.Context) error { return probeStore.Close() })
	// Registered last so it runs first: workers drain before the stores they write to close.
	addHook("coordinator", coord.Shutdown)

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewDirWritableChecker("download_dir", store.Root()))
	if opts.Engine == nil {
		hm.RegisterChecker(health.NewBinaryChecker("engine_binary", cfg.Engine.Binary))
	}
	if cfg.Engine.CookiesFile != "" {
		hm.RegisterChecker(health.NewFileChecker("cookies_file", cfg.Engine.CookiesFile))
	}
	if rdb != nil {
		hm.RegisterChecker(health.NewFuncChecker("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	deps := api.Deps{
		Coordinator: coord,
		Jobs:        registry,
		Delivery:    delivery.NewService(registry, store),
		Formats:     cache.NewProbeCache(probeStore, eng, cfg.Cache.TTL),
		Health:      hm,
		Stack: middleware.StackConfig{
			AllowedOrigins:        cfg.API.AllowedOrigins,
			EnableSecurityHeaders: true,
			EnableMetrics:         cfg.Metrics.Enabled,
			EnableLogging:         true,
		},
	}
	if hist != nil {
		deps.History = hist
	}
	if cfg.Tracing.Enabled {
		deps.Stack.TracingService = cfg.Log.Service
	}
	if cfg.RateLimit.Enabled {
		deps.Limiter = ratelimit.New(submitLimits(cfg.RateLimit))
		deps.Stack.RateLimitRequests = apiRequestsPerMinute
		deps.Stack.RateLimitWindow = time.Minute
	}
	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.Handler()
	}
	mgr, err := NewManager(cfg.API, Deps{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     srv.Handler(),
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}

	app := NewApp(logger, mgr, holder, registry)
	if hist != nil {
		app.history = hist
	}
	app.queueDepth = queueDepth

	logger.Info().
		Str(log.FieldEvent, "daemon.bootstrapped").
		Str(log.FieldRoot, store.Root()).
		Str("queue", cfg.Queue.Backend).
		Str("cache", cfg.Cache.Backend).
		Str("history", cfg.History.Backend).
		Int("workers", cfg.Jobs.Workers).
		Dur("max_age", cfg.Jobs.MaxAge).
		Msg("service graph ready")
	return app, nil
}

// submitLimits maps the operator's per-client budget onto the limiter
// defaults; the global and per-format buckets keep their defaults.
func submitLimits(rc config.RateLimitConfig) ratelimit.Config {
	lc := ratelimit.DefaultConfig()
	if rc.RPS > 0 {
		lc.PerIPRate = rate.Limit(rc.RPS)
	}
	if rc.Burst > 0 {
		lc.PerIPBurst = rc.Burst
	}
	lc.TrustProxyHeaders = rc.TrustProxy
	return lc
}

// queueInstance falls back to the host name so a restarted daemon resets only
// the list it owned before.
func queueInstance(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "default"
}
