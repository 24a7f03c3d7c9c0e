// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/vidgrab/internal/validate"
)

const (
	defaultSQLiteHistoryPath = "vidgrab-history.db"
	defaultBadgerHistoryPath = "vidgrab-history"
)

// normalize fills derived values that depend on other keys.
func normalize(cfg *AppConfig) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Queue.Backend = strings.ToLower(strings.TrimSpace(cfg.Queue.Backend))
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	cfg.History.Backend = strings.ToLower(strings.TrimSpace(cfg.History.Backend))
	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))

	if cfg.History.Path == "" {
		switch cfg.History.Backend {
		case BackendSQLite:
			cfg.History.Path = defaultSQLiteHistoryPath
		case BackendBadger:
			cfg.History.Path = defaultBadgerHistoryPath
		}
	}
}

// Validate reports every invalid setting in cfg at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("Log.Level", err.Error(), cfg.Log.Level)
	}

	v.ListenAddr("API.ListenAddr", cfg.API.ListenAddr)
	v.NonNegativeDuration("API.ReadHeaderTimeout", cfg.API.ReadHeaderTimeout)
	v.NonNegativeDuration("API.ReadTimeout", cfg.API.ReadTimeout)
	v.NonNegativeDuration("API.WriteTimeout", cfg.API.WriteTimeout)
	v.NonNegativeDuration("API.IdleTimeout", cfg.API.IdleTimeout)
	v.MinDuration("API.ShutdownTimeout", cfg.API.ShutdownTimeout, time.Second)
	for _, origin := range cfg.API.AllowedOrigins {
		if origin != "*" {
			v.URL("API.AllowedOrigins", origin, []string{"http", "https"})
		}
	}

	v.NotEmpty("Storage.Dir", cfg.Storage.Dir)

	v.MinDuration("Jobs.MaxAge", cfg.Jobs.MaxAge, time.Second)
	v.NonNegativeDuration("Jobs.SweepInterval", cfg.Jobs.SweepInterval)
	v.Range("Jobs.Workers", cfg.Jobs.Workers, 1, 256)
	v.Range("Jobs.QueueSize", cfg.Jobs.QueueSize, 1, 100000)

	v.NotEmpty("Engine.Binary", cfg.Engine.Binary)
	v.MinDuration("Engine.Timeout", cfg.Engine.Timeout, time.Second)
	v.Range("Engine.Retries", cfg.Engine.Retries, 0, 100)
	v.File("Engine.CookiesFile", cfg.Engine.CookiesFile)
	v.NotEmpty("Engine.AudioQuality", cfg.Engine.AudioQuality)
	for _, h := range cfg.Engine.AllowedHosts {
		if strings.ContainsAny(h, "/:@ ") {
			v.AddError("Engine.AllowedHosts", "entries must be bare host names", h)
		}
	}

	v.OneOf("Queue.Backend", cfg.Queue.Backend, []string{BackendMemory, BackendRedis})
	v.OneOf("Cache.Backend", cfg.Cache.Backend, []string{BackendMemory, BackendRedis})
	if cfg.Queue.Backend == BackendRedis {
		v.NotEmpty("Queue.Name", cfg.Queue.Name)
	}
	if cfg.Queue.Backend == BackendRedis || cfg.Cache.Backend == BackendRedis {
		v.HostPort("Redis.Addr", cfg.Redis.Addr)
		v.Range("Redis.DB", cfg.Redis.DB, 0, 15)
	}
	v.MinDuration("Cache.TTL", cfg.Cache.TTL, time.Second)

	v.OneOf("History.Backend", cfg.History.Backend, []string{BackendNone, BackendMemory, BackendSQLite, BackendBadger})
	if cfg.History.Backend == BackendSQLite || cfg.History.Backend == BackendBadger {
		v.NotEmpty("History.Path", cfg.History.Path)
		if cfg.History.Path != "" && insideDir(cfg.History.Path, cfg.Storage.Dir) {
			v.AddError("History.Path", "must not live inside Storage.Dir", cfg.History.Path)
		}
	}
	v.NonNegativeDuration("History.Retention", cfg.History.Retention)

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			v.AddError("RateLimit.RPS", fmt.Sprintf("must be positive, got %g", cfg.RateLimit.RPS), cfg.RateLimit.RPS)
		}
		v.Positive("RateLimit.Burst", cfg.RateLimit.Burst)
	}

	if cfg.Metrics.Enabled {
		v.ListenAddr("Metrics.ListenAddr", cfg.Metrics.ListenAddr)
		if cfg.Metrics.ListenAddr == cfg.API.ListenAddr {
			v.AddError("Metrics.ListenAddr", "must differ from API.ListenAddr", cfg.Metrics.ListenAddr)
		}
	}

	if cfg.Tracing.Enabled {
		v.OneOf("Tracing.Exporter", cfg.Tracing.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Tracing.Endpoint", cfg.Tracing.Endpoint)
		v.FloatRange("Tracing.SamplingRate", cfg.Tracing.SamplingRate, 0, 1)
	}

	return v.Err()
}

// insideDir reports whether path resolves to dir or somewhere below it.
func insideDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	p, err1 := filepath.Abs(path)
	d, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
