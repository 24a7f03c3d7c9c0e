// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		API: APIConfig{
			ListenAddr:        ":8000",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       10 * time.Second,
			ShutdownTimeout:   20 * time.Second,
		},
		Storage: StorageConfig{Dir: "downloads"},
		Jobs: JobsConfig{
			MaxAge:        time.Hour,
			SweepInterval: 5 * time.Minute,
			Workers:       4,
			QueueSize:     64,
		},
		Engine: EngineConfig{
			Binary:       "yt-dlp",
			Timeout:      10 * time.Minute,
			Retries:      5,
			AudioQuality: "192K",
		},
		Queue:   QueueConfig{Backend: BackendMemory, Name: "vidgrab:jobs"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Cache:   CacheConfig{Backend: BackendMemory, TTL: 10 * time.Minute},
		History: HistoryConfig{Backend: BackendNone, Retention: 7 * 24 * time.Hour},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     0.5,
			Burst:   5,
		},
		Metrics: MetricsConfig{Enabled: false, ListenAddr: ":9090"},
		Tracing: TracingConfig{Exporter: "grpc", Endpoint: "localhost:4317", SamplingRate: 0.1},
		Log:     LogConfig{Level: "info", Service: "vidgrab"},
	}
}
