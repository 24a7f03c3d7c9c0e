// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// AppConfig is the effective runtime configuration.
type AppConfig struct {
	Version string

	API       APIConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	Engine    EngineConfig
	Queue     QueueConfig
	Redis     RedisConfig
	Cache     CacheConfig
	History   HistoryConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Log       LogConfig
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout of zero lets large downloads stream without a deadline.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StorageConfig locates the managed artifact directory.
type StorageConfig struct {
	Dir string
}

// JobsConfig tunes the registry and the in-process worker pool.
type JobsConfig struct {
	MaxAge time.Duration
	// SweepInterval of zero disables the background janitor. Reads still sweep.
	SweepInterval time.Duration
	Workers       int
	QueueSize     int
}

// EngineConfig configures the yt-dlp adapter and source URL policy.
type EngineConfig struct {
	Binary       string
	Timeout      time.Duration
	Retries      int
	CookiesFile  string
	AudioQuality string
	AllowedHosts []string
	AllowPrivate bool
}

// QueueConfig selects the scheduler backend.
type QueueConfig struct {
	Backend string
	Name    string
	// Instance suffixes the Redis list key. Empty means the host name.
	Instance string
}

// RedisConfig is shared by the Redis queue and cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig configures the format probe cache.
type CacheConfig struct {
	Backend string
	TTL     time.Duration
}

// HistoryConfig configures the job history store.
type HistoryConfig struct {
	Backend   string
	Path      string
	Retention time.Duration
}

// RateLimitConfig throttles submissions.
type RateLimitConfig struct {
	Enabled    bool
	RPS        float64
	Burst      int
	TrustProxy bool
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level   string
	Service string
}

// FileConfig is the YAML document. Pointer fields distinguish "unset" from
// an explicit zero.
type FileConfig struct {
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`

	API       APIFileConfig       `yaml:"api,omitempty"`
	Storage   StorageFileConfig   `yaml:"storage,omitempty"`
	Jobs      JobsFileConfig      `yaml:"jobs,omitempty"`
	Engine    EngineFileConfig    `yaml:"engine,omitempty"`
	Queue     QueueFileConfig     `yaml:"queue,omitempty"`
	Redis     RedisFileConfig     `yaml:"redis,omitempty"`
	Cache     CacheFileConfig     `yaml:"cache,omitempty"`
	History   HistoryFileConfig   `yaml:"history,omitempty"`
	RateLimit RateLimitFileConfig `yaml:"rateLimit,omitempty"`
	Metrics   MetricsFileConfig   `yaml:"metrics,omitempty"`
	Tracing   TracingFileConfig   `yaml:"tracing,omitempty"`
}

type APIFileConfig struct {
	ListenAddr        string         `yaml:"listenAddr,omitempty"`
	ReadHeaderTimeout time.Duration  `yaml:"readHeaderTimeout,omitempty"`
	ReadTimeout       time.Duration  `yaml:"readTimeout,omitempty"`
	WriteTimeout      *time.Duration `yaml:"writeTimeout,omitempty"`
	IdleTimeout       time.Duration  `yaml:"idleTimeout,omitempty"`
	ShutdownTimeout   time.Duration  `yaml:"shutdownTimeout,omitempty"`
	AllowedOrigins    []string       `yaml:"allowedOrigins,omitempty"`
}

type StorageFileConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

type JobsFileConfig struct {
	MaxAge        time.Duration  `yaml:"maxAge,omitempty"`
	SweepInterval *time.Duration `yaml:"sweepInterval,omitempty"`
	Workers       int            `yaml:"workers,omitempty"`
	QueueSize     int            `yaml:"queueSize,omitempty"`
}

type EngineFileConfig struct {
	Binary       string        `yaml:"binary,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	Retries      *int          `yaml:"retries,omitempty"`
	CookiesFile  string        `yaml:"cookiesFile,omitempty"`
	AudioQuality string        `yaml:"audioQuality,omitempty"`
	AllowedHosts []string      `yaml:"allowedHosts,omitempty"`
	AllowPrivate *bool         `yaml:"allowPrivate,omitempty"`
}

type QueueFileConfig struct {
	Backend  string `yaml:"backend,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Instance string `yaml:"instance,omitempty"`
}

type RedisFileConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
}

type CacheFileConfig struct {
	Backend string        `yaml:"backend,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

type HistoryFileConfig struct {
	Backend   string         `yaml:"backend,omitempty"`
	Path      string         `yaml:"path,omitempty"`
	Retention *time.Duration `yaml:"retention,omitempty"`
}

type RateLimitFileConfig struct {
	Enabled    *bool   `yaml:"enabled,omitempty"`
	RPS        float64 `yaml:"rps,omitempty"`
	Burst      int     `yaml:"burst,omitempty"`
	TrustProxy *bool   `yaml:"trustProxy,omitempty"`
}

type MetricsFileConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	ListenAddr string `yaml:"listenAddr,omitempty"`
}

type TracingFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
