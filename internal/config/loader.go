// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds an AppConfig from defaults, an optional YAML file and the
// environment.
type Loader struct {
	configPath string
	version    string

	// ConsumedEnvKeys records every environment key the loader consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty path skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configured file path.
func (l *Loader) Path() string {
	if l == nil {
		return ""
	}
	return l.configPath
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load applies defaults, then the file (strict), then the environment, and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.mergeEnvConfig(&cfg)
	normalize(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &fileCfg, nil
		}
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("parse YAML: multiple documents are not supported")
		}
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &fileCfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setList(dst *[]string, v []string) {
	if v != nil {
		*dst = append([]string(nil), v...)
	}
}

func mergeFileConfig(cfg *AppConfig, src *FileConfig) {
	setString(&cfg.Log.Level, src.LogLevel)
	setString(&cfg.Log.Service, src.LogService)

	setString(&cfg.API.ListenAddr, src.API.ListenAddr)
	setDuration(&cfg.API.ReadHeaderTimeout, src.API.ReadHeaderTimeout)
	setDuration(&cfg.API.ReadTimeout, src.API.ReadTimeout)
	setPtr(&cfg.API.WriteTimeout, src.API.WriteTimeout)
	setDuration(&cfg.API.IdleTimeout, src.API.IdleTimeout)
	setDuration(&cfg.API.ShutdownTimeout, src.API.ShutdownTimeout)
	setList(&cfg.API.AllowedOrigins, src.API.AllowedOrigins)

	setString(&cfg.Storage.Dir, src.Storage.Dir)

	setDuration(&cfg.Jobs.MaxAge, src.Jobs.MaxAge)
	setPtr(&cfg.Jobs.SweepInterval, src.Jobs.SweepInterval)
	setInt(&cfg.Jobs.Workers, src.Jobs.Workers)
	setInt(&cfg.Jobs.QueueSize, src.Jobs.QueueSize)

	setString(&cfg.Engine.Binary, src.Engine.Binary)
	setDuration(&cfg.Engine.Timeout, src.Engine.Timeout)
	setPtr(&cfg.Engine.Retries, src.Engine.Retries)
	setString(&cfg.Engine.CookiesFile, src.Engine.CookiesFile)
	setString(&cfg.Engine.AudioQuality, src.Engine.AudioQuality)
	setList(&cfg.Engine.AllowedHosts, src.Engine.AllowedHosts)
	setPtr(&cfg.Engine.AllowPrivate, src.Engine.AllowPrivate)

	setString(&cfg.Queue.Backend, src.Queue.Backend)
	setString(&cfg.Queue.Name, src.Queue.Name)
	setString(&cfg.Queue.Instance, src.Queue.Instance)

	setString(&cfg.Redis.Addr, src.Redis.Addr)
	setString(&cfg.Redis.Password, src.Redis.Password)
	setPtr(&cfg.Redis.DB, src.Redis.DB)

	setString(&cfg.Cache.Backend, src.Cache.Backend)
	setDuration(&cfg.Cache.TTL, src.Cache.TTL)

	setString(&cfg.History.Backend, src.History.Backend)
	setString(&cfg.History.Path, src.History.Path)
	setPtr(&cfg.History.Retention, src.History.Retention)

	setPtr(&cfg.RateLimit.Enabled, src.RateLimit.Enabled)
	if src.RateLimit.RPS != 0 {
		cfg.RateLimit.RPS = src.RateLimit.RPS
	}
	setInt(&cfg.RateLimit.Burst, src.RateLimit.Burst)
	setPtr(&cfg.RateLimit.TrustProxy, src.RateLimit.TrustProxy)

	setPtr(&cfg.Metrics.Enabled, src.Metrics.Enabled)
	setString(&cfg.Metrics.ListenAddr, src.Metrics.ListenAddr)

	setPtr(&cfg.Tracing.Enabled, src.Tracing.Enabled)
	setString(&cfg.Tracing.Exporter, src.Tracing.Exporter)
	setString(&cfg.Tracing.Endpoint, src.Tracing.Endpoint)
	setPtr(&cfg.Tracing.SamplingRate, src.Tracing.SamplingRate)
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Log.Level = l.envString("VIDGRAB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("VIDGRAB_LOG_SERVICE", cfg.Log.Service)

	cfg.API.ListenAddr = l.envString("VIDGRAB_LISTEN", cfg.API.ListenAddr)
	cfg.API.ReadHeaderTimeout = l.envDuration("VIDGRAB_READ_HEADER_TIMEOUT", cfg.API.ReadHeaderTimeout)
	cfg.API.ReadTimeout = l.envDuration("VIDGRAB_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = l.envDuration("VIDGRAB_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = l.envDuration("VIDGRAB_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.ShutdownTimeout = l.envDuration("VIDGRAB_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.AllowedOrigins = l.envList("VIDGRAB_ALLOWED_ORIGINS", cfg.API.AllowedOrigins)

	cfg.Storage.Dir = l.envString("VIDGRAB_DOWNLOAD_DIR", cfg.Storage.Dir)

	cfg.Jobs.MaxAge = l.envDuration("VIDGRAB_JOB_MAX_AGE", cfg.Jobs.MaxAge)
	cfg.Jobs.SweepInterval = l.envDuration("VIDGRAB_SWEEP_INTERVAL", cfg.Jobs.SweepInterval)
	cfg.Jobs.Workers = l.envInt("VIDGRAB_WORKERS", cfg.Jobs.Workers)
	cfg.Jobs.QueueSize = l.envInt("VIDGRAB_QUEUE_SIZE", cfg.Jobs.QueueSize)

	cfg.Engine.Binary = l.envString("VIDGRAB_ENGINE_BIN", cfg.Engine.Binary)
	cfg.Engine.Timeout = l.envDuration("VIDGRAB_ENGINE_TIMEOUT", cfg.Engine.Timeout)
	cfg.Engine.Retries = l.envInt("VIDGRAB_ENGINE_RETRIES", cfg.Engine.Retries)
	cfg.Engine.CookiesFile = l.envString("VIDGRAB_COOKIES_FILE", cfg.Engine.CookiesFile)
	cfg.Engine.AudioQuality = l.envString("VIDGRAB_AUDIO_QUALITY", cfg.Engine.AudioQuality)
	cfg.Engine.AllowedHosts = l.envList("VIDGRAB_ALLOWED_HOSTS", cfg.Engine.AllowedHosts)
	cfg.Engine.AllowPrivate = l.envBool("VIDGRAB_ALLOW_PRIVATE_HOSTS", cfg.Engine.AllowPrivate)

	cfg.Queue.Backend = l.envString("VIDGRAB_QUEUE_BACKEND", cfg.Queue.Backend)
	cfg.Queue.Name = l.envString("VIDGRAB_QUEUE_NAME", cfg.Queue.Name)
	cfg.Queue.Instance = l.envString("VIDGRAB_QUEUE_INSTANCE", cfg.Queue.Instance)

	cfg.Redis.Addr = l.envString("VIDGRAB_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("VIDGRAB_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("VIDGRAB_REDIS_DB", cfg.Redis.DB)

	cfg.Cache.Backend = l.envString("VIDGRAB_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = l.envDuration("VIDGRAB_CACHE_TTL", cfg.Cache.TTL)

	cfg.History.Backend = l.envString("VIDGRAB_HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.Path = l.envString("VIDGRAB_HISTORY_PATH", cfg.History.Path)
	cfg.History.Retention = l.envDuration("VIDGRAB_HISTORY_RETENTION", cfg.History.Retention)

	cfg.RateLimit.Enabled = l.envBool("VIDGRAB_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RPS = l.envFloat("VIDGRAB_RATE_LIMIT_RPS", cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = l.envInt("VIDGRAB_RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.TrustProxy = l.envBool("VIDGRAB_TRUST_PROXY", cfg.RateLimit.TrustProxy)

	cfg.Metrics.Enabled = l.envBool("VIDGRAB_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString("VIDGRAB_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Tracing.Enabled = l.envBool("VIDGRAB_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = l.envString("VIDGRAB_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = l.envString("VIDGRAB_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = l.envFloat("VIDGRAB_TRACING_SAMPLING", cfg.Tracing.SamplingRate)
}
