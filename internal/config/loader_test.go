// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vidgrab/internal/validate"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Defaults()
	want.Version = "v1.2.3"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
logLevel: debug
api:
  listenAddr: "127.0.0.1:8080"
  writeTimeout: 2m
jobs:
  maxAge: 30m
  sweepInterval: 0s
  workers: 2
engine:
  retries: 0
  allowedHosts: [youtube.com, vimeo.com]
rateLimit:
  enabled: false
history:
  backend: memory
queue:
  instance: node-a
`)

	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.ListenAddr)
	assert.Equal(t, 2*time.Minute, cfg.API.WriteTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.MaxAge)
	assert.Zero(t, cfg.Jobs.SweepInterval)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Zero(t, cfg.Engine.Retries)
	assert.Equal(t, []string{"youtube.com", "vimeo.com"}, cfg.Engine.AllowedHosts)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, BackendMemory, cfg.History.Backend)
	assert.Equal(t, "node-a", cfg.Queue.Instance)

	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Jobs.QueueSize)
	assert.Equal(t, "yt-dlp", cfg.Engine.Binary)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
jobs:
  maxAge: 30m
storage:
  dir: /srv/files
`)
	t.Setenv("VIDGRAB_JOB_MAX_AGE", "2h")
	t.Setenv("VIDGRAB_ALLOWED_HOSTS", " youtube.com, ,vimeo.com ")
	t.Setenv("VIDGRAB_RATE_LIMIT_RPS", "3.5")
	t.Setenv("VIDGRAB_QUEUE_BACKEND", "REDIS")
	t.Setenv("VIDGRAB_QUEUE_INSTANCE", "node-b")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Jobs.MaxAge)
	assert.Equal(t, "/srv/files", cfg.Storage.Dir)
	assert.Equal(t, []string{"youtube.com", "vimeo.com"}, cfg.Engine.AllowedHosts)
	assert.InDelta(t, 3.5, cfg.RateLimit.RPS, 1e-9)
	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "node-b", cfg.Queue.Instance)
	assert.Contains(t, l.ConsumedEnvKeys, "VIDGRAB_JOB_MAX_AGE")
	assert.Contains(t, l.ConsumedEnvKeys, "VIDGRAB_LISTEN")
}

func TestInvalidEnvKeepsPreviousValue(t *testing.T) {
	t.Setenv("VIDGRAB_WORKERS", "many")
	t.Setenv("VIDGRAB_ENGINE_TIMEOUT", "soon")
	t.Setenv("VIDGRAB_METRICS_ENABLED", "")

	cfg, err := NewLoader("", "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Timeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"unknown field", "config.yaml", "jobs:\n  bogus: 1\n", "field bogus not found"},
		{"multiple documents", "config.yaml", "logLevel: info\n---\nlogLevel: debug\n", "multiple documents"},
		{"wrong extension", "config.json", "{}", "only YAML supported"},
		{"bad duration", "config.yaml", "jobs:\n  maxAge: forever\n", "parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := NewLoader(path, "dev").Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := NewLoader(filepath.Join(dir, "missing.yaml"), "dev").Load()
	require.Error(t, err)
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxAge)
}

func TestHistoryPathDefaultsPerBackend(t *testing.T) {
	t.Setenv("VIDGRAB_HISTORY_BACKEND", "sqlite")
	cfg, err := NewLoader("", "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, defaultSQLiteHistoryPath, cfg.History.Path)

	t.Setenv("VIDGRAB_HISTORY_BACKEND", "badger")
	cfg, err = NewLoader("", "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, defaultBadgerHistoryPath, cfg.History.Path)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "loud"
	cfg.API.ListenAddr = "nope"
	cfg.Jobs.Workers = 0
	cfg.Jobs.MaxAge = 0
	cfg.Queue.Backend = "kafka"
	cfg.History.Backend = BackendSQLite
	cfg.History.Path = filepath.Join(cfg.Storage.Dir, "history.db")
	cfg.RateLimit.RPS = 0
	cfg.Engine.AllowedHosts = []string{"https://youtube.com"}

	err := Validate(cfg)
	require.Error(t, err)

	var verr validate.ValidationError
	require.True(t, errors.As(err, &verr))

	fields := map[string]bool{}
	for _, e := range verr.Errors() {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"Log.Level", "API.ListenAddr", "Jobs.Workers", "Jobs.MaxAge",
		"Queue.Backend", "History.Path", "RateLimit.RPS", "Engine.AllowedHosts",
	} {
		assert.True(t, fields[f], "expected error for %s", f)
	}
}

func TestValidateRedisOnlyWhenUsed(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	require.NoError(t, Validate(cfg))

	cfg.Cache.Backend = BackendRedis
	require.Error(t, Validate(cfg))
}

func TestValidateMetricsListenerConflict(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = cfg.API.ListenAddr
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Metrics.ListenAddr")
}
