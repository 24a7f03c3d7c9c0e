// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps an audit trail of job outcomes that outlives the
// in-memory registry.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/vidgrab/internal/jobs"
	platformnet "github.com/ManuGH/vidgrab/internal/platform/net"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"

	// DefaultLimit caps List when the caller passes no limit.
	DefaultLimit = 100
	// MaxLimit is the largest page List returns.
	MaxLimit = 1000
)

// Entry is the latest known state of one job. Source URLs are stored without
// credentials or query strings.
type Entry struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Format     string    `json:"format"`
	Resolution string    `json:"resolution,omitempty"`
	Source     string    `json:"source"`
	Title      string    `json:"title,omitempty"`
	File       string    `json:"file,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromJob converts a registry snapshot into an Entry.
func FromJob(j jobs.Job) Entry {
	return Entry{
		JobID:      j.ID,
		Status:     string(j.Status),
		Format:     string(j.Request.Format),
		Resolution: j.Request.Resolution,
		Source:     platformnet.SanitizeURL(j.Request.URL),
		Title:      j.Title,
		File:       j.ArtifactName,
		Size:       j.Size,
		Error:      j.ErrorMessage,
		CreatedAt:  j.CreatedAt.UTC(),
		UpdatedAt:  j.UpdatedAt.UTC(),
	}
}

// Store persists entries. Record keeps only the newest state per job.
type Store interface {
	jobs.Recorder
	// List returns up to limit entries, most recently updated first.
	List(ctx context.Context, limit int) ([]Entry, error)
	// Prune drops entries last updated before the retention window.
	Prune(ctx context.Context) (int, error)
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Backend   string
	Path      string
	Retention time.Duration
	// Capacity bounds the memory backend.
	Capacity int
}

// Open returns the configured store, or nil when history is disabled.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(cfg.Capacity, cfg.Retention), nil
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("history: sqlite backend requires a path")
		}
		return OpenSQLiteStore(ctx, cfg.Path, cfg.Retention)
	case BackendBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("history: badger backend requires a path")
		}
		return OpenBadgerStore(cfg.Path, cfg.Retention)
	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.Backend)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, k int) bool {
		if entries[i].UpdatedAt.Equal(entries[k].UpdatedAt) {
			return entries[i].JobID < entries[k].JobID
		}
		return entries[i].UpdatedAt.After(entries[k].UpdatedAt)
	})
}
