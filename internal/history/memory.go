// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/vidgrab/internal/jobs"
)

const defaultCapacity = 1000

// MemoryStore keeps entries in process memory, evicting the least recently
// updated entry once Capacity is reached.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]Entry
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a bounded in-memory store.
func NewMemoryStore(capacity int, retention time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{
		entries:   make(map[string]Entry),
		capacity:  capacity,
		retention: retention,
		now:       time.Now,
	}
}

// Record stores the job's latest state.
func (m *MemoryStore) Record(_ context.Context, j jobs.Job) error {
	e := FromJob(j)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[e.JobID]; ok && prev.UpdatedAt.After(e.UpdatedAt) {
		return nil
	}
	m.entries[e.JobID] = e
	if len(m.entries) > m.capacity {
		m.evictOldest()
	}
	return nil
}

func (m *MemoryStore) evictOldest() {
	var oldest string
	var at time.Time
	for id, e := range m.entries {
		if oldest == "" || e.UpdatedAt.Before(at) {
			oldest, at = id, e.UpdatedAt
		}
	}
	delete(m.entries, oldest)
}

// List returns the newest entries first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.Unlock()

	sortNewestFirst(out)
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Prune removes entries older than the retention window.
func (m *MemoryStore) Prune(_ context.Context) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
