// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Run is the completion handle of a scheduled job.
type Run struct {
	JobID     string
	CreatedAt time.Time

	// Done is closed once the job left processing or was abandoned.
	Done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newRun(id string, now time.Time) *Run {
	return &Run{JobID: id, CreatedAt: now, Done: make(chan struct{})}
}

// Wait blocks until the run completes or ctx ends. It returns the job's
// failure, if any.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.Done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the failure recorded when the run completed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) finish(msg string) {
	r.once.Do(func() {
		if msg != "" {
			r.mu.Lock()
			r.err = errors.New(msg)
			r.mu.Unlock()
		}
		close(r.Done)
	})
}
