// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

// ArtifactRemover deletes a finished artifact by name. Missing files are not errors.
type ArtifactRemover interface {
	Delete(name string) error
}

// Recorder receives a snapshot whenever a job reaches a terminal state or is
// evicted. Implementations must not call back into the Registry.
type Recorder interface {
	Record(ctx context.Context, job Job) error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock injects the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRecorder attaches a history recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// Registry is the in-memory table of jobs. A single mutex guards the map;
// delivery and sweep serialize on it.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job

	maxAge   atomic.Int64
	now      func() time.Time
	newID    func() string
	remover  ArtifactRemover
	recorder Recorder
}

// NewRegistry creates an empty registry. remover may be nil when the caller
// manages artifacts itself.
func NewRegistry(remover ArtifactRemover, maxAge time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		jobs:    make(map[string]*Job),
		now:     time.Now,
		newID:   uuid.NewString,
		remover: remover,
	}
	r.maxAge.Store(int64(maxAge))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAge returns the current eviction threshold.
func (r *Registry) MaxAge() time.Duration {
	return time.Duration(r.maxAge.Load())
}

// SetMaxAge changes the eviction threshold at runtime.
func (r *Registry) SetMaxAge(d time.Duration) {
	r.maxAge.Store(int64(d))
}

// Create inserts a fresh processing job.
func (r *Registry) Create(req Request) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for attempts := 0; ; attempts++ {
		if _, taken := r.jobs[id]; !taken {
			break
		}
		if attempts >= 3 {
			return Job{}, fmt.Errorf("allocate job id: collision on %q", id)
		}
		id = r.newID()
	}

	now := r.now()
	j := &Job{
		ID:        id,
		Status:    StatusProcessing,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[id] = j
	metrics.SetJobsTracked(len(r.jobs))
	return *j, nil
}

// Update moves a processing job to done or error.
func (r *Registry) Update(id string, t Transition) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	if j.Status != StatusProcessing {
		r.mu.Unlock()
		return fmt.Errorf("update %s: %s -> %s: %w", id, j.Status, t.Status, ErrInvalidTransition)
	}

	switch t.Status {
	case StatusDone:
		if t.ArtifactName == "" {
			r.mu.Unlock()
			return fmt.Errorf("update %s: done without artifact: %w", id, ErrInvalidTransition)
		}
		j.ArtifactName = t.ArtifactName
		j.Title = t.Title
		j.Size = t.Size
	case StatusError:
		j.ErrorMessage = t.ErrorMessage
		if j.ErrorMessage == "" {
			j.ErrorMessage = "unknown error"
		}
	default:
		r.mu.Unlock()
		return fmt.Errorf("update %s: %s -> %s: %w", id, j.Status, t.Status, ErrInvalidTransition)
	}
	j.Status = t.Status
	j.UpdatedAt = r.now()
	snapshot := *j
	r.mu.Unlock()

	r.record(snapshot)
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Claim reserves a done job for delivery. Only one claim can succeed per job.
func (r *Registry) Claim(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != StatusDone || j.claimed {
		return Job{}, ErrNotReady
	}
	j.claimed = true
	return *j, nil
}

// Release ends a claim. When delivered is true the job becomes delivered and
// can never be claimed again; otherwise it returns to done.
func (r *Registry) Release(id string, delivered bool) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !j.claimed {
		r.mu.Unlock()
		return fmt.Errorf("release %s: not claimed: %w", id, ErrInvalidTransition)
	}
	j.claimed = false
	if !delivered {
		r.mu.Unlock()
		return nil
	}
	j.Status = StatusDelivered
	j.UpdatedAt = r.now()
	snapshot := *j
	r.mu.Unlock()

	r.record(snapshot)
	return nil
}

// Sweep evicts every job older than maxAge and deletes its artifact when one
// is still on disk. Jobs with a delivery in flight are left to the delivery.
// It returns the number of evicted jobs.
func (r *Registry) Sweep(maxAge time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var evicted []Job
	for id, j := range r.jobs {
		if now.Sub(j.CreatedAt) <= maxAge || j.claimed {
			continue
		}
		evicted = append(evicted, *j)
		delete(r.jobs, id)
	}
	tracked := len(r.jobs)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	metrics.SetJobsTracked(tracked)
	metrics.RecordExpired(len(evicted))

	logger := log.WithComponent("jobs")
	for _, j := range evicted {
		// Delivered artifacts were already removed by the delivery.
		if j.Status == StatusDone && j.ArtifactName != "" && r.remover != nil {
			if err := r.remover.Delete(j.ArtifactName); err != nil {
				logger.Warn().Err(err).
					Str(log.FieldJobID, j.ID).
					Str(log.FieldArtifact, j.ArtifactName).
					Msg("sweep: delete artifact")
			}
		}
		logger.Info().
			Str(log.FieldEvent, "job.expired").
			Str(log.FieldJobID, j.ID).
			Str(log.FieldOldState, string(j.Status)).
			Dur("age", now.Sub(j.CreatedAt)).
			Msg("job expired")

		j.Status = StatusExpired
		j.UpdatedAt = now
		r.record(j)
	}
	return len(evicted)
}

// SweepExpired runs Sweep with the current MaxAge.
func (r *Registry) SweepExpired() int {
	return r.Sweep(r.MaxAge())
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Registry) record(j Job) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(context.Background(), j); err != nil {
		metrics.RecordHistoryWriteError()
		logger := log.WithComponent("jobs")
		logger.Warn().Err(err).Str(log.FieldJobID, j.ID).Msg("history record failed")
	}
}
