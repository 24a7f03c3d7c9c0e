// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

// Task is a unit of work handed to a Scheduler.
type Task struct {
	JobID string
}

// ExecFunc runs one task to completion. It must not panic.
type ExecFunc func(ctx context.Context, jobID string)

// Scheduler decides where and when tasks run. Implementations must never
// block Schedule on task execution.
type Scheduler interface {
	// Start binds the executor and starts consuming. Called once by the Coordinator.
	Start(exec ExecFunc) error
	// Schedule enqueues t or fails fast with ErrQueueFull / ErrShuttingDown.
	Schedule(ctx context.Context, t Task) error
	// Close stops accepting tasks, cancels in-flight work and waits for
	// workers until ctx expires.
	Close(ctx context.Context) error
}

// PoolScheduler runs tasks on a fixed set of in-process workers fed by a
// bounded queue.
type PoolScheduler struct {
	workers int
	queue   chan Task

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Scheduler = (*PoolScheduler)(nil)

// NewPoolScheduler creates a pool with the given worker count and queue capacity.
func NewPoolScheduler(workers, queueSize int) *PoolScheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PoolScheduler{
		workers: workers,
		queue:   make(chan Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *PoolScheduler) Start(exec ExecFunc) error {
	if exec == nil {
		return fmt.Errorf("pool scheduler: nil executor")
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i, exec)
	}
	return nil
}

func (p *PoolScheduler) worker(n int, exec ExecFunc) {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.SetQueueDepth("memory", len(p.queue))
		p.run(n, exec, t)
	}
}

func (p *PoolScheduler) run(n int, exec ExecFunc, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("jobs")
			logger.Error().
				Str(log.FieldJobID, t.JobID).
				Int("worker", n).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker recovered from panic")
		}
	}()
	exec(p.ctx, t.JobID)
}

// Schedule enqueues t without blocking.
func (p *PoolScheduler) Schedule(_ context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrShuttingDown
	}
	select {
	case p.queue <- t:
		metrics.SetQueueDepth("memory", len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the pool. Tasks still queued are handed to workers with a
// cancelled context so they finish quickly.
func (p *PoolScheduler) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool scheduler: workers still running: %w", ctx.Err())
	}
}
