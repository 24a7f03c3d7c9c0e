// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/vidgrab/internal/artifact"
	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/fsutil"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
	platformnet "github.com/ManuGH/vidgrab/internal/platform/net"
	"github.com/ManuGH/vidgrab/internal/telemetry"
)

const (
	// DefaultEngineTimeout bounds a single extraction.
	DefaultEngineTimeout = 10 * time.Minute

	msgStorageError = "internal storage error"
	msgCancelled    = "cancelled: service shutting down"
	msgQueueFull    = "queue full"
)

// Artifacts is the slice of the artifact store the coordinator needs.
type Artifacts interface {
	WorkDir(jobID string) (string, error)
	RemoveWorkDir(jobID string) error
	Finalize(rawPath, desiredName string) (string, error)
	Delete(name string) error
}

// SubmitRequest is the raw caller input.
type SubmitRequest struct {
	URL        string
	Format     string
	Resolution string
}

// CoordinatorConfig tunes execution.
type CoordinatorConfig struct {
	EngineTimeout time.Duration
	Policy        platformnet.SourcePolicy
}

// Coordinator accepts submissions and runs them against the engine off the
// request path. Results flow back only through the Registry.
type Coordinator struct {
	reg    *Registry
	eng    engine.Engine
	store  Artifacts
	sched  Scheduler
	cfg    CoordinatorConfig
	tracer trace.Tracer

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
}

// NewCoordinator wires the coordinator and starts the scheduler.
func NewCoordinator(reg *Registry, eng engine.Engine, store Artifacts, sched Scheduler, cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = DefaultEngineTimeout
	}
	c := &Coordinator{
		reg:    reg,
		eng:    eng,
		store:  store,
		sched:  sched,
		cfg:    cfg,
		tracer: telemetry.Tracer("github.com/ManuGH/vidgrab/internal/jobs"),
		runs:   make(map[string]*Run),
	}
	if err := sched.Start(c.Execute); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	return c, nil
}

// Registry exposes the registry the coordinator writes to.
func (c *Coordinator) Registry() *Registry { return c.reg }

// ParseRequest validates caller input into a Request.
func (c *Coordinator) ParseRequest(in SubmitRequest) (Request, error) {
	if strings.TrimSpace(in.URL) == "" {
		return Request{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	normalized, err := c.cfg.Policy.Validate(in.URL)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	choice, err := engine.ParseFormatChoice(in.Format)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req := Request{URL: normalized, Format: choice}
	if choice == engine.FormatVideo {
		h, err := engine.ParseResolution(in.Resolution)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.MaxHeight = h
		req.Resolution = strings.ToLower(strings.TrimSpace(in.Resolution))
	}
	return req, nil
}

// Submit validates in, creates a job and schedules it. It never waits for
// the extraction.
func (c *Coordinator) Submit(ctx context.Context, in SubmitRequest) (Job, error) {
	logger := log.WithComponentFromContext(ctx, "jobs")

	req, err := c.ParseRequest(in)
	if err != nil {
		metrics.RecordRejected("invalid")
		return Job{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.RecordRejected("shutting_down")
		return Job{}, ErrShuttingDown
	}
	job, err := c.reg.Create(req)
	if err != nil {
		c.mu.Unlock()
		return Job{}, err
	}
	run := newRun(job.ID, job.CreatedAt)
	c.runs[job.ID] = run
	c.mu.Unlock()

	if err := c.sched.Schedule(ctx, Task{JobID: job.ID}); err != nil {
		msg := "scheduling failed"
		reason := "schedule_error"
		switch {
		case errors.Is(err, ErrQueueFull):
			msg, reason = msgQueueFull, "queue_full"
		case errors.Is(err, ErrShuttingDown):
			msg, reason = msgCancelled, "shutting_down"
		}
		metrics.RecordRejected(reason)
		_ = c.reg.Update(job.ID, Failed(msg))
		c.finishRun(job.ID, msg)
		logger.Warn().Err(err).
			Str(log.FieldEvent, "job.rejected").
			Str(log.FieldJobID, job.ID).
			Msg("job could not be scheduled")
		return job, err
	}

	metrics.RecordSubmitted(string(req.Format))
	logger.Info().
		Str(log.FieldEvent, "job.submitted").
		Str(log.FieldJobID, job.ID).
		Str(log.FieldFormat, string(req.Format)).
		Str("resolution", req.Resolution).
		Str(log.FieldSourceURL, platformnet.SanitizeURL(req.URL)).
		Msg("job submitted")
	return job, nil
}

// Run returns the completion handle for id, or nil once it completed.
func (c *Coordinator) Run(id string) *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id]
}

// Wait blocks until job id left processing. Unknown or finished ids return at once.
func (c *Coordinator) Wait(ctx context.Context, id string) error {
	run := c.Run(id)
	if run == nil {
		return nil
	}
	return run.Wait(ctx)
}

func (c *Coordinator) finishRun(id, msg string) {
	c.mu.Lock()
	run := c.runs[id]
	delete(c.runs, id)
	c.mu.Unlock()
	if run != nil {
		run.finish(msg)
	}
}

// Execute runs one job to a terminal state. Schedulers call it on worker
// goroutines; it never panics and always leaves the job done or error.
func (c *Coordinator) Execute(ctx context.Context, id string) {
	var failure string
	defer func() { c.finishRun(id, failure) }()

	job, err := c.reg.Get(id)
	if err != nil || job.Status != StatusProcessing {
		// Swept or already finished before a worker picked it up.
		return
	}

	ctx = log.ContextWithJobID(ctx, id)
	logger := log.WithComponentFromContext(ctx, "jobs")

	host := ""
	if u, err := url.Parse(job.Request.URL); err == nil {
		host = u.Hostname()
	}
	ctx, span := c.tracer.Start(ctx, "jobs.execute",
		trace.WithAttributes(telemetry.JobAttributes(id, string(job.Request.Format), job.Request.MaxHeight, host)...))
	defer span.End()

	start := time.Now()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	t, outcome := c.extract(ctx, job)
	elapsed := time.Since(start)

	if err := c.reg.Update(id, t); err != nil {
		if t.Status == StatusDone {
			// The job was swept while running; nobody will ever fetch the file.
			if delErr := c.store.Delete(t.ArtifactName); delErr != nil {
				logger.Warn().Err(delErr).Str(log.FieldArtifact, t.ArtifactName).Msg("delete orphaned artifact")
			}
		}
		outcome = "orphaned"
		failure = "job no longer tracked"
		logger.Warn().Err(err).
			Str(log.FieldEvent, "job.orphaned").
			Str(log.FieldNewState, string(t.Status)).
			Msg("job left registry before completion")
	}
	metrics.RecordFinished(string(job.Request.Format), outcome, elapsed)
	span.SetAttributes(telemetry.OutcomeAttributes(string(t.Status), elapsed.Milliseconds(), t.Size)...)

	if t.Status == StatusError {
		failure = t.ErrorMessage
		span.SetStatus(codes.Error, t.ErrorMessage)
		span.SetAttributes(telemetry.ErrorAttributes(outcome)...)
		logger.Warn().
			Str(log.FieldEvent, "job.failed").
			Str(log.FieldNewState, string(StatusError)).
			Str("reason", t.ErrorMessage).
			Dur("duration", elapsed).
			Msg("job failed")
		return
	}
	if outcome == "orphaned" {
		return
	}
	logger.Info().
		Str(log.FieldEvent, "job.done").
		Str(log.FieldNewState, string(StatusDone)).
		Str(log.FieldArtifact, t.ArtifactName).
		Int64("size", t.Size).
		Dur("duration", elapsed).
		Msg("job done")
}

// extract produces the terminal transition for job and a metrics outcome label.
func (c *Coordinator) extract(ctx context.Context, job Job) (Transition, string) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	if ctx.Err() != nil {
		return Failed(msgCancelled), "error"
	}

	workDir, err := c.store.WorkDir(job.ID)
	if err != nil {
		return c.storageFailure(ctx, err), "error"
	}
	abandoned := false
	defer func() {
		if abandoned {
			return
		}
		if err := c.store.RemoveWorkDir(job.ID); err != nil {
			logger.Warn().Err(err).Msg("remove work dir")
		}
	}()

	ectx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	defer cancel()

	out := c.awaitEngine(ectx, job, workDir)
	if out == nil {
		// The engine ignored its deadline; its result is dropped on arrival.
		abandoned = true
		if ctx.Err() != nil {
			return Failed(msgCancelled), "error"
		}
		return Failed(engine.ErrTimeout.Error()), "timeout"
	}

	res, err := out.res, out.err
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Failed(msgCancelled), "error"
		case errors.Is(err, engine.ErrTimeout), errors.Is(ectx.Err(), context.DeadlineExceeded):
			return Failed(engine.ErrTimeout.Error()), "timeout"
		default:
			return Failed(engine.Message(err)), "error"
		}
	}

	raw, err := fsutil.ConfineAbsPath(workDir, res.FilePath)
	if err != nil {
		return c.storageFailure(ctx, fmt.Errorf("%w: engine output outside work dir: %v", artifact.ErrPathViolation, err)), "error"
	}
	info, err := os.Stat(raw)
	if err != nil || !info.Mode().IsRegular() {
		return Failed("engine produced no output"), "error"
	}

	ext := strings.TrimPrefix(filepath.Ext(raw), ".")
	if ext == "" {
		ext = job.Request.Format.Ext()
	}
	name, err := c.store.Finalize(raw, artifact.NameFor(res.Title, job.ID, ext))
	if err != nil {
		return c.storageFailure(ctx, err), "error"
	}
	return Done(name, res.Title, info.Size()), "done"
}

type engineOutcome struct {
	res engine.Result
	err error
}

// awaitEngine runs the engine on its own goroutine and waits for it or for
// ctx, whichever comes first. It returns nil when ctx ends first; the engine
// goroutine is then left to finish on its own and its work dir is removed
// when it does.
func (c *Coordinator) awaitEngine(ctx context.Context, job Job, workDir string) *engineOutcome {
	done := make(chan engineOutcome, 1)
	go func() {
		res, err := c.callEngine(ctx, job, workDir)
		done <- engineOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return &out
	case <-ctx.Done():
	}
	// A result that raced the deadline still counts.
	select {
	case out := <-done:
		return &out
	default:
	}

	logger := log.WithComponentFromContext(ctx, "jobs")
	logger.Warn().
		Str(log.FieldEvent, "job.engine_abandoned").
		Dur("timeout", c.cfg.EngineTimeout).
		Msg("extraction engine did not stop at its deadline")
	go func() {
		<-done
		if err := c.store.RemoveWorkDir(job.ID); err != nil {
			logger.Warn().Err(err).Msg("remove work dir of abandoned extraction")
		}
		logger.Info().Str(log.FieldEvent, "job.engine_late_exit").Msg("abandoned extraction returned")
	}()
	return nil
}

// callEngine shields the worker from engine panics.
func (c *Coordinator) callEngine(ctx context.Context, job Job, workDir string) (res engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponentFromContext(ctx, "jobs")
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("extraction engine panicked")
			err = &engine.ExtractionError{Op: "extract", Msg: "extraction engine crashed", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.eng.Extract(ctx, job.Request.URL, engine.Options{
		Format:    job.Request.Format,
		MaxHeight: job.Request.MaxHeight,
		WorkDir:   workDir,
	})
}

// storageFailure hides filesystem detail from callers. Path violations are
// logged as security events.
func (c *Coordinator) storageFailure(ctx context.Context, err error) Transition {
	logger := log.WithComponentFromContext(ctx, "jobs")
	if errors.Is(err, artifact.ErrPathViolation) || errors.Is(err, fsutil.ErrOutsideRoot) {
		metrics.RecordPathViolation()
		logger.Error().Err(err).
			Str(log.FieldEvent, "artifact.path_violation").
			Bool("security", true).
			Msg("artifact path rejected")
		return Failed(msgStorageError)
	}
	logger.Error().Err(err).Str(log.FieldEvent, "artifact.store_failed").Msg("artifact storage failed")
	return Failed(msgStorageError)
}

// Shutdown stops accepting submissions, cancels running extractions and
// waits for the scheduler. Jobs that never ran are marked as errors so none
// stays in processing.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.sched.Close(ctx)

	c.mu.Lock()
	pending := make([]string, 0, len(c.runs))
	for id := range c.runs {
		pending = append(pending, id)
	}
	c.mu.Unlock()

	for _, id := range pending {
		_ = c.reg.Update(id, Failed(msgCancelled))
		c.finishRun(id, msgCancelled)
	}
	return err
}
