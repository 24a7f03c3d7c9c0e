// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package delivery hands finished artifacts to callers exactly once.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

// Registry is the part of jobs.Registry the service needs.
type Registry interface {
	SweepExpired() int
	Claim(id string) (jobs.Job, error)
	Release(id string, delivered bool) error
}

// Store is the part of artifact.Store the service needs.
type Store interface {
	Open(name string) (*os.File, os.FileInfo, error)
	Delete(name string) error
}

// Service looks up finished jobs and opens their artifacts for streaming.
type Service struct {
	reg   Registry
	store Store
}

// NewService creates a delivery service.
func NewService(reg Registry, store Store) *Service {
	return &Service{reg: reg, store: store}
}

// Fetch claims job id for delivery. It returns jobs.ErrNotFound for unknown
// ids and jobs.ErrNotReady unless the job is done and unclaimed. The caller
// must Serve or Close the returned Delivery.
func (s *Service) Fetch(ctx context.Context, id string) (*Delivery, error) {
	s.reg.SweepExpired()

	job, err := s.reg.Claim(id)
	if err != nil {
		return nil, err
	}

	f, info, err := s.store.Open(job.ArtifactName)
	if err != nil {
		// Leave the job done; the sweep cleans it up later.
		if relErr := s.reg.Release(id, false); relErr != nil {
			err = errors.Join(err, relErr)
		}
		metrics.RecordDelivery("missing", 0)
		logger := log.WithComponentFromContext(ctx, "delivery")
		logger.Error().Err(err).
			Str(log.FieldJobID, id).
			Str(log.FieldArtifact, job.ArtifactName).
			Msg("artifact unavailable")
		return nil, fmt.Errorf("open artifact for %s: %w", id, jobs.ErrNotFound)
	}

	return &Delivery{Job: job, svc: s, file: f, info: info, ctx: ctx}, nil
}

// Delivery is one claimed artifact on its way to the caller.
type Delivery struct {
	Job jobs.Job

	svc  *Service
	file *os.File
	info os.FileInfo
	ctx  context.Context

	mu      sync.Mutex
	written int64
	once    sync.Once
	err     error
}

// Name is the artifact file name.
func (d *Delivery) Name() string { return d.Job.ArtifactName }

// Size is the artifact size in bytes.
func (d *Delivery) Size() int64 { return d.info.Size() }

// Serve streams the whole artifact as an attachment and then closes the
// delivery, whether or not the transfer completed. The artifact can be sent
// only once, so Range and conditional request headers are ignored: every
// response is a full 200.
func (d *Delivery) Serve(w http.ResponseWriter, _ *http.Request) {
	defer func() { _ = d.Close() }()

	h := w.Header()
	h.Set("Content-Type", contentType(d.Name()))
	h.Set("Content-Length", strconv.FormatInt(d.Size(), 10))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name()}))
	h.Set("Cache-Control", "no-store")
	h.Set("Accept-Ranges", "none")
	w.WriteHeader(http.StatusOK)

	_, _ = io.Copy(&countingWriter{ResponseWriter: w, d: d}, d.file)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Written returns the number of body bytes sent so far.
func (d *Delivery) Written() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Close releases the file, deletes the artifact and marks the job delivered.
// It is safe to call more than once.
func (d *Delivery) Close() error {
	d.once.Do(func() {
		logger := log.WithComponentFromContext(d.ctx, "delivery")
		var errs []error
		if err := d.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close artifact: %w", err))
		}
		if err := d.svc.store.Delete(d.Job.ArtifactName); err != nil {
			errs = append(errs, err)
		}
		if err := d.svc.reg.Release(d.Job.ID, true); err != nil {
			errs = append(errs, err)
		}
		d.err = errors.Join(errs...)

		written := d.Written()
		result := "complete"
		if written < d.Size() {
			result = "aborted"
		}
		metrics.RecordDelivery(result, written)

		ev := logger.Info()
		if d.err != nil {
			ev = logger.Warn().Err(d.err)
		}
		ev.Str(log.FieldEvent, "delivery.completed").
			Str(log.FieldJobID, d.Job.ID).
			Str(log.FieldArtifact, d.Job.ArtifactName).
			Str("result", result).
			Int64("bytes", written).
			Int64("size", d.Size()).
			Msg("artifact delivered")
	})
	return d.err
}

type countingWriter struct {
	http.ResponseWriter
	d *Delivery
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.d.mu.Lock()
	c.d.written += int64(n)
	c.d.mu.Unlock()
	return n, err
}

func (c *countingWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }
