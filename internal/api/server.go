// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the download job HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ManuGH/vidgrab/internal/api/middleware"
	"github.com/ManuGH/vidgrab/internal/delivery"
	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/health"
	"github.com/ManuGH/vidgrab/internal/history"
	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Submitter accepts new download jobs.
type Submitter interface {
	Submit(ctx context.Context, in jobs.SubmitRequest) (jobs.Job, error)
	ParseRequest(in jobs.SubmitRequest) (jobs.Request, error)
}

// JobReader reads registry state. Reads sweep expired jobs first.
type JobReader interface {
	SweepExpired() int
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
}

// Deliverer hands out finished artifacts.
type Deliverer interface {
	Fetch(ctx context.Context, id string) (*delivery.Delivery, error)
}

// FormatLister lists the formats available for a source URL.
type FormatLister interface {
	Formats(ctx context.Context, url string) ([]engine.Format, error)
}

// HistoryLister reads past jobs.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// SubmitLimiter throttles submissions per client and format.
type SubmitLimiter interface {
	Allow(clientIP, format string) bool
	ClientIP(r *http.Request) string
}

// Deps wires the server. Formats, History, Limiter and Health are optional.
type Deps struct {
	Coordinator Submitter
	Jobs        JobReader
	Delivery    Deliverer

	Formats FormatLister
	History HistoryLister
	Limiter SubmitLimiter
	Health  *health.Manager

	Stack        middleware.StackConfig
	MaxBodyBytes int64
}

// Server serves the HTTP API.
type Server struct {
	coord    Submitter
	jobs     JobReader
	delivery Deliverer
	formats  FormatLister
	history  HistoryLister
	limiter  SubmitLimiter
	health   *health.Manager

	stack        middleware.StackConfig
	maxBodyBytes int64
	handler      http.Handler
}

// New validates deps and builds the router.
func New(d Deps) (*Server, error) {
	if d.Coordinator == nil || d.Jobs == nil || d.Delivery == nil {
		return nil, errors.New("api: coordinator, jobs and delivery are required")
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		coord:        d.Coordinator,
		jobs:         d.Jobs,
		delivery:     d.Delivery,
		formats:      d.Formats,
		history:      d.History,
		limiter:      d.Limiter,
		health:       d.Health,
		stack:        d.Stack,
		maxBodyBytes: d.MaxBodyBytes,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(s.stack)

	r.Get("/health", health.ServeOK)
	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}
	r.Get("/openapi.yaml", serveOpenAPI)

	r.Post("/start-download", s.handleStartDownload)
	// legacy alias kept for older clients
	r.Post("/download", s.handleStartDownload)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/download/{id}", s.handleDownload)

	if s.formats != nil {
		r.Post("/formats", s.handleFormats)
	}
	r.Get("/jobs", s.handleListJobs)
	if s.history != nil {
		r.Get("/history", s.handleHistory)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// route returns the matched chi pattern, for logs and spans.
func route(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
