// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/history"
	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/go-chi/chi/v5"
)

// decodeJSON reads a single JSON object capped at maxBodyBytes.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes", jobs.ErrInvalidRequest, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: body is empty", jobs.ErrInvalidRequest)
		default:
			return fmt.Errorf("%w: malformed JSON", jobs.ErrInvalidRequest)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", jobs.ErrInvalidRequest)
	}
	return nil
}

// limitKey is the format label used for rate limiting. Unparseable formats
// share one bucket; validation rejects them afterwards.
func limitKey(format string) string {
	choice, err := engine.ParseFormatChoice(format)
	if err != nil {
		return "invalid"
	}
	return string(choice)
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeJobError(w, r, err)
		return
	}

	if s.limiter != nil {
		if !s.limiter.Allow(s.limiter.ClientIP(r), limitKey(req.Format)) {
			w.Header().Set("Retry-After", "2")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
	}

	job, err := s.coord.Submit(r.Context(), jobs.SubmitRequest{
		URL:        req.URL,
		Format:     req.Format,
		Resolution: req.Resolution,
	})
	if err != nil {
		writeJobError(w, r, err)
		return
	}

	w.Header().Set("Location", "/status/"+job.ID)
	writeJSON(w, http.StatusAccepted, startResponse{DownloadID: job.ID, Status: job.Status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jobs.SweepExpired()

	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(job, false))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := log.ContextWithJobID(r.Context(), id)

	d, err := s.delivery.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotReady) {
			// include the current state so clients can tell pending from spent
			if job, gerr := s.jobs.Get(id); gerr == nil {
				writeJSON(w, http.StatusNotFound, errorBody{Error: jobs.ErrNotReady.Error(), Status: job.Status})
				return
			}
		}
		writeJobError(w, r, err)
		return
	}
	d.Serve(w, r.WithContext(ctx))
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	var req formatsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeJobError(w, r, err)
		return
	}
	parsed, err := s.coord.ParseRequest(jobs.SubmitRequest{URL: req.URL})
	if err != nil {
		writeJobError(w, r, err)
		return
	}

	formats, err := s.formats.Formats(r.Context(), parsed.URL)
	if err != nil {
		writeJobError(w, r, err)
		return
	}
	if formats == nil {
		formats = []engine.Format{}
	}
	writeJSON(w, http.StatusOK, formatsResponse{Formats: formats})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.jobs.SweepExpired()

	list := s.jobs.List()
	views := make([]statusView, 0, len(list))
	for _, j := range list {
		views = append(views, newStatusView(j, true))
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: views})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJobError(w, r, fmt.Errorf("%w: limit must be a positive integer", jobs.ErrInvalidRequest))
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeJobError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}
