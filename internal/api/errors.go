// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/jobs"
	"github.com/ManuGH/vidgrab/internal/log"
)

type errorBody struct {
	Error  string      `json:"error"`
	Status jobs.Status `json:"status,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJobError maps job and engine errors to HTTP responses. Unknown
// errors become a generic 500 and are logged, never echoed.
func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *engine.ExtractionError
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, jobs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: jobs.ErrNotFound.Error()})
	case errors.Is(err, jobs.ErrNotReady):
		writeJSON(w, http.StatusNotFound, errorBody{Error: jobs.ErrNotReady.Error()})
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: jobs.ErrQueueFull.Error()})
	case errors.Is(err, jobs.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service shutting down"})
	case errors.As(err, &ee):
		msg := ee.Msg
		if msg == "" {
			msg = "extraction failed"
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: msg})
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldPath, route(r)).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}
