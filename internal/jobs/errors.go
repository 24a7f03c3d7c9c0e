// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import "errors"

var (
	// ErrInvalidRequest is returned synchronously for missing or malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned for ids the registry does not hold.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned when a job exists but cannot be delivered.
	ErrNotReady = errors.New("job not ready")
	// ErrInvalidTransition is returned when the state machine forbids a move.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrQueueFull is returned when the scheduler cannot accept more work.
	ErrQueueFull = errors.New("job queue full")
	// ErrShuttingDown is returned once the coordinator stopped accepting work.
	ErrShuttingDown = errors.New("coordinator shutting down")
)
