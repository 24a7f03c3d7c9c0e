// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout is reported when the extraction deadline expires.
var ErrTimeout = errors.New("extraction timed out")

// ExtractionError is returned by engines when extraction fails. Msg is safe
// to show to the caller; Err carries the underlying cause.
type ExtractionError struct {
	Op  string
	Msg string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": failed"
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Wrap converts err into an *ExtractionError. Deadline expiry becomes
// ErrTimeout so callers can tell hangs from failures.
func Wrap(op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExtractionError{Op: op, Msg: ErrTimeout.Error(), Err: ErrTimeout}
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExtractionError{Op: op, Msg: msg, Err: err}
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout.Error()
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		if ee.Msg != "" {
			return ee.Msg
		}
		if ee.Err != nil {
			return ee.Err.Error()
		}
	}
	return err.Error()
}
