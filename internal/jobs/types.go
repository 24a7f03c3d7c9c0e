// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs tracks download jobs and runs them against the extraction engine.
package jobs

import (
	"time"

	"github.com/ManuGH/vidgrab/internal/engine"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusDelivered  Status = "delivered"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the job has left processing.
func (s Status) Terminal() bool {
	return s != StatusProcessing
}

// Request is what a caller asked for.
type Request struct {
	URL        string              `json:"url"`
	Format     engine.FormatChoice `json:"format"`
	Resolution string              `json:"resolution,omitempty"`
	MaxHeight  int                 `json:"-"`
}

// Job is a snapshot of one tracked download. Values handed out by the
// Registry are copies; mutating them has no effect.
type Job struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Request      Request   `json:"request"`
	ArtifactName string    `json:"file,omitempty"`
	Title        string    `json:"title,omitempty"`
	Size         int64     `json:"size,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	claimed bool
}

// Transition is the change Coordinator applies when a job leaves processing.
type Transition struct {
	Status       Status
	ArtifactName string
	Title        string
	Size         int64
	ErrorMessage string
}

// Done builds a success transition.
func Done(artifactName, title string, size int64) Transition {
	return Transition{Status: StatusDone, ArtifactName: artifactName, Title: title, Size: size}
}

// Failed builds an error transition.
func Failed(msg string) Transition {
	return Transition{Status: StatusError, ErrorMessage: msg}
}
