// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine defines the contract between the job coordinator and the
// external extraction engine that turns a URL into a local media file.
package engine

import "context"

// Engine extracts media for a URL. Implementations may block for minutes and
// must honour ctx cancellation.
type Engine interface {
	// Extract downloads url into opts.WorkDir and reports the produced file.
	Extract(ctx context.Context, url string, opts Options) (Result, error)
	// Probe lists the formats available for url without downloading.
	Probe(ctx context.Context, url string) ([]Format, error)
}

// Options selects what the engine should produce.
type Options struct {
	Format    FormatChoice
	MaxHeight int // 0 = best available; ignored for audio
	WorkDir   string
}

// Result describes a successful extraction.
type Result struct {
	FilePath string
	Title    string
}

// Format is one entry of a probe listing.
type Format struct {
	ID         string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
}
