// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"time"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/history"
	"github.com/ManuGH/vidgrab/internal/jobs"
)

type downloadRequest struct {
	URL        string `json:"url"`
	Format     string `json:"format"`
	Resolution string `json:"resolution"`
}

type startResponse struct {
	DownloadID string      `json:"download_id"`
	Status     jobs.Status `json:"status"`
}

// statusView is the polling contract: file only once done, error only on
// failure.
type statusView struct {
	ID        string      `json:"id,omitempty"`
	Status    jobs.Status `json:"status"`
	File      string      `json:"file,omitempty"`
	Title     string      `json:"title,omitempty"`
	Size      int64       `json:"size,omitempty"`
	Error     string      `json:"error,omitempty"`
	Format    string      `json:"format,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func newStatusView(j jobs.Job, withID bool) statusView {
	v := statusView{
		Status:    j.Status,
		Title:     j.Title,
		Error:     j.ErrorMessage,
		Format:    string(j.Request.Format),
		CreatedAt: j.CreatedAt.UTC(),
	}
	if withID {
		v.ID = j.ID
	}
	if j.Status == jobs.StatusDone {
		v.File = j.ArtifactName
		v.Size = j.Size
	}
	return v
}

type formatsRequest struct {
	URL string `json:"url"`
}

type formatsResponse struct {
	Formats []engine.Format `json:"formats"`
}

type jobsResponse struct {
	Jobs []statusView `json:"jobs"`
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}
