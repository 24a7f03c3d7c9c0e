// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import "strconv"

// RawFormat is the subset of an engine format listing used for filtering.
type RawFormat struct {
	ID     string `json:"format_id"`
	Ext    string `json:"ext"`
	Height *int   `json:"height"`
	VCodec string `json:"vcodec"`
	ACodec string `json:"acodec"`
}

// AudioOnly is the resolution label for formats without a video stream.
const AudioOnly = "audio only"

var offeredResolutions = map[string]bool{
	AudioOnly: true,
	"480p":    true,
	"720p":    true,
	"1080p":   true,
	"1440p":   true,
	"2160p":   true,
}

// FilterFormats keeps the formats clients can pick from: mp4 video at one of
// the offered heights, and audio-only streams which are offered as mp3.
func FilterFormats(raw []RawFormat) []Format {
	out := make([]Format, 0, len(raw))
	for _, f := range raw {
		var resolution, ext string
		switch {
		case f.VCodec != "none":
			resolution = "unknown"
			if f.Height != nil && *f.Height > 0 {
				resolution = strconv.Itoa(*f.Height) + "p"
			}
			ext = f.Ext
		case f.ACodec != "none":
			resolution = AudioOnly
			ext = "mp3"
		default:
			continue
		}
		if !offeredResolutions[resolution] || (ext != "mp4" && ext != "mp3") {
			continue
		}
		out = append(out, Format{ID: f.ID, Ext: ext, Resolution: resolution})
	}
	return out
}
