// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"fmt"
	"strings"
)

// FormatChoice is the kind of artifact a caller wants.
type FormatChoice string

const (
	FormatVideo FormatChoice = "video"
	FormatAudio FormatChoice = "audio"
)

// Ext is the container extension the engine produces for the choice.
func (c FormatChoice) Ext() string {
	if c == FormatAudio {
		return "mp3"
	}
	return "mp4"
}

// ParseFormatChoice accepts the wire values clients send. Empty means video.
func ParseFormatChoice(raw string) (FormatChoice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "mp4", "video":
		return FormatVideo, nil
	case "mp3", "audio":
		return FormatAudio, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}

var resolutionHeights = map[string]int{
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
	"1440p": 1440,
	"2160p": 2160,
	"2k":    1440,
	"4k":    2160,
}

// ParseResolution maps a resolution label to a maximum height. Empty means
// best available and yields 0.
func ParseResolution(raw string) (int, error) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return 0, nil
	}
	h, ok := resolutionHeights[label]
	if !ok {
		return 0, fmt.Errorf("unsupported resolution %q", raw)
	}
	return h, nil
}
