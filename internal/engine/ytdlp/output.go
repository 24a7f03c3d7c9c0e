// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ytdlp

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vidgrab/internal/engine"
)

// Suffixes yt-dlp uses for in-progress or intermediate files.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// pickOutput finds the finished file in workDir. hint is the filename yt-dlp
// reported, which may be stale after post-processing changed the extension.
func pickOutput(workDir, hint, wantExt string) (string, error) {
	if hint != "" {
		if filepath.Dir(hint) == filepath.Clean(workDir) {
			if info, err := os.Stat(hint); err == nil && info.Mode().IsRegular() &&
				strings.EqualFold(strings.TrimPrefix(filepath.Ext(hint), "."), wantExt) {
				return hint, nil
			}
		}
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", err
	}

	var best string
	var bestSize int64 = -1
	bestMatches := false
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || isPartial(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		matches := strings.EqualFold(strings.TrimPrefix(filepath.Ext(name), "."), wantExt)
		switch {
		case matches && !bestMatches,
			matches == bestMatches && info.Size() > bestSize:
			best, bestSize, bestMatches = filepath.Join(workDir, name), info.Size(), matches
		}
	}
	if best == "" {
		return "", errNoOutput
	}
	return best, nil
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}

type infoLine struct {
	Title   string             `json:"title"`
	Formats []engine.RawFormat `json:"formats"`
}

// scanInfo walks the JSON lines yt-dlp printed and calls fn for each.
func scanInfo(stdout string, fn func(infoLine) bool) error {
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info infoLine
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			continue
		}
		if !fn(info) {
			break
		}
	}
	return sc.Err()
}

func parseTitle(stdout string) string {
	var title string
	_ = scanInfo(stdout, func(info infoLine) bool {
		title = strings.TrimSpace(info.Title)
		return title == ""
	})
	return title
}

func parseFormats(stdout string) ([]engine.RawFormat, error) {
	var formats []engine.RawFormat
	found := false
	err := scanInfo(stdout, func(info infoLine) bool {
		if info.Formats == nil {
			return true
		}
		formats, found = info.Formats, true
		return false
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNoFormats
	}
	return formats, nil
}
