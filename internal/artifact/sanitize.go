// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxNameLen  = 120
	maxStemLen  = 100
	maxExtLen   = 8
	fallbackTag = "download"
)

// Sanitize converts an arbitrary title or filename into a name that is safe to
// join to the managed root. The result only contains [A-Za-z0-9._-], never
// starts with a dot or underscore and is never empty.
//
// Example: "../My Vidéo: part 1?.mp4" → "My_Video_part_1_.mp4"
func Sanitize(raw string) string {
	return sanitize(raw, maxNameLen)
}

func sanitize(raw string, limit int) string {
	// NFKD splits accented letters into base letter + combining mark.
	decomposed := norm.NFKD.String(raw)

	var b strings.Builder
	b.Grow(len(decomposed))
	lastWasSub := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if isSafeRune(r) {
			b.WriteRune(r)
			lastWasSub = false
			continue
		}
		if !lastWasSub {
			b.WriteByte('_')
			lastWasSub = true
		}
	}

	name := strings.TrimLeft(b.String(), "._")
	if len(name) > limit {
		name = name[:limit]
	}
	name = strings.TrimRight(name, "_")
	if name == "" {
		return fallbackTag
	}
	return name
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-':
		return true
	}
	return false
}

// NameFor derives the on-disk name for a job's artifact. The short job id
// suffix keeps names unique even when two titles sanitize to the same stem.
func NameFor(title, jobID, ext string) string {
	stem := sanitize(title, maxStemLen)
	short := sanitize(jobID, 8)
	name := stem + "-" + short
	if e := cleanExt(ext); e != "" {
		name += "." + e
	}
	return name
}

// artifactName matches names produced by NameFor for uuid job ids.
var artifactName = regexp.MustCompile(`^[A-Za-z0-9-][A-Za-z0-9._-]*-[0-9a-f]{8}(\.[a-z0-9]{1,8})?$`)

// IsArtifactName reports whether name has the shape NameFor gives artifacts:
// a sanitized stem, a dash, eight lowercase hex digits of the job id and an
// optional short extension.
func IsArtifactName(name string) bool {
	return len(name) <= maxNameLen && artifactName.MatchString(name)
}

func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == maxExtLen {
			break
		}
	}
	return b.String()
}
