// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package artifact owns the on-disk lifecycle of downloaded media files:
// naming, confinement to the managed root, finalization and deletion.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/vidgrab/internal/fsutil"
	"github.com/ManuGH/vidgrab/internal/log"
)

var (
	// ErrPathViolation is returned when a name would resolve outside the managed root.
	ErrPathViolation = errors.New("artifact path violation")
	// ErrExists is returned when finalize would overwrite a different file.
	ErrExists = errors.New("artifact already exists")
)

const workDirName = ".work"

// rename is swapped in tests to simulate cross-device moves.
var rename = os.Rename

// Store manages artifacts under a single root directory.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates the root directory if needed and returns a Store bound to
// its absolute, symlink-resolved path.
func NewStore(root string) (*Store, error) {
	abs, err := fsutil.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Store{root: abs, now: time.Now}, nil
}

// Root returns the absolute managed root.
func (s *Store) Root() string { return s.root }

// Resolve maps a sanitized name to its absolute path inside the root.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathViolation, name)
	}
	p, err := fsutil.ConfineRelPath(s.root, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathViolation, err)
	}
	// Independent of the symlink-aware check above.
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathViolation, name)
	}
	return p, nil
}

// Finalize moves the engine output at rawPath into the root under the
// sanitized form of desiredName and returns that name. Calling it again once
// the file already sits at its destination is a no-op.
func (s *Store) Finalize(rawPath, desiredName string) (string, error) {
	name := Sanitize(desiredName)
	dst, err := s.Resolve(name)
	if err != nil {
		return "", err
	}

	src, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	if real, err := filepath.EvalSymlinks(src); err == nil {
		src = real
	}
	if src == dst {
		return name, nil
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("finalize: source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return "", fmt.Errorf("finalize: source is not a regular file: %s", src)
	}
	if dstInfo, err := os.Lstat(dst); err == nil {
		if os.SameFile(srcInfo, dstInfo) {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}

	if err := rename(src, dst); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", fmt.Errorf("finalize: rename: %w", err)
		}
		if err := copyDurable(src, dst); err != nil {
			return "", err
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			logger := log.WithComponent("artifact")
			logger.Warn().Err(err).Str(log.FieldPath, src).Msg("remove source after copy")
		}
	}
	return name, nil
}

// copyDurable writes src to dst via a pending file: fsync, then atomic rename.
func copyDurable(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- src is the engine output inside the work dir
	if err != nil {
		return fmt.Errorf("finalize: open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("finalize: create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("finalize: copy: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("finalize: commit: %w", err)
	}
	return nil
}

// Delete removes the named artifact. A missing file is not an error.
func (s *Store) Delete(name string) error {
	p, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Open resolves and opens the named artifact for streaming.
func (s *Store) Open(name string) (*os.File, os.FileInfo, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	if err := fsutil.IsRegularFile(p); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p) // #nosec G304 -- confined to root by Resolve
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// WorkDir returns a fresh scratch directory for a job. The engine writes its
// raw output there before Finalize moves it into the root.
func (s *Store) WorkDir(jobID string) (string, error) {
	if err := os.MkdirAll(filepath.Join(s.root, workDirName), 0o750); err != nil {
		return "", fmt.Errorf("work dir: %w", err)
	}
	p, err := fsutil.ConfineRelPath(s.root, filepath.Join(workDirName, Sanitize(jobID)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathViolation, err)
	}
	if err := os.MkdirAll(p, 0o750); err != nil {
		return "", fmt.Errorf("work dir: %w", err)
	}
	return p, nil
}

// RemoveWorkDir deletes a job's scratch directory and anything left in it.
func (s *Store) RemoveWorkDir(jobID string) error {
	p, err := fsutil.ConfineRelPath(s.root, filepath.Join(workDirName, Sanitize(jobID)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathViolation, err)
	}
	return os.RemoveAll(p)
}

// PruneOrphans removes artifacts and scratch directories last modified more
// than olderThan ago. Only files named like NameFor output count as
// artifacts; anything else in the root is left alone. Jobs never survive a
// restart, so the daemon calls this with zero at startup. It returns the
// number of entries removed.
func (s *Store) PruneOrphans(olderThan time.Duration) (int, error) {
	logger := log.WithComponent("artifact")
	cutoff := s.now().Add(-olderThan)
	removed := 0

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("prune orphans: %w", err)
	}
	for _, e := range entries {
		if e.Name() == workDirName {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) || !IsArtifactName(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str(log.FieldArtifact, e.Name()).Msg("prune orphan")
			continue
		}
		removed++
	}

	work := filepath.Join(s.root, workDirName)
	workEntries, err := os.ReadDir(work)
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("prune work dirs: %w", err)
	}
	for _, e := range workEntries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(work, e.Name())); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, e.Name()).Msg("prune work dir")
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info().
			Str(log.FieldEvent, "artifact.orphans_pruned").
			Int("count", removed).
			Msg("pruned orphaned artifacts")
	}
	return removed, nil
}
