// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/fsutil"
	"github.com/ManuGH/vidgrab/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
// Hard failures are returned; soft issues are logged as warnings.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	dir, err := fsutil.EnsureDir(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("download directory: %w", err)
	}
	if err := fsutil.CheckWritable(dir); err != nil {
		return fmt.Errorf("download directory is not writable: %w", err)
	}
	logger.Info().Str(log.FieldRoot, dir).Msg("download directory is writable")

	bin, err := exec.LookPath(cfg.Engine.Binary)
	if err != nil {
		return fmt.Errorf("extraction engine binary %q not found: %w", cfg.Engine.Binary, err)
	}
	logger.Info().Str("binary", bin).Msg("extraction engine available")

	if cfg.Engine.CookiesFile != "" {
		if err := checkFileReadable(cfg.Engine.CookiesFile); err != nil {
			return fmt.Errorf("cookies file: %w", err)
		}
	}

	if len(cfg.Engine.AllowedHosts) == 0 {
		logger.Warn().Msg("no host allowlist configured; any public http(s) source is accepted")
	}
	if cfg.Engine.AllowPrivate {
		logger.Warn().Msg("private and loopback source hosts are allowed")
	}

	tempDir := filepath.Clean(os.TempDir())
	if tempDir != "." && (dir == tempDir || strings.HasPrefix(dir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str(log.FieldRoot, dir).
			Msg("download directory is under temp; artifacts may vanish on reboot")
	}

	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}
