// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the vidgrab download service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/daemon"
	"github.com/ManuGH/vidgrab/internal/health"
	vglog "github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/version"
)

// configPathEnv names the config file when --config is not given.
const configPathEnv = "VIDGRAB_CONFIG"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:], os.Stdout, os.Stderr))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML), defaults to $"+configPathEnv)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded
	vglog.Configure(vglog.Config{
		Level:   "info",
		Version: version.Version,
	})
	logger := vglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(vglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	vglog.Configure(vglog.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: version.Version,
	})
	logger = vglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(vglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(vglog.FieldPath, path).
		Interface("config", config.MaskSecrets(cfg)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(vglog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	logger.Info().
		Str(vglog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.API.ListenAddr).
		Msg("starting vidgrab")

	holder := config.NewHolder(cfg, loader)
	app, err := daemon.Bootstrap(ctx, holder, daemon.Options{Version: version.Version})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(vglog.FieldEvent, "bootstrap.failed").
			Msg("failed to build service")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(vglog.FieldEvent, "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}

// resolveConfigPath prefers the flag, then $VIDGRAB_CONFIG. Empty means
// environment and defaults only.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(configPathEnv))
}
