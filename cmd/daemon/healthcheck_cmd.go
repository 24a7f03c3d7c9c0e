// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/vidgrab/internal/platform/httpx"
)

// runHealthcheckCLI probes a running daemon; it is meant for container
// HEALTHCHECK directives where no curl is available.
func runHealthcheckCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "ready", "healthcheck mode: ready (default) or live")
	addr := fs.String("addr", "localhost:8000", "API host:port to check")
	timeout := fs.Duration("timeout", 5*time.Second, "check timeout")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	var path string
	switch *mode {
	case "ready":
		path = "/readyz"
	case "live":
		path = "/health"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown mode %q (use ready or live)\n", *mode)
		return 2
	}

	client := httpx.NewProbeClient(*timeout)
	resp, err := client.Get("http://" + *addr + path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "healthcheck failed (network): %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "healthcheck failed (status): %s\n", resp.Status)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "healthcheck successful (%s)\n", *mode)
	return 0
}
