// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/vidgrab/internal/config"
	"github.com/ManuGH/vidgrab/internal/version"
)

func runConfigCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  vidgrab config validate [--file|-f config.yaml]")
	_, _ = fmt.Fprintln(w, "  vidgrab config dump [--file|-f config.yaml] [--format=yaml|json]")
}

func configFlags(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := new(string)
	fs.StringVar(file, "file", "", "path to YAML configuration file (defaults to $"+configPathEnv+")")
	fs.StringVar(file, "f", "", "path to YAML configuration file (shorthand)")
	return fs, file
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs, file := configFlags("vidgrab config validate", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := resolveConfigPath(*file)
	if _, err := config.NewLoader(path, version.Version).Load(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describePath(path), err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s is valid\n", describePath(path))
	return 0
}

// runConfigDump prints the effective configuration (defaults + file + env)
// with secrets masked.
func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs, file := configFlags("vidgrab config dump", stderr)
	format := fs.String("format", "yaml", "output format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := resolveConfigPath(*file)
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describePath(path), err)
		return 1
	}
	masked := config.MaskSecrets(cfg)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(masked); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(masked); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unsupported format: %s (use yaml or json)\n", *format)
		return 2
	}
}

func describePath(path string) string {
	if path == "" {
		return "environment configuration"
	}
	return path
}
