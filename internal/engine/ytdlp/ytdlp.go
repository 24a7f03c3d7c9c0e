// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ytdlp adapts the yt-dlp command line tool to engine.Engine.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/log"
)

// Config tunes the yt-dlp invocation.
type Config struct {
	Binary       string // executable name or path
	Retries      int
	CookiesFile  string // optional Netscape cookie jar
	AudioQuality string // passed to --audio-quality
}

// Engine runs yt-dlp through go-ytdlp.
type Engine struct {
	cfg Config
}

var _ engine.Engine = (*Engine)(nil)

// New returns an Engine. Zero values in cfg fall back to defaults.
func New(cfg Config) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = "192K"
	}
	return &Engine{cfg: cfg}
}

// Available reports whether the configured binary can be found.
func (e *Engine) Available() error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("yt-dlp binary %q: %w", e.cfg.Binary, err)
	}
	return nil
}

func (e *Engine) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(e.cfg.Binary).
		NoPlaylist().
		NoWarnings().
		Retries(strconv.Itoa(e.cfg.Retries))
	if e.cfg.CookiesFile != "" {
		cmd.Cookies(e.cfg.CookiesFile)
	}
	return cmd
}

// Extract downloads url into opts.WorkDir.
func (e *Engine) Extract(ctx context.Context, url string, opts engine.Options) (engine.Result, error) {
	if opts.WorkDir == "" {
		return engine.Result{}, &engine.ExtractionError{Op: "extract", Msg: "no work directory"}
	}
	logger := log.WithComponentFromContext(ctx, "engine")

	cmd := e.command().
		ForceOverwrites().
		RestrictFilenames().
		DumpJSON().
		NoSimulate().
		Output(filepath.Join(opts.WorkDir, "%(title).150B.%(ext)s"))

	if opts.Format == engine.FormatAudio {
		cmd.Format("bestaudio/best").
			ExtractAudio().
			AudioFormat("mp3").
			AudioQuality(e.cfg.AudioQuality)
	} else {
		cmd.Format(videoSelector(opts.MaxHeight)).
			MergeOutputFormat("mp4")
	}

	logger.Debug().
		Str(log.FieldFormat, string(opts.Format)).
		Int("max_height", opts.MaxHeight).
		Msg("starting yt-dlp")

	res, err := cmd.Run(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Result{}, engine.Wrap("extract", ctx.Err(), "")
		}
		return engine.Result{}, engine.Wrap("extract", err, failureMessage(res))
	}

	var hint string
	if info, infoErr := res.GetExtractedInfo(); infoErr == nil && len(info) > 0 && info[0].Filename != nil {
		hint = *info[0].Filename
	}

	path, err := pickOutput(opts.WorkDir, hint, opts.Format.Ext())
	if err != nil {
		return engine.Result{}, &engine.ExtractionError{Op: "extract", Msg: "engine produced no output", Err: err}
	}

	title := parseTitle(res.Stdout)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return engine.Result{FilePath: path, Title: title}, nil
}

// Probe lists the formats available for url.
func (e *Engine) Probe(ctx context.Context, url string) ([]engine.Format, error) {
	res, err := e.command().
		SkipDownload().
		DumpJSON().
		Run(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engine.Wrap("probe", ctx.Err(), "")
		}
		return nil, engine.Wrap("probe", err, failureMessage(res))
	}
	raw, err := parseFormats(res.Stdout)
	if err != nil {
		return nil, &engine.ExtractionError{Op: "probe", Msg: "unreadable format listing", Err: err}
	}
	return engine.FilterFormats(raw), nil
}

// videoSelector caps the video stream height and falls back to the best
// single-file format when no split streams exist.
func videoSelector(maxHeight int) string {
	if maxHeight <= 0 {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best", maxHeight)
}

// failureMessage extracts the last ERROR line yt-dlp wrote to stderr.
func failureMessage(res *ytdlp.Result) string {
	if res == nil {
		return "extraction failed"
	}
	return errorLine(res.Stderr)
}

func errorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			msg := strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
			if len(msg) > 300 {
				msg = msg[:300]
			}
			return msg
		}
	}
	return "extraction failed"
}

var (
	errNoOutput  = errors.New("no output file")
	errNoFormats = errors.New("no format listing in output")
)
