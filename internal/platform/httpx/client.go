// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpx builds outbound HTTP clients with bounded phases.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 3 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 16
	defaultMaxIdleConnsPerHost   = 4
)

// NewClient returns a client whose dial, TLS and header phases never exceed
// timeout. Proxy settings come from the environment.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: clampTimeout(timeout), Transport: newTransport(timeout)}
}

// NewProbeClient is NewClient without connection reuse. Used by the
// healthcheck subcommand, which exits after a single request.
func NewProbeClient(timeout time.Duration) *http.Client {
	t := newTransport(timeout)
	t.DisableKeepAlives = true
	t.MaxIdleConns = 0
	t.MaxIdleConnsPerHost = 0
	return &http.Client{Timeout: clampTimeout(timeout), Transport: t}
}

func clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultClientTimeout
	}
	return timeout
}

func newTransport(timeout time.Duration) *http.Transport {
	timeout = clampTimeout(timeout)
	dialTimeout := min(timeout, defaultDialTimeout)
	headerTimeout := min(timeout, defaultResponseHeaderTimeout)

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}
