// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyURL          = errors.New("url is empty")
	ErrMalformedURL      = errors.New("malformed url")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrMissingHost       = errors.New("url host is empty")
	ErrCredentials       = errors.New("url must not embed credentials")
	// ErrHostNotAllowed indicates the URL host did not match the allowlist.
	ErrHostNotAllowed = errors.New("url host not allowed")
	// ErrBlockedAddress indicates the URL points at a local or link-local literal address.
	ErrBlockedAddress = errors.New("url points at a blocked address")
)

// SourcePolicy decides which source URLs may be handed to the extraction engine.
// An empty Hosts list allows any host. A host entry also matches its subdomains.
type SourcePolicy struct {
	Hosts        []string
	AllowPrivate bool
}

// NewSourcePolicy normalizes the allowlist once so Validate stays cheap.
func NewSourcePolicy(hosts []string, allowPrivate bool) (SourcePolicy, error) {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		n, err := NormalizeHost(h)
		if err != nil {
			return SourcePolicy{}, err
		}
		normalized = append(normalized, n)
	}
	return SourcePolicy{Hosts: normalized, AllowPrivate: allowPrivate}, nil
}

// Validate parses raw and checks it against the policy. It returns the
// normalized URL string suitable for the engine.
func (p SourcePolicy) Validate(raw string) (string, error) {
	u, err := ParseDirectHTTPURL(raw)
	if err != nil {
		return "", err
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	if ip := net.ParseIP(host); ip != nil && !p.AllowPrivate && isBlockedIP(ip) {
		return "", fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}

	if len(p.Hosts) > 0 && !hostAllowed(p.Hosts, host) {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}

	u.Host = joinHostPort(host, u.Port())
	return u.String(), nil
}

// NormalizeHost validates and normalizes a host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

func hostAllowed(allowed []string, host string) bool {
	for _, a := range allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
