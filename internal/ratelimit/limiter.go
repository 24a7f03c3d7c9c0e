// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit throttles job submissions globally, per client and per format.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vidgrab",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total submissions rejected by the rate limiter",
	},
	[]string{"limit_type", "format"},
)

// Config holds rate limiting configuration.
type Config struct {
	GlobalRate  rate.Limit
	GlobalBurst int

	PerIPRate  rate.Limit
	PerIPBurst int

	// Per-format limits, keyed by "video" / "audio".
	FormatRates map[string]rate.Limit
	FormatBurst map[string]int

	// IdleTTL drops per-IP limiters not used for this long.
	IdleTTL time.Duration
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
}

// DefaultConfig returns defaults sized for a small self-hosted instance.
// Extractions are expensive, so the budget is low.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  5,
		GlobalBurst: 20,

		PerIPRate:  0.5,
		PerIPBurst: 5,

		FormatRates: map[string]rate.Limit{
			"video": 3,
			"audio": 5,
		},
		FormatBurst: map[string]int{
			"video": 10,
			"audio": 15,
		},

		IdleTTL: 10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter combines a global, a per-format and a per-client token bucket.
type Limiter struct {
	config Config
	now    func() time.Time

	global    *rate.Limiter
	perFormat map[string]*rate.Limiter

	mu          sync.Mutex
	perIP       map[string]*clientLimiter
	lastCleanup time.Time
}

// New creates a limiter from config.
func New(config Config) *Limiter {
	l := &Limiter{
		config:      config,
		now:         time.Now,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perFormat:   make(map[string]*rate.Limiter),
		perIP:       make(map[string]*clientLimiter),
		lastCleanup: time.Now(),
	}
	for format, r := range config.FormatRates {
		l.perFormat[format] = rate.NewLimiter(r, config.FormatBurst[format])
	}
	return l
}

// Allow reports whether a submission from clientIP for format may proceed.
func (l *Limiter) Allow(clientIP, format string) bool {
	now := l.now()
	if !l.global.AllowN(now, 1) {
		rateLimitExceeded.WithLabelValues("global", format).Inc()
		return false
	}
	if fl, ok := l.perFormat[format]; ok && !fl.AllowN(now, 1) {
		rateLimitExceeded.WithLabelValues("per_format", format).Inc()
		return false
	}
	if !l.clientLimiter(clientIP, now).AllowN(now, 1) {
		rateLimitExceeded.WithLabelValues("per_ip", format).Inc()
		return false
	}
	return true
}

func (l *Limiter) clientLimiter(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.config.IdleTTL > 0 && now.Sub(l.lastCleanup) >= l.config.IdleTTL {
		for k, c := range l.perIP {
			if now.Sub(c.lastSeen) >= l.config.IdleTTL {
				delete(l.perIP, k)
			}
		}
		l.lastCleanup = now
	}

	c, ok := l.perIP[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.config.PerIPRate, l.config.PerIPBurst)}
		l.perIP[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Tracked returns the number of per-client limiters held.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// ClientIP extracts the client address from r. Proxy headers are honored
// only when TrustProxyHeaders is set.
func (l *Limiter) ClientIP(r *http.Request) string {
	return GetClientIP(r, l.config.TrustProxyHeaders)
}

// GetClientIP extracts the client address from r.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
