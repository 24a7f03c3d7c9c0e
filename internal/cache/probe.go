// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/vidgrab/internal/engine"
	"github.com/ManuGH/vidgrab/internal/log"
	"github.com/ManuGH/vidgrab/internal/metrics"
)

// DefaultProbeTTL is how long format listings stay cached.
const DefaultProbeTTL = 10 * time.Minute

// Prober lists the formats available for a URL.
type Prober interface {
	Probe(ctx context.Context, url string) ([]engine.Format, error)
}

// ProbeCache memoizes format probes. Concurrent misses for the same URL
// share one probe; failures are never cached.
type ProbeCache struct {
	cache  Cache
	prober Prober
	ttl    time.Duration
	group  singleflight.Group
}

// NewProbeCache wraps prober with c.
func NewProbeCache(c Cache, prober Prober, ttl time.Duration) *ProbeCache {
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	return &ProbeCache{cache: c, prober: prober, ttl: ttl}
}

func probeKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "formats:" + hex.EncodeToString(sum[:])
}

// Formats returns the formats for url, from cache when possible.
func (p *ProbeCache) Formats(ctx context.Context, url string) ([]engine.Format, error) {
	key := probeKey(url)
	if raw, ok := p.cache.Get(ctx, key); ok {
		var formats []engine.Format
		if err := json.Unmarshal(raw, &formats); err == nil {
			metrics.RecordProbeCache(true)
			return formats, nil
		}
		p.cache.Delete(ctx, key)
	}
	metrics.RecordProbeCache(false)

	v, err, _ := p.group.Do(key, func() (any, error) {
		formats, err := p.prober.Probe(ctx, url)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(formats); err == nil {
			p.cache.Set(ctx, key, raw, p.ttl)
		} else {
			logger := log.WithComponentFromContext(ctx, "cache")
			logger.Warn().Err(err).Msg("encode probe result")
		}
		return formats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]engine.Format), nil
}
