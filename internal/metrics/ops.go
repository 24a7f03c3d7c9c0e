// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	configReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_config_reload_total",
		Help: "Config reload attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	probeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_probe_cache_total",
		Help: "Format probe cache lookups by result",
	}, []string{"result"}) // result=hit|miss

	historyWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_history_write_errors_total",
		Help: "Total number of failed history writes",
	})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vidgrab_build_info",
		Help: "Build information, value is always 1",
	}, []string{"version"})
)

// RecordConfigReload counts a reload attempt.
func RecordConfigReload(ok bool) {
	if ok {
		configReloadTotal.WithLabelValues("success").Inc()
		return
	}
	configReloadTotal.WithLabelValues("failure").Inc()
}

// RecordProbeCache counts a probe cache lookup.
func RecordProbeCache(hit bool) {
	if hit {
		probeCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	probeCacheTotal.WithLabelValues("miss").Inc()
}

// RecordHistoryWriteError counts a failed history write.
func RecordHistoryWriteError() {
	historyWriteErrors.Inc()
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
