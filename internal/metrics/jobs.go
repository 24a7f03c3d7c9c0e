// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the vidgrab job pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No job ids or URLs in labels: cardinality must stay bounded.

var (
	// JobsSubmittedTotal counts accepted submissions by format choice.
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_jobs_submitted_total",
		Help: "Total number of accepted download jobs, by format.",
	}, []string{"format"})

	// JobsRejectedTotal counts submissions refused before a job ran.
	JobsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_jobs_rejected_total",
		Help: "Total number of rejected submissions, by reason.",
	}, []string{"reason"}) // reason=invalid|queue_full|shutting_down|rate_limited

	// JobsFinishedTotal counts jobs leaving processing, by outcome.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_jobs_finished_total",
		Help: "Total number of jobs that left processing, by outcome.",
	}, []string{"outcome"}) // outcome=done|error|timeout|orphaned

	// ExtractionDuration observes engine wall time.
	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidgrab_extraction_duration_seconds",
		Help:    "Duration of extraction engine runs, by format and outcome.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"format", "outcome"})

	// JobsInFlight tracks extractions currently running.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidgrab_jobs_in_flight",
		Help: "Current number of running extractions.",
	})

	// JobsTracked tracks registry size.
	JobsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidgrab_jobs_tracked",
		Help: "Current number of jobs held in the registry.",
	})

	// QueueDepth tracks tasks waiting for a worker.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vidgrab_queue_depth",
		Help: "Current number of queued tasks, by backend.",
	}, []string{"backend"})

	// JobsExpiredTotal counts sweep evictions.
	JobsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_jobs_expired_total",
		Help: "Total number of jobs evicted by the sweep.",
	})

	// DeliveriesTotal counts artifact deliveries by result.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgrab_deliveries_total",
		Help: "Total number of delivery attempts, by result.",
	}, []string{"result"}) // result=completed|not_found|not_ready|failed

	// DeliveredBytesTotal counts artifact bytes handed to clients.
	DeliveredBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_delivered_bytes_total",
		Help: "Total artifact bytes served to clients.",
	})

	// PathViolationsTotal counts rejected artifact paths.
	PathViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidgrab_path_violations_total",
		Help: "Total number of artifact paths rejected for escaping the managed root.",
	})
)

// RecordSubmitted increments the submission counter.
func RecordSubmitted(format string) {
	JobsSubmittedTotal.WithLabelValues(format).Inc()
}

// RecordRejected increments the rejection counter.
func RecordRejected(reason string) {
	JobsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordFinished counts an outcome and observes the extraction duration.
func RecordFinished(format, outcome string, d time.Duration) {
	JobsFinishedTotal.WithLabelValues(outcome).Inc()
	ExtractionDuration.WithLabelValues(format, outcome).Observe(d.Seconds())
}

// RecordExpired adds n sweep evictions.
func RecordExpired(n int) {
	if n > 0 {
		JobsExpiredTotal.Add(float64(n))
	}
}

// RecordDelivery increments the delivery counter.
func RecordDelivery(result string, bytes int64) {
	DeliveriesTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		DeliveredBytesTotal.Add(float64(bytes))
	}
}

// RecordPathViolation increments the path violation counter.
func RecordPathViolation() {
	PathViolationsTotal.Inc()
}

// SetJobsTracked sets the registry size gauge.
func SetJobsTracked(n int) {
	JobsTracked.Set(float64(n))
}

// SetQueueDepth sets the queue depth gauge for a backend.
func SetQueueDepth(backend string, n int) {
	QueueDepth.WithLabelValues(backend).Set(float64(n))
}

// CounterValue reads a counter for tests and diagnostics.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue reads a gauge for tests and diagnostics.
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
