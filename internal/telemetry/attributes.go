// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across packages.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	JobIDKey         = "job.id"
	JobStatusKey     = "job.status"
	JobFormatKey     = "job.format"
	JobMaxHeightKey  = "job.max_height"
	JobDurationKey   = "job.duration_ms"
	SourceHostKey    = "source.host"
	ArtifactSizeKey  = "artifact.size"
	QueueBackendKey  = "queue.backend"
	DeliveryBytesKey = "delivery.bytes"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes describes a job at the start of its execution span.
func JobAttributes(jobID, format string, maxHeight int, sourceHost string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobFormatKey, format),
		attribute.Int(JobMaxHeightKey, maxHeight),
		attribute.String(SourceHostKey, sourceHost),
	}
}

// OutcomeAttributes describes how a job left processing.
func OutcomeAttributes(status string, durationMS, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
		attribute.Int64(ArtifactSizeKey, size),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
