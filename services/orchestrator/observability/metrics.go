// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the log assistant.
//
// # Description
//
// Prometheus metrics for streaming chat, retrieval and the session store:
//   - Request and error counters by endpoint
//   - Streamed fragment counters by channel (content, think)
//   - Latency histograms (time to first token, stream, retrieval)
//   - Active stream gauge
//   - Reconciliation and store operation counters
//
// Metrics are exposed on /metrics through promhttp.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "logassist"
)

// Metrics holds all Prometheus collectors for the service.
//
// # Description
//
// Build one per registry with NewMetrics. The zero value is not usable; a
// nil *Metrics is, and every method on it is a no-op so components can be
// constructed without metrics in tests.
type Metrics struct {
	// RequestsTotal labels: endpoint (chat_sse, chat_ws), status (success, error).
	RequestsTotal *prometheus.CounterVec

	// FragmentsTotal labels: channel (content, think).
	FragmentsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds labels: endpoint.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds labels: endpoint, status.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams labels: endpoint.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal labels: endpoint, error_code.
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal labels: endpoint.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal labels: endpoint.
	ClientDisconnectsTotal *prometheus.CounterVec

	// RetrievalDurationSeconds labels: provider, status.
	RetrievalDurationSeconds *prometheus.HistogramVec

	// RetrievalHitsTotal labels: provider.
	RetrievalHitsTotal *prometheus.CounterVec

	// ReconcileTotal labels: mode (normal, regenerate, edit), write (append, rewrite).
	ReconcileTotal *prometheus.CounterVec

	// StoreOperationsTotal labels: op, status.
	StoreOperationsTotal *prometheus.CounterVec
}

// DefaultMetrics is set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers all collectors with reg.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	m := observability.NewMetrics(reg)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		FragmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "fragments_total",
				Help:      "Streamed fragments by channel",
			},
			[]string{"channel"},
		),
		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed fragment in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
		RetrievalDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Retrieval provider latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"provider", "status"},
		),
		RetrievalHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "retrieval_hits_total",
				Help:      "Evidence items returned per provider",
			},
			[]string{"provider"},
		),
		ReconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "reconcile_total",
				Help:      "Transcript reconciliations by mode and write kind",
			},
			[]string{"mode", "write"},
		),
		StoreOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "store_operations_total",
				Help:      "Session store operations by kind and status",
			},
			[]string{"op", "status"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeUnauthenticated  ErrorCode = "unauthenticated"
	ErrorCodeEmptyInput       ErrorCode = "empty_input"
	ErrorCodeReservedMarker   ErrorCode = "reserved_marker"
	ErrorCodeLLMError         ErrorCode = "llm_error"
	ErrorCodePersistence      ErrorCode = "persistence"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint names a streaming transport for metrics labeling.
type Endpoint string

const (
	EndpointSSE       Endpoint = "chat_sse"
	EndpointWebSocket Endpoint = "chat_ws"
)

// =============================================================================
// Helper Methods
// =============================================================================

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordFragment counts one forwarded event on channel ("content", "think").
func (m *Metrics) RecordFragment(channel string) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(channel).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records time to first fragment.
func (m *Metrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// ObserveRetrieval records one provider call. Satisfies retrieval.Observer.
func (m *Metrics) ObserveRetrieval(provider string, hits int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RetrievalDurationSeconds.WithLabelValues(provider, status(err == nil)).Observe(duration.Seconds())
	m.RetrievalHitsTotal.WithLabelValues(provider).Add(float64(hits))
}

// RecordReconcile records one reconciliation decision.
func (m *Metrics) RecordReconcile(mode string, rewrite bool) {
	if m == nil {
		return
	}
	write := "append"
	if rewrite {
		write = "rewrite"
	}
	m.ReconcileTotal.WithLabelValues(mode, write).Inc()
}

// RecordStoreOp records one session store operation.
func (m *Metrics) RecordStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(op, status(err == nil)).Inc()
}
