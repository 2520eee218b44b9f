// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics creates Metrics on an isolated registry so tests can run
// in parallel without duplicate registration panics.
func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

// ============================================================================
// Counter Tests
// ============================================================================

func TestRecordRequest(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointSSE, true)
	m.RecordRequest(EndpointSSE, true)
	m.RecordRequest(EndpointSSE, false)
	m.RecordRequest(EndpointWebSocket, true)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_sse", "success")); got != 2 {
		t.Errorf("chat_sse success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_sse", "error")); got != 1 {
		t.Errorf("chat_sse error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat_ws", "success")); got != 1 {
		t.Errorf("chat_ws success = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	m.RecordError(EndpointSSE, ErrorCodeLLMError)
	m.RecordError(EndpointSSE, ErrorCodeLLMError)
	m.RecordError(EndpointSSE, ErrorCodeEmptyInput)

	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat_sse", "llm_error")); got != 2 {
		t.Errorf("llm_error = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chat_sse", "empty_input")); got != 1 {
		t.Errorf("empty_input = %v, want 1", got)
	}
}

func TestActiveStreams(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	m.StreamStarted(EndpointSSE)
	m.StreamStarted(EndpointSSE)
	m.StreamEnded(EndpointSSE)

	if got := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chat_sse")); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
}

func TestReconcileAndStoreOps(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	m.RecordReconcile("normal", false)
	m.RecordReconcile("edit", true)
	m.RecordStoreOp("apply", nil)
	m.RecordStoreOp("apply", errors.New("disk"))

	if got := testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("normal", "append")); got != 1 {
		t.Errorf("normal/append = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("edit", "rewrite")); got != 1 {
		t.Errorf("edit/rewrite = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("apply", "error")); got != 1 {
		t.Errorf("apply/error = %v, want 1", got)
	}
}

// ============================================================================
// Histogram Tests
// ============================================================================

func TestObserveRetrieval(t *testing.T) {
	t.Parallel()
	m, reg := newTestMetrics(t)

	m.ObserveRetrieval("weaviate_vector", 4, 30*time.Millisecond, nil)
	m.ObserveRetrieval("web", 0, time.Second, errors.New("timeout"))

	if got := testutil.ToFloat64(m.RetrievalHitsTotal.WithLabelValues("weaviate_vector")); got != 4 {
		t.Errorf("hits = %v, want 4", got)
	}
	if n := testutil.CollectAndCount(m.RetrievalDurationSeconds); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}

	expected := `
# HELP aleutian_logassist_retrieval_hits_total Evidence items returned per provider
# TYPE aleutian_logassist_retrieval_hits_total counter
aleutian_logassist_retrieval_hits_total{provider="weaviate_vector"} 4
aleutian_logassist_retrieval_hits_total{provider="web"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "aleutian_logassist_retrieval_hits_total"); err != nil {
		t.Error(err)
	}
}

// ============================================================================
// Nil Safety
// ============================================================================

// TestNilMetrics verifies every helper is a no-op on a nil receiver.
func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.RecordRequest(EndpointSSE, true)
	m.RecordError(EndpointSSE, ErrorCodeInternal)
	m.RecordFragment("content")
	m.StreamStarted(EndpointSSE)
	m.StreamEnded(EndpointSSE)
	m.RecordTimeToFirstToken(EndpointSSE, 1)
	m.RecordStreamDuration(EndpointSSE, 1, true)
	m.RecordKeepAlive(EndpointSSE)
	m.RecordClientDisconnect(EndpointSSE)
	m.ObserveRetrieval("p", 1, time.Second, nil)
	m.RecordReconcile("normal", false)
	m.RecordStoreOp("apply", nil)
}
