// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the API client layers.
//
// # Metrics
//
// All metrics use the "direktiv" namespace and a subsystem per layer:
//
//   - direktiv_client_requests_total{method, endpoint, status}
//   - direktiv_client_request_duration_seconds{method, endpoint}
//   - direktiv_client_schema_failures_total{method, endpoint}
//   - direktiv_stream_messages_total{stream, result}
//   - direktiv_stream_reconnects_total{stream}
//   - direktiv_stream_active{stream}
//   - direktiv_cache_lookups_total{result}
//
// "endpoint" is the URL path with the namespace and resource identifiers
// removed (see EndpointLabel) so label cardinality stays bounded.
//
// # Usage
//
// Metrics are registered against an injected registerer rather than the
// global default, so tests can create isolated instances:
//
//	reg := prometheus.NewRegistry()
//	m := observability.NewMetrics(reg)
//
// A nil *Metrics is valid and records nothing.
package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "direktiv"

const (
	clientSubsystem = "client"
	streamSubsystem = "stream"
	cacheSubsystem  = "cache"
)

// Stream message results.
const (
	ResultAccepted = "accepted"
	ResultInvalid  = "invalid"
)

// Metrics holds every collector used by the client layers.
type Metrics struct {
	// RequestsTotal counts completed requests by method, endpoint label and
	// status ("2xx", "4xx", "5xx", "error" for transport failures).
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds tracks request latency.
	RequestDurationSeconds *prometheus.HistogramVec

	// SchemaFailuresTotal counts 2xx responses rejected by their schema.
	SchemaFailuresTotal *prometheus.CounterVec

	// StreamMessagesTotal counts SSE messages by result (accepted/invalid).
	StreamMessagesTotal *prometheus.CounterVec

	// StreamReconnectsTotal counts connection attempts after the first.
	StreamReconnectsTotal *prometheus.CounterVec

	// StreamActive is 1 while a stream has an open connection.
	StreamActive *prometheus.GaugeVec

	// CacheLookupsTotal counts cache lookups by result (hit/miss).
	CacheLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// Registering twice against the same registerer panics, as with promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by method, endpoint and status class",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),
		SchemaFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "schema_failures_total",
				Help:      "Successful responses whose body failed schema validation",
			},
			[]string{"method", "endpoint"},
		),
		StreamMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "messages_total",
				Help:      "Server-sent messages received by stream and validation result",
			},
			[]string{"stream", "result"},
		),
		StreamReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "reconnects_total",
				Help:      "Stream reconnection attempts",
			},
			[]string{"stream"},
		),
		StreamActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "active",
				Help:      "Whether a stream currently holds an open connection",
			},
			[]string{"stream"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "lookups_total",
				Help:      "Query cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// RecordRequest records one completed request. statusCode 0 means the
// request failed before a response arrived.
func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, endpoint, StatusClass(statusCode)).Inc()
	m.RequestDurationSeconds.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// RecordSchemaFailure records a response rejected by its schema.
func (m *Metrics) RecordSchemaFailure(method, endpoint string) {
	if m == nil {
		return
	}
	m.SchemaFailuresTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordStreamMessage records one received stream message.
func (m *Metrics) RecordStreamMessage(stream, result string) {
	if m == nil {
		return
	}
	m.StreamMessagesTotal.WithLabelValues(stream, result).Inc()
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect(stream string) {
	if m == nil {
		return
	}
	m.StreamReconnectsTotal.WithLabelValues(stream).Inc()
}

// SetStreamActive flips the active gauge for stream.
func (m *Metrics) SetStreamActive(stream string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.StreamActive.WithLabelValues(stream).Set(v)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// StatusClass maps a status code to "2xx".."5xx", or "error" for 0.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// EndpointLabel reduces an API path to a bounded label.
//
// The namespace segment following "namespaces" and everything after the
// resource collection name are dropped:
//
//	/api/v2/namespaces/demo/files/a/b.yaml  → /api/v2/namespaces/:ns/files
//	/api/v2/namespaces/demo/logs/subscribe  → /api/v2/namespaces/:ns/logs
//	/api/v2/namespaces                      → /api/v2/namespaces
func EndpointLabel(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		out = append(out, parts[i])
		if parts[i] != "namespaces" || i+1 >= len(parts) {
			continue
		}
		out = append(out, ":ns")
		if i+2 < len(parts) {
			out = append(out, parts[i+2])
		}
		break
	}
	return "/" + strings.Join(out, "/")
}
