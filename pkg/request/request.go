// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package request builds typed API calls from a URL builder, an HTTP
// method and a response schema.
//
// # Architecture
//
//	Endpoint[U, T]  (method + URL builder + schema + parser, immutable)
//	      │ Call(ctx, transport, params)
//	      ▼
//	Transport        (base URL, Doer, logger, metrics, tracer)
//	      │
//	      ▼
//	HTTP response → status check → ResponseParser → schema.Parse → T
//
// Endpoints are declared once, usually as package-level variables, and
// executed against any Transport:
//
//	var listNamespaces = request.New(http.MethodGet,
//	    func(base string, _ struct{}) string { return base + "/api/v2/namespaces" },
//	    schema.Object[NamespaceList]())
//
//	list, err := listNamespaces.Call(ctx, transport, request.Params[struct{}]{APIKey: token})
//
// # Failure kinds
//
//   - *HTTPError: non-2xx status (status, method and URL in the message).
//     Structured API error bodies are available as *UpstreamError.
//   - *SchemaError: 2xx body that does not parse or validate (method and
//     URL in the message, no status).
//   - transport errors (DNS, refused, context cancelled), wrapped with the
//     method and URL.
//
// # Limitations
//
// No retries and no timeouts are applied here. Retry policy belongs to
// the caller and deadlines come from ctx.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/direktiv/direktiv-sub000/pkg/logging"
	"github.com/direktiv/direktiv-sub000/pkg/observability"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// AuthHeader carries the API token.
const AuthHeader = "Direktiv-Token"

// RequestIDHeader correlates client logs with server logs.
const RequestIDHeader = "X-Request-Id"

// =============================================================================
// Params
// =============================================================================

// Params are the per-call inputs of an endpoint.
type Params[U any] struct {
	// APIKey is sent in the Direktiv-Token header when non-empty.
	APIKey string

	// Payload is the request body. Strings and []byte are sent verbatim,
	// any other non-nil value is JSON encoded.
	Payload any

	// Headers are applied after the defaults and may override them.
	Headers map[string]string

	// URLParams are handed to the endpoint's URL builder.
	URLParams U
}

// =============================================================================
// Endpoint
// =============================================================================

// URLBuilder renders the absolute request URL from the transport base URL
// and the call's URL parameters.
type URLBuilder[U any] func(baseURL string, params U) string

// Endpoint is an immutable description of one API operation.
type Endpoint[U, T any] struct {
	method string
	url    URLBuilder[U]
	schema schema.Schema[T]
	parser ResponseParser
}

// Option customises an Endpoint.
type Option func(*endpointOptions)

type endpointOptions struct {
	parser ResponseParser
}

// WithParser replaces the default JSON response parser.
func WithParser(p ResponseParser) Option {
	return func(o *endpointOptions) {
		if p != nil {
			o.parser = p
		}
	}
}

// New declares an endpoint.
func New[U, T any](method string, url URLBuilder[U], s schema.Schema[T], opts ...Option) Endpoint[U, T] {
	o := endpointOptions{parser: JSONParser}
	for _, opt := range opts {
		opt(&o)
	}
	return Endpoint[U, T]{
		method: method,
		url:    url,
		schema: s,
		parser: o.parser,
	}
}

// Method returns the HTTP method.
func (e Endpoint[U, T]) Method() string { return e.method }

// URL renders the request URL for params against baseURL.
func (e Endpoint[U, T]) URL(baseURL string, params U) string {
	return e.url(baseURL, params)
}

// Call performs the request and returns the validated response.
func (e Endpoint[U, T]) Call(ctx context.Context, t *Transport, p Params[U]) (T, error) {
	var zero T

	target := e.url(t.baseURL, p.URLParams)
	endpoint := observability.EndpointLabel(pathOf(target))
	requestID := uuid.NewString()
	logger := t.logger.With(
		"request_id", requestID,
		"method", e.method,
		"endpoint", endpoint,
	)

	ctx, span := t.tracer.Start(ctx, e.method+" "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", e.method),
			attribute.String("url.full", target),
			attribute.String("direktiv.request_id", requestID),
		),
	)
	defer span.End()

	body, contentType, err := encodePayload(p.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode payload")
		return zero, fmt.Errorf("encode payload for %s %s: %w", e.method, target, err)
	}

	req, err := http.NewRequestWithContext(ctx, e.method, target, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return zero, fmt.Errorf("build request %s %s: %w", e.method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if p.APIKey != "" {
		req.Header.Set(AuthHeader, p.APIKey)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.RecordRequest(e.method, endpoint, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		logger.Debug("request failed", "error", err)
		return zero, fmt.Errorf("%s %s: %w", e.method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	t.metrics.RecordRequest(e.method, endpoint, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return zero, fmt.Errorf("read response of %s %s: %w", e.method, target, err)
	}

	logger.Debug("request completed",
		"status_code", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
		"bytes", len(raw),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return zero, NewHTTPError(e.method, target, resp.StatusCode, raw)
	}

	var doc []byte
	if resp.StatusCode != http.StatusNoContent && len(bytes.TrimSpace(raw)) > 0 {
		doc, err = e.parser(raw, resp.Header)
		if err != nil {
			return zero, e.schemaFailure(t, span, logger, endpoint, target, err)
		}
	}

	out, err := e.schema.Parse(doc)
	if err != nil {
		return zero, e.schemaFailure(t, span, logger, endpoint, target, err)
	}
	return out, nil
}

func (e Endpoint[U, T]) schemaFailure(t *Transport, span trace.Span, logger *slog.Logger, endpoint, target string, err error) error {
	t.metrics.RecordSchemaFailure(e.method, endpoint)
	schemaErr := &SchemaError{Method: e.method, URL: target, Err: err}
	span.RecordError(schemaErr)
	span.SetStatus(codes.Error, "schema")
	logger.Warn("response failed schema validation", "error", err)
	return schemaErr
}

func encodePayload(payload any) (io.Reader, string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(p), "", nil
	case []byte:
		return bytes.NewReader(p), "", nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Path
}

// =============================================================================
// Transport
// =============================================================================

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport carries the shared execution context for endpoint calls.
// It is safe for concurrent use.
type Transport struct {
	baseURL   string
	client    Doer
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	userAgent string
}

// TransportOption customises a Transport.
type TransportOption func(*Transport)

// WithClient sets the HTTP client. Defaults to http.DefaultClient.
func WithClient(c Doer) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) TransportOption {
	return func(t *Transport) { t.metrics = m }
}

// WithTracer sets the tracer. Defaults to the global otel tracer.
func WithTracer(tr trace.Tracer) TransportOption {
	return func(t *Transport) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) TransportOption {
	return func(t *Transport) { t.userAgent = ua }
}

// NewTransport creates a Transport for the API served at baseURL.
// A trailing slash on baseURL is ignored.
func NewTransport(baseURL string, opts ...TransportOption) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		logger:  logging.OrDiscard(nil),
		tracer:  observability.Tracer(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the API base URL without trailing slash.
func (t *Transport) BaseURL() string { return t.baseURL }

// Client returns the HTTP client, for callers that open their own
// connections (streams) against the same API.
func (t *Transport) Client() Doer { return t.client }
