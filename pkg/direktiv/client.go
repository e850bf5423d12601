// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package direktiv is a typed client for the Direktiv v2 REST and event
// stream API.
//
// Every response is validated before it is returned. Queries read through
// a shared cache.Cache; mutations invalidate the cache keys they affect.
// Follow methods open event streams and merge their batches into the
// cached pages with the Update*Cache reducers.
package direktiv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/logging"
	"github.com/direktiv/direktiv-sub000/pkg/observability"
	"github.com/direktiv/direktiv-sub000/pkg/request"
)

// apiPrefix is the versioned API root below the base URL.
const apiPrefix = "/api/v2"

// Options configures a Client.
type Options struct {
	// BaseURL is the Direktiv server, e.g. "https://direktiv.example.com".
	BaseURL string

	// Token returns the API token for each request. Nil or empty sends no
	// token.
	Token func() string

	// HTTPClient executes REST calls. Defaults to http.DefaultClient.
	HTTPClient request.Doer

	// StreamClient executes event stream connections and must not have a
	// request timeout. Defaults to HTTPClient.
	StreamClient request.Doer

	// Cache backs queries and follow sessions. Defaults to cache.New().
	Cache *cache.Cache

	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	UserAgent string

	// StreamBackoff and StreamLimiter create the reconnect policy of each
	// follow subscription. Nil uses the stream package defaults.
	StreamBackoff func() backoff.BackOff
	StreamLimiter func() *rate.Limiter
}

// Client talks to one Direktiv server. It is safe for concurrent use.
type Client struct {
	transport     *request.Transport
	cache         *cache.Cache
	token         func() string
	streamClient  request.Doer
	logger        *slog.Logger
	metrics       *observability.Metrics
	streamBackoff func() backoff.BackOff
	streamLimiter func() *rate.Limiter
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("direktiv: base URL is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("direktiv: base URL must be absolute, e.g. https://direktiv.example.com")
	}

	var httpClient request.Doer = http.DefaultClient
	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	}
	streamClient := opts.StreamClient
	if streamClient == nil {
		streamClient = httpClient
	}
	c := opts.Cache
	if c == nil {
		c = cache.New(cache.WithLogger(opts.Logger), cache.WithMetrics(opts.Metrics))
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	logger := logging.OrDiscard(opts.Logger)

	transportOpts := []request.TransportOption{
		request.WithClient(httpClient),
		request.WithLogger(logger),
		request.WithMetrics(opts.Metrics),
		request.WithTracer(opts.Tracer),
	}
	if opts.UserAgent != "" {
		transportOpts = append(transportOpts, request.WithUserAgent(opts.UserAgent))
	}

	return &Client{
		transport:     request.NewTransport(opts.BaseURL, transportOpts...),
		cache:         c,
		token:         token,
		streamClient:  streamClient,
		logger:        logger,
		metrics:       opts.Metrics,
		streamBackoff: opts.StreamBackoff,
		streamLimiter: opts.StreamLimiter,
	}, nil
}

// Cache returns the query cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// BaseURL returns the server URL without trailing slash.
func (c *Client) BaseURL() string { return c.transport.BaseURL() }

// call runs ep with the client's token.
func call[U, T any](ctx context.Context, c *Client, ep request.Endpoint[U, T], params U, payload any, headers map[string]string) (T, error) {
	return ep.Call(ctx, c.transport, request.Params[U]{
		APIKey:    c.token(),
		Payload:   payload,
		Headers:   headers,
		URLParams: params,
	})
}

// =============================================================================
// URL helpers
// =============================================================================

// nsURL renders base/api/v2/namespaces/{ns}/{rest...}. rest segments are
// escaped individually.
func nsURL(base, namespace string, rest ...string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(apiPrefix)
	b.WriteString("/namespaces/")
	b.WriteString(url.PathEscape(namespace))
	for _, seg := range rest {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// nodeURL renders a file tree URL, keeping the slashes of nodePath.
func nodeURL(base, namespace, collection, nodePath string) string {
	return nsURL(base, namespace, collection) + escapeNodePath(nodePath)
}

func escapeNodePath(p string) string {
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return "/"
	}
	return (&url.URL{Path: p}).EscapedPath()
}

// withQuery appends non-empty values as a query string.
func withQuery(u string, q url.Values) string {
	for k, vs := range q {
		if len(vs) == 0 || (len(vs) == 1 && vs[0] == "") {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}

// =============================================================================
// Envelopes
// =============================================================================

// single is the {"data": {...}} response envelope.
type single[T any] struct {
	Data T `json:"data"`
}

// list is the {"data": [...]} response envelope.
type list[T any] struct {
	Data []T `json:"data" validate:"dive"`
}

// =============================================================================
// Cache keys
// =============================================================================

func namespacesKey() cache.Key { return cache.Key{"namespaces"} }

func nsKey(resource, namespace string, rest ...string) cache.Key {
	return append(cache.Key{resource, namespace}, rest...)
}
