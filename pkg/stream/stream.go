// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream subscribes to server-sent event endpoints and delivers
// schema-validated messages to a callback.
//
// # Architecture
//
//	SetEnabled(true) ──► run goroutine ──► connect ──► sse.Reader ──► schema.Parse
//	                          ▲               │                          │
//	                          │   backoff +   │                 valid ───┴─── invalid
//	                          └── rate limit ◄┘                   │             │
//	                                                         OnMessage      OnInvalid
//	                                                                    (dropped, warn log)
//
// # Ordering
//
// OnMessage and OnInvalid are invoked from a single goroutine at a time,
// in the order events arrive. Re-enabling a subscription starts a new
// run only after the previous one has returned, so callbacks never
// overlap even across enable/disable cycles.
//
// # Reconnects
//
// A dropped or refused connection is retried after the next backoff delay
// (exponential by default) and after a token from the rate limiter. The
// backoff resets once a connection has delivered at least one event. The
// last event id is sent back as Last-Event-ID.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/direktiv/direktiv-sub000/pkg/logging"
	"github.com/direktiv/direktiv-sub000/pkg/observability"
	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
	"github.com/direktiv/direktiv-sub000/pkg/sse"
)

// ErrServerClosed is reported when the server ends the event stream.
var ErrServerClosed = errors.New("event stream closed by server")

// maxErrorBody bounds how much of a failed connect response is kept.
const maxErrorBody = 4 << 10

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config describes one subscription.
//
// # Description
//
// URL, Schema and OnMessage are required. Everything else has a default.
//
// # Fields
//
//   - Name: label for logs and metrics (e.g. "logs"). Defaults to "stream".
//   - URL: absolute SSE endpoint.
//   - APIKey: sent as Direktiv-Token when non-empty.
//   - Headers: extra request headers.
//   - Schema: validates each event's data.
//   - OnMessage: receives every valid message.
//   - OnInvalid: optional, receives dropped events and their schema error.
//   - OnError: optional, receives connection failures before each retry.
//   - Client: HTTP client. Must not set a request timeout. Defaults to
//     http.DefaultClient.
//   - Logger, Metrics: optional.
//   - Backoff: reconnect delays. Not safe to share between
//     subscriptions. Defaults to DefaultBackoff(). Returning backoff.Stop
//     ends the run.
//   - Limiter: bounds connection attempts. Defaults to DefaultLimiter().
//   - MaxLineSize: longest accepted SSE line. Defaults to
//     sse.DefaultMaxLineSize. A longer line ends the run.
type Config[T any] struct {
	Name      string
	URL       string
	APIKey    string
	Headers   map[string]string
	Schema    schema.Schema[T]
	OnMessage func(T)
	OnInvalid func(ev sse.Event, err error)
	OnError   func(err error)
	Client    request.Doer
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Backoff   backoff.BackOff
	Limiter   *rate.Limiter

	MaxLineSize int
}

// DefaultBackoff returns the reconnect policy used when Config.Backoff
// is nil: 500ms doubling up to 30s with jitter, never giving up.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// DefaultLimiter allows a burst of 3 connection attempts, then one per
// second.
func DefaultLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 3)
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is a switchable connection to one SSE endpoint.
//
// # Thread Safety
//
// All methods are safe for concurrent use and may be called from inside
// the callbacks.
type Subscription[T any] struct {
	cfg Config[T]

	mu      sync.Mutex
	enabled bool
	closed  bool
	cancel  context.CancelFunc
	runDone chan struct{}
	done    chan struct{}

	// lastID is only touched by the active run goroutine.
	lastID string
}

// New validates cfg and returns a disabled subscription.
//
// # Outputs
//
// Returns an error when URL, Schema or OnMessage is missing.
func New[T any](cfg Config[T]) (*Subscription[T], error) {
	if cfg.URL == "" {
		return nil, errors.New("stream: URL is required")
	}
	if cfg.Schema == nil {
		return nil, errors.New("stream: Schema is required")
	}
	if cfg.OnMessage == nil {
		return nil, errors.New("stream: OnMessage is required")
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = DefaultLimiter()
	}
	cfg.Logger = logging.OrDiscard(cfg.Logger).With("stream", cfg.Name)

	return &Subscription[T]{
		cfg:  cfg,
		done: make(chan struct{}),
	}, nil
}

// SetEnabled connects (true) or tears the connection down (false).
//
// # Description
//
// Enabling an enabled subscription and disabling a disabled one are
// no-ops. Disabling does not wait for the connection to close; use
// Close and Wait for that. Calls after Close are ignored.
func (s *Subscription[T]) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.enabled == enabled {
		return
	}
	s.enabled = enabled

	if !enabled {
		s.cancel()
		s.cancel = nil
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := s.runDone
	runDone := make(chan struct{})
	s.cancel = cancel
	s.runDone = runDone
	go s.run(ctx, prev, runDone)
}

// Enabled reports whether the subscription is currently enabled.
func (s *Subscription[T]) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Close disables the subscription permanently. It is idempotent and does
// not block; Wait returns once the last run has finished.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.enabled {
		s.cancel()
		s.cancel = nil
		s.enabled = false
	}

	last := s.runDone
	go func() {
		if last != nil {
			<-last
		}
		close(s.done)
	}()
}

// Wait blocks until the subscription is closed and no callback is
// running, or ctx ends.
func (s *Subscription[T]) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Close has been called and the last run returned.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// =============================================================================
// RUN LOOP
// =============================================================================

func (s *Subscription[T]) run(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	b := s.cfg.Backoff
	b.Reset()

	for attempt := 0; ; attempt++ {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			s.cfg.Metrics.RecordReconnect(s.cfg.Name)
		}

		delivered, retry, err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, sse.ErrLineTooLong) {
			s.cfg.Logger.Error("stream stopped, message too large", "error", err)
			s.reportError(err)
			return
		}
		if delivered {
			b.Reset()
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			s.cfg.Logger.Error("stream gave up reconnecting", "error", err, "attempts", attempt+1)
			s.reportError(err)
			return
		}
		if retry > delay {
			delay = retry
		}

		s.cfg.Logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"delay_ms", delay.Milliseconds(),
		)
		s.reportError(err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect holds one connection until it ends. It reports whether any
// event arrived and the last server-requested retry delay.
func (s *Subscription[T]) connect(ctx context.Context) (bool, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return false, 0, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.cfg.APIKey != "" {
		req.Header.Set(request.AuthHeader, s.cfg.APIKey)
	}
	if s.lastID != "" {
		req.Header.Set("Last-Event-ID", s.lastID)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("connect %s: %w", s.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, 0, request.NewHTTPError(http.MethodGet, s.cfg.URL, resp.StatusCode, body)
	}

	s.cfg.Logger.Debug("stream connected", "last_event_id", s.lastID)
	s.cfg.Metrics.SetStreamActive(s.cfg.Name, true)
	defer s.cfg.Metrics.SetStreamActive(s.cfg.Name, false)

	var (
		delivered bool
		retry     time.Duration
	)
	reader := sse.NewReader(sse.WithLastEventID(s.lastID), sse.WithMaxLineSize(s.cfg.MaxLineSize))
	err = reader.Read(ctx, resp.Body, func(ev sse.Event) error {
		delivered = true
		if ev.Retry > 0 {
			retry = ev.Retry
		}
		s.lastID = ev.ID
		s.handle(ev)
		return nil
	})
	if err == nil {
		err = ErrServerClosed
	}
	return delivered, retry, err
}

// handle validates one event and routes it to the matching callback.
func (s *Subscription[T]) handle(ev sse.Event) {
	msg, err := s.cfg.Schema.Parse(ev.Data)
	if err != nil {
		s.cfg.Metrics.RecordStreamMessage(s.cfg.Name, observability.ResultInvalid)
		s.cfg.Logger.Warn("dropping invalid stream message",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		if s.cfg.OnInvalid != nil {
			s.cfg.OnInvalid(ev, err)
		}
		return
	}
	s.cfg.Metrics.RecordStreamMessage(s.cfg.Name, observability.ResultAccepted)
	s.cfg.OnMessage(msg)
}

func (s *Subscription[T]) reportError(err error) {
	if s.cfg.OnError != nil && err != nil {
		s.cfg.OnError(err)
	}
}
