// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/direktiv/direktiv-sub000/pkg/observability"
	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
	"github.com/direktiv/direktiv-sub000/pkg/sse"
)

// =============================================================================
// Helpers
// =============================================================================

type tick struct {
	N int `json:"n" validate:"gt=0"`
}

// eventServer serves an SSE endpoint. handle is called once per
// connection with the 1-based connection number.
type eventServer struct {
	srv     *httptest.Server
	conns   atomic.Int32
	release chan struct{}

	mu      sync.Mutex
	headers []http.Header
}

func newEventServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, conn int, es *eventServer)) *eventServer {
	t.Helper()
	es := &eventServer{release: make(chan struct{})}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(es.conns.Add(1))
		es.mu.Lock()
		es.headers = append(es.headers, r.Header.Clone())
		es.mu.Unlock()
		handle(w, r, n, es)
	}))
	t.Cleanup(func() {
		close(es.release)
		es.srv.Close()
	})
	return es
}

func (es *eventServer) header(i int) http.Header {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.headers[i]
}

// send writes raw SSE text and flushes.
func send(w http.ResponseWriter, raw string) {
	_, _ = fmt.Fprint(w, raw)
	w.(http.Flusher).Flush()
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

// hold keeps the connection open until the client leaves or the test ends.
func (es *eventServer) hold(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-es.release:
	}
}

func fastConfig(url string, onMessage func(tick)) Config[tick] {
	return Config[tick]{
		Name:      "test",
		URL:       url,
		Schema:    schema.Object[tick](),
		OnMessage: onMessage,
		Backoff:   backoff.NewConstantBackOff(5 * time.Millisecond),
		Limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

func closeAndWait(t *testing.T, s *Subscription[tick]) {
	t.Helper()
	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

// collector gathers messages from OnMessage.
type collector struct {
	mu   sync.Mutex
	seen []int
}

func (c *collector) add(m tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, m.N)
}

func (c *collector) values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.seen...)
}

// =============================================================================
// Tests
// =============================================================================

func TestNew_RequiresFields(t *testing.T) {
	_, err := New(Config[tick]{Schema: schema.Object[tick](), OnMessage: func(tick) {}})
	assert.Error(t, err)
	_, err = New(Config[tick]{URL: "http://x", OnMessage: func(tick) {}})
	assert.Error(t, err)
	_, err = New(Config[tick]{URL: "http://x", Schema: schema.Object[tick]()})
	assert.Error(t, err)
}

func TestSubscription_DeliversValidAndDropsInvalid(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, _ int, es *eventServer) {
		startStream(w)
		send(w, ": keep-alive\n\n")
		send(w, "data: {\"n\":1}\n\n")
		send(w, "data: {\"n\":0}\n\n")
		send(w, "data: not json\n\n")
		send(w, "data: {\"n\":2}\n\n")
		es.hold(r)
	})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	col := &collector{}
	var invalid atomic.Int32

	cfg := fastConfig(es.srv.URL, col.add)
	cfg.APIKey = "token"
	cfg.Metrics = metrics
	cfg.OnInvalid = func(ev sse.Event, err error) {
		assert.Error(t, err)
		invalid.Add(1)
	}
	sub, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { closeAndWait(t, sub) })

	sub.SetEnabled(true)
	assert.True(t, sub.Enabled())

	require.Eventually(t, func() bool { return len(col.values()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, col.values())
	assert.Equal(t, int32(2), invalid.Load())
	assert.Equal(t, "token", es.header(0).Get(request.AuthHeader))
	assert.Equal(t, "text/event-stream", es.header(0).Get("Accept"))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamMessagesTotal.WithLabelValues("test", observability.ResultAccepted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamMessagesTotal.WithLabelValues("test", observability.ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamActive.WithLabelValues("test")))
}

func TestSubscription_ReconnectsWithLastEventID(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, conn int, es *eventServer) {
		startStream(w)
		if conn == 1 {
			send(w, "id: 41\ndata: {\"n\":1}\n\n")
			return
		}
		send(w, "id: 42\ndata: {\"n\":2}\n\n")
		es.hold(r)
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	col := &collector{}
	var disconnects atomic.Int32
	cfg := fastConfig(es.srv.URL, col.add)
	cfg.Metrics = metrics
	cfg.OnError = func(err error) {
		assert.ErrorIs(t, err, ErrServerClosed)
		disconnects.Add(1)
	}
	sub, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { closeAndWait(t, sub) })

	sub.SetEnabled(true)

	require.Eventually(t, func() bool { return len(col.values()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, col.values())
	assert.Empty(t, es.header(0).Get("Last-Event-ID"))
	assert.Equal(t, "41", es.header(1).Get("Last-Event-ID"))
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamReconnectsTotal.WithLabelValues("test")))
}

func TestSubscription_RetriesNon2xx(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, conn int, es *eventServer) {
		if conn == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"error":{"code":"unavailable","message":"try later"}}`)
			return
		}
		startStream(w)
		send(w, "data: {\"n\":7}\n\n")
		es.hold(r)
	})

	col := &collector{}
	errs := make(chan error, 4)
	cfg := fastConfig(es.srv.URL, col.add)
	cfg.OnError = func(err error) { errs <- err }
	sub, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { closeAndWait(t, sub) })

	sub.SetEnabled(true)

	require.Eventually(t, func() bool { return len(col.values()) == 1 }, 2*time.Second, 5*time.Millisecond)
	first := <-errs
	assert.Equal(t, http.StatusServiceUnavailable, request.StatusCode(first))
	var upstream *request.UpstreamError
	require.True(t, errors.As(first, &upstream))
	assert.Equal(t, "unavailable", upstream.Code)
}

func TestSubscription_DisableTearsDown(t *testing.T) {
	disconnected := make(chan struct{}, 4)
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, _ int, es *eventServer) {
		startStream(w)
		send(w, "data: {\"n\":1}\n\n")
		<-r.Context().Done()
		disconnected <- struct{}{}
	})

	col := &collector{}
	sub, err := New(fastConfig(es.srv.URL, col.add))
	require.NoError(t, err)
	t.Cleanup(func() { closeAndWait(t, sub) })

	sub.SetEnabled(true)
	require.Eventually(t, func() bool { return len(col.values()) == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.SetEnabled(false)
	assert.False(t, sub.Enabled())
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection was not closed after disable")
	}
	require.Never(t, func() bool { return es.conns.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	// Re-enabling opens a fresh connection.
	sub.SetEnabled(true)
	require.Eventually(t, func() bool { return len(col.values()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), es.conns.Load())
}

func TestSubscription_DisableFromCallback(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, _ int, es *eventServer) {
		startStream(w)
		send(w, "data: {\"n\":1}\n\ndata: {\"n\":2}\n\n")
		es.hold(r)
	})

	var sub *Subscription[tick]
	col := &collector{}
	cfg := fastConfig(es.srv.URL, func(m tick) {
		col.add(m)
		sub.SetEnabled(false)
	})
	var err error
	sub, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { closeAndWait(t, sub) })

	sub.SetEnabled(true)
	require.Eventually(t, func() bool { return !sub.Enabled() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, col.values()[0])
}

func TestSubscription_BackoffStopEndsRun(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, _ int, es *eventServer) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	errs := make(chan error, 4)
	cfg := fastConfig(es.srv.URL, func(tick) {})
	cfg.Backoff = &backoff.StopBackOff{}
	cfg.OnError = func(err error) { errs <- err }
	sub, err := New(cfg)
	require.NoError(t, err)

	sub.SetEnabled(true)
	select {
	case err := <-errs:
		assert.Equal(t, http.StatusUnauthorized, request.StatusCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connection error")
	}
	require.Never(t, func() bool { return es.conns.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	closeAndWait(t, sub)
}

func TestSubscription_OversizedLineEndsRun(t *testing.T) {
	es := newEventServer(t, func(w http.ResponseWriter, r *http.Request, _ int, es *eventServer) {
		startStream(w)
		send(w, "data: {\"n\":"+strings.Repeat("1", 128)+"}\n\n")
		es.hold(r)
	})

	errs := make(chan error, 4)
	cfg := fastConfig(es.srv.URL, func(tick) {})
	cfg.MaxLineSize = 64
	cfg.OnError = func(err error) { errs <- err }
	sub, err := New(cfg)
	require.NoError(t, err)

	sub.SetEnabled(true)
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, sse.ErrLineTooLong)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a line size error")
	}
	require.Never(t, func() bool { return es.conns.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, errs)
	closeAndWait(t, sub)
}

func TestSubscription_CloseIsFinal(t *testing.T) {
	sub, err := New(fastConfig("http://127.0.0.1:0", func(tick) {}))
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	sub.SetEnabled(true)
	assert.False(t, sub.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sub.Wait(ctx))
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSubscription_WaitHonoursContext(t *testing.T) {
	sub, err := New(fastConfig("http://127.0.0.1:0", func(tick) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sub.Wait(ctx), context.Canceled)
}
