// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"net/url"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
	"github.com/direktiv/direktiv-sub000/pkg/sse"
	"github.com/direktiv/direktiv-sub000/pkg/stream"
)

// FollowOption configures a follow session.
type FollowOption func(*followConfig)

type followConfig struct {
	onError   func(error)
	onInvalid func(sse.Event, error)
}

// WithFollowErrors reports connection failures. The session keeps
// reconnecting unless the backoff gives up.
func WithFollowErrors(fn func(error)) FollowOption {
	return func(c *followConfig) { c.onError = fn }
}

// WithInvalidMessages reports stream messages that fail validation. They
// are dropped either way.
func WithInvalidMessages(fn func(sse.Event, error)) FollowOption {
	return func(c *followConfig) { c.onInvalid = fn }
}

// FollowLogs streams log lines matching q into the page ListLogs caches
// for the same filter. onUpdate receives the merged page and the number
// of lines the batch added. q.Before is ignored.
//
// The returned subscription is enabled. Close it to stop following.
func (c *Client) FollowLogs(namespace string, q LogsQuery, onUpdate func(page LogsPage, added int), opts ...FollowOption) (*stream.Subscription[[]LogEntry], error) {
	q.Before = ""
	p := logsParams{Namespace: namespace, Query: q}
	return follow(c, "logs", logsSubscribeURL(c.BaseURL(), p), logsKey(namespace, q),
		UpdateLogsCache, func(page LogsPage) int { return len(page.Data) }, onUpdate, opts)
}

// FollowMirrorActivities streams sync runs into the list
// ListMirrorActivities caches.
func (c *Client) FollowMirrorActivities(namespace string, onUpdate func(activities []SyncActivity, added int), opts ...FollowOption) (*stream.Subscription[[]SyncActivity], error) {
	return follow(c, "mirror", syncsSubscribeURL(c.BaseURL(), syncParams{namespace}), nsKey("mirror", namespace),
		UpdateMirrorActivityCache, lenOf[SyncActivity], onUpdate, opts)
}

// FollowEvents streams received events, oldest first. An empty eventType
// follows all types.
func (c *Client) FollowEvents(namespace, eventType string, onUpdate func(events []EventRecord, added int), opts ...FollowOption) (*stream.Subscription[[]EventRecord], error) {
	target := eventsSubscribeURL(c.BaseURL(), eventParams{
		Namespace: namespace,
		Query:     url.Values{"eventType": {eventType}},
	})
	return follow(c, "events", target, nsKey("events", namespace, "follow", eventType),
		UpdateEventsCache, lenOf[EventRecord], onUpdate, opts)
}

func lenOf[T any](s []T) int { return len(s) }

// follow subscribes to target and folds every batch into the cache entry
// at key with reduce.
func follow[T, P any](
	c *Client,
	name, target string,
	key cache.Key,
	reduce func(old P, ok bool, batch []T) P,
	size func(P) int,
	onUpdate func(P, int),
	opts []FollowOption,
) (*stream.Subscription[[]T], error) {
	var fc followConfig
	for _, opt := range opts {
		opt(&fc)
	}

	cfg := stream.Config[[]T]{
		Name:   name,
		URL:    target,
		APIKey: c.token(),
		Schema: schema.Object[[]T](),
		OnMessage: func(batch []T) {
			var before int
			page := cache.Update(c.cache, key, func(old P, ok bool) P {
				before = size(old)
				return reduce(old, ok, batch)
			})
			if onUpdate != nil {
				onUpdate(page, size(page)-before)
			}
		},
		OnInvalid: fc.onInvalid,
		OnError:   fc.onError,
		Client:    c.streamClient,
		Logger:    c.logger,
		Metrics:   c.metrics,
	}
	if c.streamBackoff != nil {
		cfg.Backoff = c.streamBackoff()
	}
	if c.streamLimiter != nil {
		cfg.Limiter = c.streamLimiter()
	}

	sub, err := stream.New(cfg)
	if err != nil {
		return nil, err
	}
	sub.SetEnabled(true)
	return sub, nil
}
