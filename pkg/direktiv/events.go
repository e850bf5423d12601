// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// CloudEventsContentType is the structured-mode CloudEvents media type.
const CloudEventsContentType = "application/cloudevents+json"

// CloudEvent is a CloudEvents 1.0 envelope in structured JSON mode.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion" validate:"required"`
	ID              string          `json:"id" validate:"required"`
	Source          string          `json:"source" validate:"required"`
	Type            string          `json:"type" validate:"required"`
	Subject         string          `json:"subject,omitempty"`
	Time            *time.Time      `json:"time,omitempty"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// NewCloudEvent returns a 1.0 event with a random id and the current
// time.
func NewCloudEvent(eventType, source string, data json.RawMessage) CloudEvent {
	now := time.Now().UTC()
	ev := CloudEvent{
		SpecVersion: "1.0",
		ID:          uuid.NewString(),
		Source:      source,
		Type:        eventType,
		Time:        &now,
		Data:        data,
	}
	if len(data) > 0 {
		ev.DataContentType = "application/json"
	}
	return ev
}

// EventRecord is a received event as stored in the namespace history.
type EventRecord struct {
	Namespace  string     `json:"namespace"`
	ReceivedAt time.Time  `json:"receivedAt" validate:"required"`
	SerialID   int64      `json:"serialID"`
	Event      CloudEvent `json:"event"`
}

// EventsMeta carries the cursor of an events page.
type EventsMeta struct {
	PreviousPage *string `json:"previousPage"`
	StartingFrom *string `json:"startingFrom"`
}

// EventsPage is a page of the event history.
type EventsPage struct {
	Meta *EventsMeta   `json:"meta"`
	Data []EventRecord `json:"data" validate:"dive"`
}

// EventListener is a workflow trigger waiting for events.
type EventListener struct {
	ID                     string    `json:"id" validate:"required"`
	Namespace              string    `json:"namespace"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
	TriggerType            string    `json:"triggerType"`
	TriggerWorkflow        string    `json:"triggerWorkflow,omitempty"`
	TriggerInstance        string    `json:"triggerInstance,omitempty"`
	ListeningForEventTypes []string  `json:"listeningForEventTypes"`
	EventContextFilters    []any     `json:"eventContextFilters,omitempty"`
}

// EventsQuery filters the event history.
type EventsQuery struct {
	Before    string
	EventType string
}

type eventParams struct {
	Namespace string
	ID        string
	Query     url.Values
}

var (
	listEventsEndpoint = request.New(http.MethodGet,
		func(base string, p eventParams) string {
			return withQuery(nsURL(base, p.Namespace, "events", "history"), p.Query)
		},
		schema.Object[EventsPage]())

	replayEventEndpoint = request.New(http.MethodPost,
		func(base string, p eventParams) string {
			return nsURL(base, p.Namespace, "events", "history", p.ID, "replay")
		},
		schema.Nullable(schema.Object[struct{}]()))

	broadcastEventEndpoint = request.New(http.MethodPost,
		func(base string, p eventParams) string { return nsURL(base, p.Namespace, "events", "broadcast") },
		schema.Nullable(schema.Object[struct{}]()))

	listEventListenersEndpoint = request.New(http.MethodGet,
		func(base string, p eventParams) string {
			return withQuery(nsURL(base, p.Namespace, "events", "listeners"), p.Query)
		},
		schema.Object[list[EventListener]]())
)

func eventsSubscribeURL(base string, p eventParams) string {
	return withQuery(nsURL(base, p.Namespace, "events", "history", "subscribe"), p.Query)
}

// ListEvents reads one page of the event history.
func (c *Client) ListEvents(ctx context.Context, namespace string, q EventsQuery) (EventsPage, error) {
	key := nsKey("events", namespace, "history", q.EventType, q.Before)
	return fetchCached(ctx, c, key, func(ctx context.Context) (EventsPage, error) {
		return call(ctx, c, listEventsEndpoint, eventParams{
			Namespace: namespace,
			Query:     url.Values{"before": {q.Before}, "eventType": {q.EventType}},
		}, nil, nil)
	})
}

// BroadcastEvent sends ev to the namespace.
func (c *Client) BroadcastEvent(ctx context.Context, namespace string, ev CloudEvent) error {
	if err := schema.Validate(ev); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = call(ctx, c, broadcastEventEndpoint, eventParams{Namespace: namespace}, string(body),
		map[string]string{"Content-Type": CloudEventsContentType})
	if err != nil {
		return err
	}
	c.cache.Invalidate(nsKey("events", namespace, "history"))
	return nil
}

// ReplayEvent re-delivers a recorded event.
func (c *Client) ReplayEvent(ctx context.Context, namespace, eventID string) error {
	_, err := call(ctx, c, replayEventEndpoint, eventParams{Namespace: namespace, ID: eventID}, nil, nil)
	return err
}

// ListEventListeners lists the active event listeners. limit and offset
// page the result; zero means the server default.
func (c *Client) ListEventListeners(ctx context.Context, namespace string, limit, offset int) ([]EventListener, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	key := nsKey("events", namespace, "listeners", strconv.Itoa(limit), strconv.Itoa(offset))
	return fetchCached(ctx, c, key, func(ctx context.Context) ([]EventListener, error) {
		res, err := call(ctx, c, listEventListenersEndpoint, eventParams{Namespace: namespace, Query: q}, nil, nil)
		return res.Data, err
	})
}
