// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Log levels.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogWorkflow is the workflow context of a log line.
type LogWorkflow struct {
	Status   string `json:"status,omitempty"`
	State    string `json:"state,omitempty"`
	Branch   *int   `json:"branch,omitempty"`
	Path     string `json:"workflow,omitempty"`
	CalledAs string `json:"calledAs,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// LogActivity identifies the mirror sync a log line belongs to.
type LogActivity struct {
	ID string `json:"id"`
}

// LogRoute identifies the gateway route a log line belongs to.
type LogRoute struct {
	Path string `json:"path"`
}

// LogEntry is one log line.
type LogEntry struct {
	ID        int64        `json:"id"`
	Time      time.Time    `json:"time" validate:"required"`
	Msg       string       `json:"msg"`
	Level     string       `json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Namespace string       `json:"namespace,omitempty"`
	Trace     string       `json:"trace,omitempty"`
	Span      string       `json:"span,omitempty"`
	Workflow  *LogWorkflow `json:"workflow,omitempty"`
	Activity  *LogActivity `json:"activity,omitempty"`
	Route     *LogRoute    `json:"route,omitempty"`
	Error     *string      `json:"error,omitempty"`
}

// LogsMeta carries the cursor of a logs page.
type LogsMeta struct {
	PreviousPage *string `json:"previousPage"`
	StartingFrom *string `json:"startingFrom"`
}

// LogsPage is a page of log lines in ascending time order.
type LogsPage struct {
	Meta *LogsMeta  `json:"meta"`
	Data []LogEntry `json:"data" validate:"dive"`
}

// LogsQuery filters log lines. At most one of Instance, Activity and
// Route is expected. Before pages backwards from a cursor.
type LogsQuery struct {
	Instance string
	Activity string
	Route    string
	Trace    string
	Before   string
}

func (q LogsQuery) values() url.Values {
	return url.Values{
		"instance": {q.Instance},
		"activity": {q.Activity},
		"route":    {q.Route},
		"trace":    {q.Trace},
		"before":   {q.Before},
	}
}

type logsParams struct {
	Namespace string
	Query     LogsQuery
}

func logsURL(base string, p logsParams) string {
	return withQuery(nsURL(base, p.Namespace, "logs"), p.Query.values())
}

func logsSubscribeURL(base string, p logsParams) string {
	q := p.Query
	q.Before = ""
	return withQuery(nsURL(base, p.Namespace, "logs", "subscribe"), q.values())
}

var listLogsEndpoint = request.New(http.MethodGet, logsURL, schema.Object[LogsPage]())

// logsKey addresses the cached page for q. Follow sessions for the same
// filter write to the same key.
func logsKey(namespace string, q LogsQuery) cache.Key {
	return nsKey("logs", namespace, q.Instance, q.Activity, q.Route, q.Trace, q.Before)
}

// ListLogs reads one page of log lines.
func (c *Client) ListLogs(ctx context.Context, namespace string, q LogsQuery) (LogsPage, error) {
	return fetchCached(ctx, c, logsKey(namespace, q), func(ctx context.Context) (LogsPage, error) {
		return call(ctx, c, listLogsEndpoint, logsParams{Namespace: namespace, Query: q}, nil, nil)
	})
}
