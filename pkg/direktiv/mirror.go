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
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Sync activity states.
const (
	SyncPending   = "pending"
	SyncExecuting = "executing"
	SyncComplete  = "complete"
	SyncFailed    = "failed"
)

// SyncActivity is one mirror synchronisation run.
type SyncActivity struct {
	ID        string    `json:"id" validate:"required"`
	Status    string    `json:"status" validate:"required,oneof=pending executing complete failed"`
	EndAt     time.Time `json:"endAt"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Finished reports whether the run reached a terminal state.
func (a SyncActivity) Finished() bool {
	return a.Status == SyncComplete || a.Status == SyncFailed
}

type syncParams struct {
	Namespace string
}

func syncsURL(base string, p syncParams) string {
	return nsURL(base, p.Namespace, "syncs")
}

func syncsSubscribeURL(base string, p syncParams) string {
	return nsURL(base, p.Namespace, "syncs", "subscribe")
}

var (
	syncMirrorEndpoint = request.New(http.MethodPost, syncsURL,
		schema.Object[single[SyncActivity]]())

	listSyncsEndpoint = request.New(http.MethodGet, syncsURL,
		schema.Object[list[SyncActivity]]())
)

// SyncMirror starts a synchronisation of the namespace mirror.
func (c *Client) SyncMirror(ctx context.Context, namespace string) (SyncActivity, error) {
	res, err := call(ctx, c, syncMirrorEndpoint, syncParams{namespace}, nil, nil)
	if err != nil {
		return SyncActivity{}, err
	}
	c.cache.Invalidate(nsKey("mirror", namespace))
	return res.Data, nil
}

// ListMirrorActivities lists the sync runs of a namespace, oldest first.
func (c *Client) ListMirrorActivities(ctx context.Context, namespace string) ([]SyncActivity, error) {
	return fetchCached(ctx, c, nsKey("mirror", namespace), func(ctx context.Context) ([]SyncActivity, error) {
		res, err := call(ctx, c, listSyncsEndpoint, syncParams{namespace}, nil, nil)
		return res.Data, err
	})
}

// ActivityLogs reads the log lines of one sync run.
func (c *Client) ActivityLogs(ctx context.Context, namespace, activityID string) (LogsPage, error) {
	return c.ListLogs(ctx, namespace, LogsQuery{Activity: activityID})
}
