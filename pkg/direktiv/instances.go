// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Instance states.
const (
	InstancePending   = "pending"
	InstanceComplete  = "complete"
	InstanceFailed    = "failed"
	InstanceCancelled = "cancelled"
	InstanceCrashed   = "crashed"
)

// Instance is one workflow run.
type Instance struct {
	ID           string     `json:"id" validate:"required"`
	CreatedAt    time.Time  `json:"createdAt" validate:"required"`
	EndedAt      *time.Time `json:"endedAt"`
	Status       string     `json:"status" validate:"required,oneof=pending complete failed cancelled crashed"`
	WorkflowPath string     `json:"path"`
	ErrorCode    *string    `json:"errorCode"`
	ErrorMessage *string    `json:"errorMessage"`
	Invoker      string     `json:"invoker"`
	Definition   string     `json:"definition,omitempty" validate:"b64"`
}

// Finished reports whether the instance reached a terminal state.
func (i Instance) Finished() bool {
	return i.Status != InstancePending
}

// InstancesMeta carries the total count of a paged listing.
type InstancesMeta struct {
	Total int `json:"total" validate:"gte=0"`
}

// InstancesPage is a page of instances, newest first.
type InstancesPage struct {
	Meta InstancesMeta `json:"meta"`
	Data []Instance    `json:"data" validate:"dive"`
}

// InstanceData is the base64 input or output of an instance.
type InstanceData struct {
	ID   string `json:"id"`
	Data string `json:"data" validate:"b64"`
}

// Decode returns the raw bytes.
func (d InstanceData) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}

// InstancesQuery pages and filters instance listings.
type InstancesQuery struct {
	Limit  int
	Offset int
	Status string
	Path   string
}

type instanceParams struct {
	Namespace string
	ID        string
	Sub       string
	Query     url.Values
}

func instancesURL(base string, p instanceParams) string {
	u := nsURL(base, p.Namespace, "instances")
	if p.ID != "" {
		u = nsURL(base, p.Namespace, "instances", p.ID)
	}
	if p.Sub != "" {
		u += "/" + p.Sub
	}
	return withQuery(u, p.Query)
}

var (
	listInstancesEndpoint = request.New(http.MethodGet, instancesURL,
		schema.Object[InstancesPage]())

	getInstanceEndpoint = request.New(http.MethodGet, instancesURL,
		schema.Object[single[Instance]]())

	instanceDataEndpoint = request.New(http.MethodGet, instancesURL,
		schema.Object[single[InstanceData]]())

	runWorkflowEndpoint = request.New(http.MethodPost, instancesURL,
		schema.Object[single[Instance]]())

	cancelInstanceEndpoint = request.New(http.MethodPatch, instancesURL,
		schema.Object[single[Instance]]())
)

// ListInstances reads one page of instances.
func (c *Client) ListInstances(ctx context.Context, namespace string, q InstancesQuery) (InstancesPage, error) {
	vals := url.Values{
		"status": {q.Status},
		"path":   {q.Path},
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		vals.Set("offset", strconv.Itoa(q.Offset))
	}
	key := nsKey("instances", namespace, "list", strconv.Itoa(q.Limit), strconv.Itoa(q.Offset), q.Status, q.Path)
	return fetchCached(ctx, c, key, func(ctx context.Context) (InstancesPage, error) {
		return call(ctx, c, listInstancesEndpoint, instanceParams{Namespace: namespace, Query: vals}, nil, nil)
	})
}

// GetInstance reads one instance.
func (c *Client) GetInstance(ctx context.Context, namespace, id string) (Instance, error) {
	return fetchCached(ctx, c, nsKey("instances", namespace, "item", id), func(ctx context.Context) (Instance, error) {
		res, err := call(ctx, c, getInstanceEndpoint, instanceParams{Namespace: namespace, ID: id}, nil, nil)
		return res.Data, err
	})
}

// InstanceInput returns the data the instance was started with.
func (c *Client) InstanceInput(ctx context.Context, namespace, id string) (InstanceData, error) {
	res, err := call(ctx, c, instanceDataEndpoint, instanceParams{Namespace: namespace, ID: id, Sub: "input"}, nil, nil)
	return res.Data, err
}

// InstanceOutput returns the result of a finished instance.
func (c *Client) InstanceOutput(ctx context.Context, namespace, id string) (InstanceData, error) {
	res, err := call(ctx, c, instanceDataEndpoint, instanceParams{Namespace: namespace, ID: id, Sub: "output"}, nil, nil)
	return res.Data, err
}

// RunWorkflow starts the workflow at workflowPath with input as its
// JSON input. A nil input sends no body.
func (c *Client) RunWorkflow(ctx context.Context, namespace, workflowPath string, input []byte) (Instance, error) {
	var (
		payload any
		headers map[string]string
	)
	if input != nil {
		payload = input
		headers = map[string]string{"Content-Type": "application/json"}
	}
	res, err := call(ctx, c, runWorkflowEndpoint, instanceParams{
		Namespace: namespace,
		Query:     url.Values{"path": {cleanNodePath(workflowPath)}},
	}, payload, headers)
	if err != nil {
		return Instance{}, err
	}
	c.cache.Invalidate(nsKey("instances", namespace, "list"))
	return res.Data, nil
}

// CancelInstance asks the server to cancel a pending instance.
func (c *Client) CancelInstance(ctx context.Context, namespace, id string) (Instance, error) {
	res, err := call(ctx, c, cancelInstanceEndpoint, instanceParams{Namespace: namespace, ID: id},
		map[string]string{"status": InstanceCancelled}, nil)
	if err != nil {
		return Instance{}, err
	}
	c.cache.Invalidate(nsKey("instances", namespace))
	return res.Data, nil
}

// WaitInstance polls an instance until it finishes, ctx ends, or the
// backoff default of fifteen minutes elapses. Each poll bypasses the
// cache. A nil b polls with an exponential backoff capped at five
// seconds.
func (c *Client) WaitInstance(ctx context.Context, namespace, id string, b backoff.BackOff) (Instance, error) {
	if b == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 250 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		b = exp
	}
	key := nsKey("instances", namespace, "item", id)
	return backoff.Retry(ctx, func() (Instance, error) {
		c.cache.Invalidate(key)
		inst, err := c.GetInstance(ctx, namespace, id)
		switch {
		case err != nil:
			return Instance{}, backoff.Permanent(err)
		case !inst.Finished():
			return inst, errInstancePending
		}
		return inst, nil
	}, backoff.WithBackOff(b))
}

var errInstancePending = errors.New("instance pending")
