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
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/direktiv/direktiv-sub000/pkg/request"
)

func TestSetSecret_FallsBackToUpdateOnConflict(t *testing.T) {
	api := newFakeAPI(t)
	api.route("POST /api/v2/namespaces/{ns}/secrets", http.StatusConflict,
		`{"error":{"code":"resource_already_exists","message":"secret exists"}}`)
	api.route("PATCH /api/v2/namespaces/{ns}/secrets/{name}", http.StatusOK,
		`{"data":{"name":"db","initialized":true}}`)
	c := api.client(t)

	s, err := c.SetSecret(context.Background(), "demo", "db", []byte("hunter2"))
	require.NoError(t, err)
	assert.True(t, s.Initialized)

	assert.JSONEq(t, `{"name":"db","data":"aHVudGVyMg=="}`,
		string(api.last(t, "PATCH /api/v2/namespaces/{ns}/secrets/{name}").Body))
	assert.Equal(t, 1, api.count("POST /api/v2/namespaces/{ns}/secrets"))
}

func TestSetSecret_OtherErrorsAreReturned(t *testing.T) {
	api := newFakeAPI(t)
	api.route("POST /api/v2/namespaces/{ns}/secrets", http.StatusForbidden, `{}`)
	api.route("PATCH /api/v2/namespaces/{ns}/secrets/{name}", http.StatusOK, `{}`)
	c := api.client(t)

	_, err := c.SetSecret(context.Background(), "demo", "db", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Zero(t, api.count("PATCH /api/v2/namespaces/{ns}/secrets/{name}"))
}

func TestRegistries(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/registries", http.StatusOK,
		`{"data":[{"id":"r1","url":"docker.io","user":"me"}]}`)
	api.route("POST /api/v2/namespaces/{ns}/registries", http.StatusOK,
		`{"data":{"id":"r2","url":"ghcr.io","user":"bot"}}`)
	api.routeFunc("DELETE /api/v2/namespaces/{ns}/registries/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := api.client(t)
	ctx := context.Background()

	_, err := c.CreateRegistry(ctx, "demo", CreateRegistryInput{URL: "ghcr.io", User: "bot"})
	assert.Error(t, err, "password is required")

	r, err := c.CreateRegistry(ctx, "demo", CreateRegistryInput{URL: "ghcr.io", User: "bot", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "r2", r.ID)

	regs, err := c.ListRegistries(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, regs, 1)

	require.NoError(t, c.DeleteRegistry(ctx, "demo", "r1"))
	_, err = c.ListRegistries(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("GET /api/v2/namespaces/{ns}/registries"))
}

func TestVariables(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/variables", http.StatusOK,
		`{"data":[{"id":"v1","type":"workflow-variable","reference":"/wf.yaml","name":"counter","size":1}]}`)
	api.route("GET /api/v2/namespaces/{ns}/variables/{id}", http.StatusOK,
		`{"data":{"id":"v1","type":"workflow-variable","name":"counter","size":1,"data":"Mw=="}}`)
	api.route("PATCH /api/v2/namespaces/{ns}/variables/{id}", http.StatusOK,
		`{"data":{"id":"v1","type":"workflow-variable","name":"counter","size":1,"data":"NA=="}}`)
	c := api.client(t)
	ctx := context.Background()

	vars, err := c.ListVariables(ctx, "demo", "/wf.yaml")
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "/api/v2/namespaces/demo/variables?workflowPath=%2Fwf.yaml",
		api.last(t, "GET /api/v2/namespaces/{ns}/variables").URL)

	v, err := c.GetVariable(ctx, "demo", "v1")
	require.NoError(t, err)
	data, err := v.Content()
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))

	_, err = c.UpdateVariable(ctx, "demo", "v1", UpdateVariableInput{Data: "NA=="})
	require.NoError(t, err)

	_, err = c.GetVariable(ctx, "demo", "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("GET /api/v2/namespaces/{ns}/variables/{id}"), "update drops the cached item")
	_, err = c.ListVariables(ctx, "demo", "/wf.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("GET /api/v2/namespaces/{ns}/variables"))

	_, err = c.CreateVariable(ctx, "demo", CreateVariableInput{Name: "x", Data: "not base64!"})
	assert.Error(t, err)
}

func TestRebuildService(t *testing.T) {
	api := newFakeAPI(t)
	api.route("POST /api/v2/namespaces/{ns}/services/{id}/actions/rebuild", http.StatusOK, ``)
	c := api.client(t)

	require.NoError(t, c.RebuildService(context.Background(), "demo", "svc-1"))
	assert.Equal(t, "/api/v2/namespaces/demo/services/svc-1/actions/rebuild",
		api.last(t, "POST /api/v2/namespaces/{ns}/services/{id}/actions/rebuild").URL)
}

func TestBroadcastEvent(t *testing.T) {
	api := newFakeAPI(t)
	api.route("POST /api/v2/namespaces/{ns}/events/broadcast", http.StatusOK, ``)
	c := api.client(t)

	ev := NewCloudEvent("order.created", "direktivctl", json.RawMessage(`{"id":7}`))
	require.NoError(t, c.BroadcastEvent(context.Background(), "demo", ev))

	req := api.last(t, "POST /api/v2/namespaces/{ns}/events/broadcast")
	assert.Equal(t, CloudEventsContentType, req.Header.Get("Content-Type"))
	var sent CloudEvent
	require.NoError(t, json.Unmarshal(req.Body, &sent))
	assert.Equal(t, "1.0", sent.SpecVersion)
	assert.Equal(t, "order.created", sent.Type)
	assert.JSONEq(t, `{"id":7}`, string(sent.Data))

	assert.Error(t, c.BroadcastEvent(context.Background(), "demo", CloudEvent{Type: "x"}))
}

func TestEventsHistoryAndReplay(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/events/history", http.StatusOK,
		`{"meta":{"previousPage":null},"data":[{"namespace":"demo","receivedAt":"`+ts+`","serialID":3,
		"event":{"specversion":"1.0","id":"e1","source":"s","type":"t"}}]}`)
	api.route("POST /api/v2/namespaces/{ns}/events/history/{id}/replay", http.StatusOK, ``)
	api.route("GET /api/v2/namespaces/{ns}/events/listeners", http.StatusOK,
		`{"data":[{"id":"l1","triggerType":"StartSimple","listeningForEventTypes":["t"]}]}`)
	c := api.client(t)
	ctx := context.Background()

	page, err := c.ListEvents(ctx, "demo", EventsQuery{EventType: "t"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "e1", page.Data[0].Event.ID)
	assert.Equal(t, "/api/v2/namespaces/demo/events/history?eventType=t",
		api.last(t, "GET /api/v2/namespaces/{ns}/events/history").URL)

	require.NoError(t, c.ReplayEvent(ctx, "demo", "e1"))

	ls, err := c.ListEventListeners(ctx, "demo", 10, 0)
	require.NoError(t, err)
	require.Len(t, ls, 1)
	assert.Equal(t, []string{"t"}, ls[0].ListeningForEventTypes)
	assert.Equal(t, "/api/v2/namespaces/demo/events/listeners?limit=10",
		api.last(t, "GET /api/v2/namespaces/{ns}/events/listeners").URL)
}

func TestInstances(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/instances", http.StatusOK,
		`{"meta":{"total":41},"data":[{"id":"i1","createdAt":"`+ts+`","status":"pending","path":"/wf.yaml"}]}`)
	api.route("POST /api/v2/namespaces/{ns}/instances", http.StatusOK,
		`{"data":{"id":"i2","createdAt":"`+ts+`","status":"pending","path":"/wf.yaml"}}`)
	api.route("PATCH /api/v2/namespaces/{ns}/instances/{id}", http.StatusOK,
		`{"data":{"id":"i1","createdAt":"`+ts+`","status":"cancelled"}}`)
	api.route("GET /api/v2/namespaces/{ns}/instances/{id}/output", http.StatusOK,
		`{"data":{"id":"i1","data":"eyJvayI6dHJ1ZX0="}}`)
	c := api.client(t)
	ctx := context.Background()

	page, err := c.ListInstances(ctx, "demo", InstancesQuery{Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, 41, page.Meta.Total)
	require.Len(t, page.Data, 1)
	assert.False(t, page.Data[0].Finished())
	assert.Equal(t, "/api/v2/namespaces/demo/instances?limit=1&offset=5",
		api.last(t, "GET /api/v2/namespaces/{ns}/instances").URL)

	inst, err := c.RunWorkflow(ctx, "demo", "wf.yaml", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, "i2", inst.ID)
	run := api.last(t, "POST /api/v2/namespaces/{ns}/instances")
	assert.Equal(t, "/api/v2/namespaces/demo/instances?path=%2Fwf.yaml", run.URL)
	assert.Equal(t, `{"x":1}`, string(run.Body))
	assert.Equal(t, "application/json", run.Header.Get("Content-Type"))

	inst, err = c.CancelInstance(ctx, "demo", "i1")
	require.NoError(t, err)
	assert.True(t, inst.Finished())
	assert.JSONEq(t, `{"status":"cancelled"}`, string(api.last(t, "PATCH /api/v2/namespaces/{ns}/instances/{id}").Body))

	out, err := c.InstanceOutput(ctx, "demo", "i1")
	require.NoError(t, err)
	raw, err := out.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestWaitInstance_PollsUntilFinished(t *testing.T) {
	api := newFakeAPI(t)
	var polls atomic.Int32
	api.routeFunc("GET /api/v2/namespaces/{ns}/instances/{id}", func(w http.ResponseWriter, _ *http.Request) {
		status := "pending"
		if polls.Add(1) >= 3 {
			status = "complete"
		}
		_, _ = w.Write([]byte(`{"data":{"id":"i1","createdAt":"` + ts + `","status":"` + status + `"}}`))
	})
	c := api.client(t)

	inst, err := c.WaitInstance(context.Background(), "demo", "i1", backoff.NewConstantBackOff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, InstanceComplete, inst.Status)
	assert.Equal(t, 3, api.count("GET /api/v2/namespaces/{ns}/instances/{id}"))
}

func TestWaitInstance_StopsOnError(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/instances/{id}", http.StatusNotFound,
		`{"error":{"code":"resource_not_found","message":"instance not found"}}`)
	c := api.client(t)

	_, err := c.WaitInstance(context.Background(), "demo", "i1", backoff.NewConstantBackOff(time.Millisecond))
	require.Error(t, err)
	assert.True(t, request.IsNotFound(err))
	assert.Equal(t, 1, api.count("GET /api/v2/namespaces/{ns}/instances/{id}"))
}

func TestMirrorSync(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/syncs", http.StatusOK,
		`{"data":[{"id":"s1","status":"complete","createdAt":"`+ts+`"}]}`)
	api.route("POST /api/v2/namespaces/{ns}/syncs", http.StatusOK,
		`{"data":{"id":"s2","status":"pending","createdAt":"`+ts+`"}}`)
	api.route("GET /api/v2/namespaces/{ns}/logs", http.StatusOK,
		`{"data":[{"id":1,"time":"`+ts+`","msg":"cloning","level":"INFO","activity":{"id":"s2"}}]}`)
	c := api.client(t)
	ctx := context.Background()

	acts, err := c.ListMirrorActivities(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.True(t, acts[0].Finished())

	act, err := c.SyncMirror(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, act.Finished())

	_, err = c.ListMirrorActivities(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("GET /api/v2/namespaces/{ns}/syncs"), "sync invalidates the list")

	page, err := c.ActivityLogs(ctx, "demo", "s2")
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "/api/v2/namespaces/demo/logs?activity=s2", api.last(t, "GET /api/v2/namespaces/{ns}/logs").URL)
}
