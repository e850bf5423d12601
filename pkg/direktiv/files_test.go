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
	"io"
	"net/http"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/request"
)

const filesRoute = "GET /api/v2/namespaces/{ns}/files/{path...}"

// serveTree answers every file read with a directory node at the
// requested path, or the workflow source when raw=true.
func serveTree(api *fakeAPI, source string) {
	api.routeFunc(filesRoute, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("raw") == "true" {
			w.Header().Set("Content-Type", "text/yaml")
			_, _ = io.WriteString(w, source)
			return
		}
		p := "/" + r.PathValue("path")
		_, _ = fmt.Fprintf(w, `{"data":{"path":%q,"type":"directory","createdAt":"%s","children":[{"path":%q,"type":"workflow"}]}}`,
			p, ts, path.Join(p, "a.yaml"))
	})
}

func TestGetNode_EscapesPathAndCaches(t *testing.T) {
	api := newFakeAPI(t)
	serveTree(api, "")
	c := api.client(t)

	n, err := c.GetNode(context.Background(), "demo", "/my dir/")
	require.NoError(t, err)
	assert.Equal(t, "/my dir", n.Path)
	assert.Equal(t, "my dir", n.Name())
	require.Len(t, n.Children, 1)
	assert.Equal(t, "a.yaml", n.Children[0].Name())
	assert.Equal(t, "/api/v2/namespaces/demo/files/my%20dir", api.last(t, filesRoute).URL)

	_, err = c.GetNode(context.Background(), "demo", "my dir")
	require.NoError(t, err)
	assert.Equal(t, 1, api.count(filesRoute), "same node under a different spelling")
}

func TestDeleteNode_InvalidatesSubtreeAndParent(t *testing.T) {
	api := newFakeAPI(t)
	serveTree(api, "")
	api.routeFunc("DELETE /api/v2/namespaces/{ns}/files/{path...}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := api.client(t)
	ctx := context.Background()

	for _, p := range []string{"/", "/dir", "/dir/sub", "/dir/sub/wf.yaml", "/other"} {
		_, err := c.GetNode(ctx, "demo", p)
		require.NoError(t, err)
	}

	require.NoError(t, c.DeleteNode(ctx, "demo", "/dir"))

	var left []string
	for _, k := range c.Cache().Keys(cache.Key{"files", "demo"}) {
		left = append(left, k[2])
	}
	assert.Equal(t, []string{"/other"}, left)
}

func TestCreateFile_SendsBase64(t *testing.T) {
	api := newFakeAPI(t)
	api.route("POST /api/v2/namespaces/{ns}/files/{path...}", http.StatusOK,
		`{"data":{"path":"/dir/wf.yaml","type":"workflow","data":"c3RhdGVzOiBbXQ=="}}`)
	c := api.client(t)

	n, err := c.CreateFile(context.Background(), "demo", "/dir", "wf.yaml", NodeWorkflow, "application/yaml", []byte("states: []"))
	require.NoError(t, err)
	content, err := n.Content()
	require.NoError(t, err)
	assert.Equal(t, "states: []", string(content))

	var body CreateNodeInput
	require.NoError(t, json.Unmarshal(api.last(t, "POST /api/v2/namespaces/{ns}/files/{path...}").Body, &body))
	assert.Equal(t, "wf.yaml", body.Name)
	assert.Equal(t, "c3RhdGVzOiBbXQ==", body.Data)

	_, err = c.CreateNode(context.Background(), "demo", "/dir", CreateNodeInput{Name: "a/b", Type: NodeFile})
	assert.Error(t, err, "names cannot contain a slash")
}

func TestRenameNode(t *testing.T) {
	api := newFakeAPI(t)
	api.route("PATCH /api/v2/namespaces/{ns}/files/{path...}", http.StatusOK,
		`{"data":{"path":"/new.yaml","type":"workflow"}}`)
	c := api.client(t)

	n, err := c.RenameNode(context.Background(), "demo", "/old.yaml", "new.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/new.yaml", n.Path)

	req := api.last(t, "PATCH /api/v2/namespaces/{ns}/files/{path...}")
	assert.Equal(t, "/api/v2/namespaces/demo/files/old.yaml", req.URL)
	assert.JSONEq(t, `{"path":"/new.yaml"}`, string(req.Body))
}

func TestWorkflowDefinition(t *testing.T) {
	api := newFakeAPI(t)
	serveTree(api, "direktiv_api: workflow/v1\nstates:\n- id: hello\n  type: noop\n")
	c := api.client(t)

	def, err := c.WorkflowDefinition(context.Background(), "demo", "/wf.yaml")
	require.NoError(t, err)
	assert.Equal(t, "workflow/v1", def.DirektivAPI)
	require.Len(t, def.States, 1)
	assert.Equal(t, "hello", def.States[0].ID)
	assert.Equal(t, "/api/v2/namespaces/demo/files/wf.yaml?raw=true", api.last(t, filesRoute).URL)

	raw, err := c.RawFile(context.Background(), "demo", "/wf.yaml")
	require.NoError(t, err)
	assert.Contains(t, raw, "id: hello")
}

func TestWorkflowDefinition_WithoutStatesIsSchemaError(t *testing.T) {
	api := newFakeAPI(t)
	serveTree(api, "direktiv_api: workflow/v1\ndescription: empty\n")

	_, err := api.client(t).WorkflowDefinition(context.Background(), "demo", "/wf.yaml")
	require.Error(t, err)
	assert.True(t, request.IsSchemaError(err))
}

func TestRevisions(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/revisions/{path...}", http.StatusOK,
		`{"data":[{"id":"r1","hash":"abc","tags":["latest"],"createdAt":"`+ts+`"}]}`)
	api.route("POST /api/v2/namespaces/{ns}/revisions/{path...}", http.StatusOK,
		`{"data":{"id":"r1","tags":["latest","v1"],"createdAt":"`+ts+`"}}`)
	c := api.client(t)
	ctx := context.Background()

	revs, err := c.ListRevisions(ctx, "demo", "/wf.yaml")
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.True(t, revs[0].HasTag("latest"))

	_, err = c.TagRevision(ctx, "demo", "/wf.yaml", TagRevisionInput{Ref: "r1", Tag: "a/b"})
	assert.Error(t, err)

	rev, err := c.TagRevision(ctx, "demo", "/wf.yaml", TagRevisionInput{Ref: "r1", Tag: "v1"})
	require.NoError(t, err)
	assert.True(t, rev.HasTag("v1"))

	_, err = c.ListRevisions(ctx, "demo", "/wf.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("GET /api/v2/namespaces/{ns}/revisions/{path...}"))
}

func TestGetRevision_ByTag(t *testing.T) {
	api := newFakeAPI(t)
	api.route("GET /api/v2/namespaces/{ns}/revisions/{path...}", http.StatusOK,
		`{"data":{"id":"r7","tags":["stable"],"createdAt":"`+ts+`"}}`)

	rev, err := api.client(t).GetRevision(context.Background(), "demo", "/flows/wf.yaml", "stable")
	require.NoError(t, err)
	assert.Equal(t, "r7", rev.ID)
	assert.Equal(t, "/api/v2/namespaces/demo/revisions/flows/wf.yaml?ref=stable",
		api.last(t, "GET /api/v2/namespaces/{ns}/revisions/{path...}").URL)
}
