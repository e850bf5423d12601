// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ts = "2024-05-01T10:00:00Z"

// lockedBuffer is a bytes.Buffer safe for the stream goroutine and the
// test to share.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// server is a fake Direktiv API recording what the CLI sent.
type server struct {
	*httptest.Server
	mux *http.ServeMux

	mu      sync.Mutex
	hits    map[string]int
	headers map[string]http.Header
	bodies  map[string][]byte
	queries map[string]string
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{
		mux:     http.NewServeMux(),
		hits:    map[string]int{},
		headers: map[string]http.Header{},
		bodies:  map[string][]byte{},
		queries: map[string]string{},
	}
	s.Server = httptest.NewServer(s.mux)
	t.Cleanup(s.Close)
	return s
}

func (s *server) handle(pattern string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.hits[pattern]++
		s.headers[pattern] = r.Header.Clone()
		s.bodies[pattern] = body
		s.queries[pattern] = r.URL.RawQuery
		s.mu.Unlock()
		fn(w, r)
	})
}

func (s *server) json(pattern string, status int, body string) {
	s.handle(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (s *server) count(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[pattern]
}

func (s *server) header(pattern string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[pattern]
}

func (s *server) body(pattern string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[pattern]
}

func (s *server) query(pattern string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[pattern]
}

type result struct {
	code           int
	stdout, stderr string
}

// runCLI runs one command line against srv with a fresh home directory.
func runCLI(t *testing.T, srv *server, stdin string, args ...string) result {
	t.Helper()
	return runCLIContext(context.Background(), t, srv, stdin, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, srv *server, stdin string, args ...string) result {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr lockedBuffer
	all := append([]string{"--api-url", srv.URL, "--namespace", "demo", "--token", "secret"}, args...)
	code := run(ctx, all, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// =============================================================================
// Tests
// =============================================================================

func TestNamespacesList(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces", http.StatusOK,
		`{"data":[{"name":"demo","createdAt":"`+ts+`","mirror":{"url":"https://git.example.com/flows.git","gitRef":"main"}},{"name":"other","createdAt":"`+ts+`"}]}`)

	res := runCLI(t, srv, "", "namespaces", "list")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "NAME")
	assert.Contains(t, res.stdout, "https://git.example.com/flows.git@main")
	assert.Contains(t, res.stdout, "other")
	assert.Equal(t, "secret", srv.header("GET /api/v2/namespaces").Get("Direktiv-Token"))
	assert.True(t, strings.HasPrefix(srv.header("GET /api/v2/namespaces").Get("User-Agent"), "direktivctl/"))
}

func TestNamespacesList_JSON(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces", http.StatusOK,
		`{"data":[{"name":"demo","createdAt":"`+ts+`"}]}`)

	res := runCLI(t, srv, "", "-o", "json", "namespaces", "list")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "demo", got[0]["name"])
}

func TestInvalidOutputFormatIsUsageError(t *testing.T) {
	srv := newServer(t)
	res := runCLI(t, srv, "", "-o", "yaml", "namespaces", "list")
	assert.Equal(t, ExitUsage, res.code)
	assert.Contains(t, res.stderr, "invalid config")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	srv := newServer(t)
	res := runCLI(t, srv, "", "namespaces", "list", "--bogus")
	assert.Equal(t, ExitUsage, res.code)
	assert.Contains(t, res.stderr, "bogus")
}

func TestSecretsRm_RequiresConfirmation(t *testing.T) {
	srv := newServer(t)
	srv.json("DELETE /api/v2/namespaces/{ns}/secrets/{name}", http.StatusNoContent, "")

	res := runCLI(t, srv, "", "secrets", "rm", "db")
	assert.Equal(t, ExitUsage, res.code)
	assert.Contains(t, res.stderr, "pass --yes")
	assert.Zero(t, srv.count("DELETE /api/v2/namespaces/{ns}/secrets/{name}"))

	res = runCLI(t, srv, "", "--yes", "secrets", "rm", "db")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "secret db deleted")
	assert.Equal(t, 1, srv.count("DELETE /api/v2/namespaces/{ns}/secrets/{name}"))
}

func TestSecretsSet_FromStdin(t *testing.T) {
	srv := newServer(t)
	srv.json("POST /api/v2/namespaces/{ns}/secrets", http.StatusOK,
		`{"data":{"name":"db","initialized":true}}`)

	res := runCLI(t, srv, "hunter2", "secrets", "set", "db")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"name":"db","data":"aHVudGVyMg=="}`, string(srv.body("POST /api/v2/namespaces/{ns}/secrets")))
}

func TestFilesCat(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/demo/files/flows/hello.yaml", http.StatusOK,
		`{"data":{"path":"/flows/hello.yaml","type":"workflow","data":"c3RhdGVzOiBbXQo="}}`)

	res := runCLI(t, srv, "", "files", "cat", "/flows/hello.yaml")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Equal(t, "states: []\n", res.stdout)
}

func TestNotFoundExitCode(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/demo/files/missing", http.StatusNotFound,
		`{"error":{"code":"resource_not_found","message":"file not found"}}`)

	res := runCLI(t, srv, "", "files", "cat", "missing")
	assert.Equal(t, ExitNotFound, res.code)
	assert.Contains(t, res.stderr, "files cat")
	assert.Contains(t, res.stderr, "file not found")
}

func TestInvalidResponseExitCode(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/{ns}/secrets", http.StatusOK, `{"data":[{"initialized":true}]}`)

	res := runCLI(t, srv, "", "secrets", "list")
	assert.Equal(t, ExitInvalidResponse, res.code)
	assert.Contains(t, res.stderr, "Hint:")
}

func TestFilesPush_CreatesMissingFile(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/demo/files/flows/hello.yaml", http.StatusNotFound, `{}`)
	srv.json("POST /api/v2/namespaces/demo/files/flows", http.StatusOK,
		`{"data":{"path":"/flows/hello.yaml","type":"workflow"}}`)

	local := t.TempDir() + "/hello.yaml"
	require.NoError(t, os.WriteFile(local, []byte("states: []\n"), 0o600))

	res := runCLI(t, srv, "", "files", "push", local, "/flows/hello.yaml")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "created /flows/hello.yaml")
	assert.JSONEq(t,
		`{"name":"hello.yaml","type":"workflow","mimeType":"application/yaml","data":"c3RhdGVzOiBbXQo="}`,
		string(srv.body("POST /api/v2/namespaces/demo/files/flows")))
}

func TestVariablesSet_UpdatesExisting(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/{ns}/variables", http.StatusOK,
		`{"data":[{"id":"v1","type":"namespace-variable","name":"greeting","size":2}]}`)
	srv.json("PATCH /api/v2/namespaces/{ns}/variables/{id}", http.StatusOK,
		`{"data":{"id":"v1","type":"namespace-variable","name":"greeting","size":5,"data":"aGVsbG8="}}`)

	res := runCLI(t, srv, "", "variables", "set", "greeting", "hello")
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"mimeType":"text/plain","data":"aGVsbG8="}`,
		string(srv.body("PATCH /api/v2/namespaces/{ns}/variables/{id}")))
}

func TestVariablesGet_UnknownName(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/{ns}/variables", http.StatusOK, `{"data":[]}`)

	res := runCLI(t, srv, "", "variables", "get", "nope")
	assert.Equal(t, ExitNotFound, res.code)
	assert.Contains(t, res.stderr, `variable "nope"`)
}

func TestInstancesRun_Wait(t *testing.T) {
	srv := newServer(t)
	srv.json("POST /api/v2/namespaces/{ns}/instances", http.StatusOK,
		`{"data":{"id":"i1","createdAt":"`+ts+`","status":"pending","path":"/wf.yaml"}}`)
	srv.json("GET /api/v2/namespaces/{ns}/instances/{id}", http.StatusOK,
		`{"data":{"id":"i1","createdAt":"`+ts+`","status":"complete","path":"/wf.yaml"}}`)

	res := runCLI(t, srv, "", "-o", "json", "instances", "run", "wf.yaml", "--wait")
	require.Equal(t, ExitOK, res.code, res.stderr)

	var inst map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &inst))
	assert.Equal(t, "complete", inst["status"])
	assert.Equal(t, 1, srv.count("GET /api/v2/namespaces/{ns}/instances/{id}"))
}

func TestLogs_RejectsSeveralFilters(t *testing.T) {
	srv := newServer(t)
	res := runCLI(t, srv, "", "logs", "--instance", "i1", "--route", "/r")
	assert.Equal(t, ExitUsage, res.code)
}

func TestLogs_Follow(t *testing.T) {
	srv := newServer(t)
	srv.json("GET /api/v2/namespaces/{ns}/logs", http.StatusOK,
		`{"data":[{"id":1,"time":"2024-05-01T10:00:00Z","msg":"first","level":"INFO"}]}`)
	srv.handle("GET /api/v2/namespaces/{ns}/logs/subscribe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `data: [{"id":1,"time":"2024-05-01T10:00:00Z","msg":"first","level":"INFO"},`+
			`{"id":2,"time":"2024-05-01T10:00:05Z","msg":"second","level":"ERROR"}]`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr lockedBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"--api-url", srv.URL, "-n", "demo", "logs", "--instance", "i1", "--follow"},
			strings.NewReader(""), &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "second")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitOK, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop")
	}
	assert.Equal(t, 1, strings.Count(stdout.String(), "first"))
	assert.Equal(t, "instance=i1", srv.query("GET /api/v2/namespaces/{ns}/logs/subscribe"))
	assert.Equal(t, "text/event-stream", srv.header("GET /api/v2/namespaces/{ns}/logs/subscribe").Get("Accept"))
}
