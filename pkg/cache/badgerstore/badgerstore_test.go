// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStore_SaveLoad verifies snapshots round-trip through the database.
func TestStore_SaveLoad(t *testing.T) {
	s := openInMemory(t)

	_, ok, err := s.Load("missing/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("logs/demo/", []byte(`{"v":1}`)))
	data, ok, err := s.Load("logs/demo/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"v":1}`, string(data))
}

// TestStore_DeletePrefix verifies only covered keys are removed.
func TestStore_DeletePrefix(t *testing.T) {
	s := openInMemory(t)
	require.NoError(t, s.Save("logs/demo/i1/", []byte("1")))
	require.NoError(t, s.Save("logs/demo/i2/", []byte("2")))
	require.NoError(t, s.Save("logs/demo2/", []byte("3")))

	require.NoError(t, s.DeletePrefix("logs/demo/"))

	keys, err := s.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/demo2/"}, keys)

	// Nothing to delete is not an error.
	assert.NoError(t, s.DeletePrefix("files/"))
}

// TestStore_Persistent verifies snapshots survive a reopen.
func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save("k/", []byte("v")))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	data, ok, err := s2.Load("k/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(data))
}

// TestOpenRequiresPath verifies that persistent mode requires a path.
func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// TestStore_BacksQueryCache wires the store into a cache the way the CLI
// does for follow sessions.
func TestStore_BacksQueryCache(t *testing.T) {
	s := openInMemory(t)
	key := cache.Key{"logs", "demo"}

	cache.Update(cache.New(cache.WithStore(s)), key, func(_ []string, _ bool) []string {
		return []string{"first"}
	})

	resumed := cache.New(cache.WithStore(s))
	got := cache.Update(resumed, key, func(old []string, ok bool) []string {
		require.True(t, ok)
		return append(append([]string(nil), old...), "second")
	})
	assert.Equal(t, []string{"first", "second"}, got)

	resumed.Invalidate(cache.Key{"logs"})
	_, ok, err := s.Load(key.String())
	require.NoError(t, err)
	assert.False(t, ok)
}
