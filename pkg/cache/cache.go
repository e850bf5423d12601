// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache is the client-side query cache shared by resource queries
// and event stream subscriptions.
//
// Entries are keyed by Key, hold any value and remember when they were
// written. Fetch serves fresh entries and deduplicates concurrent loads
// of the same key. Update applies a reducer to an entry while holding the
// cache lock, so reducers fed by several streams never interleave.
//
// When a Store is configured, every write is also saved as a JSON
// snapshot and reads fall back to it on a miss. Restored snapshots count
// as stale: Fetch reloads them, Update reducers build on them.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/direktiv/direktiv-sub000/pkg/logging"
	"github.com/direktiv/direktiv-sub000/pkg/observability"
)

// Default configuration values.
const (
	// DefaultStaleTime is how long a fetched value is served without
	// reloading.
	DefaultStaleTime = 30 * time.Second

	// DefaultMaxEntries bounds the number of in-memory entries.
	DefaultMaxEntries = 512
)

// Store persists entry snapshots. Keys are Key.String() encodings.
type Store interface {
	// Load returns the snapshot for key and whether it exists.
	Load(key string) ([]byte, bool, error)

	// Save writes the snapshot for key.
	Save(key string, data []byte) error

	// DeletePrefix removes every snapshot whose key starts with prefix.
	DeletePrefix(prefix string) error
}

// Event is delivered to subscribers after a key changes.
type Event struct {
	Key     Key
	Value   any
	Removed bool
}

// Stats contains statistics about the cache.
type Stats struct {
	EntryCount    int
	Hits          int64
	Misses        int64
	Fetches       int64
	FetchErrors   int64
	Updates       int64
	Invalidations int64
	Evictions     int64
	Restores      int64
}

// =============================================================================
// Options
// =============================================================================

type options struct {
	staleTime  time.Duration
	maxEntries int
	store      Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithStaleTime sets how long fetched values stay fresh.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) { o.staleTime = d }
}

// WithMaxEntries bounds the in-memory entry count. Least recently used
// entries are evicted first. Zero or less means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithStore enables snapshot persistence.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records hits and misses.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// =============================================================================
// Cache
// =============================================================================

type entry struct {
	key       Key
	value     any
	updatedAt time.Time
	restored  bool
	lru       *list.Element
}

type listener struct {
	prefix Key
	fn     func(Event)
}

// Cache is a keyed query cache. It is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List
	listeners map[int]listener
	nextID    int
	flight    singleflight.Group
	opts      options

	hits          atomic.Int64
	misses        atomic.Int64
	fetches       atomic.Int64
	fetchErrors   atomic.Int64
	updates       atomic.Int64
	invalidations atomic.Int64
	evictions     atomic.Int64
	restores      atomic.Int64
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	o := options{
		staleTime:  DefaultStaleTime,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrDiscard(o.logger)

	return &Cache{
		entries:   make(map[string]*entry),
		lru:       list.New(),
		listeners: make(map[int]listener),
		opts:      o,
	}
}

// Get returns the value stored under key regardless of age.
//
// A value of a different type than T is reported as missing.
func Get[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	e, ok := c.lookupLocked(key)
	var (
		v     T
		match bool
	)
	if ok {
		v, match = e.value.(T)
	}
	c.mu.Unlock()

	if !match {
		if restored, ok := restore[T](c, key); ok {
			c.recordLookup(true)
			return restored, true
		}
	}
	c.recordLookup(match)
	return v, match
}

// Set stores v under key and notifies subscribers.
func (c *Cache) Set(key Key, v any) {
	c.mu.Lock()
	c.storeLocked(key, v, false)
	c.mu.Unlock()

	c.persist(key, v)
	c.notify(Event{Key: key, Value: v})
}

// Fetch returns the cached value for key while it is fresh. Otherwise it
// calls fetch, stores the result and returns it.
//
// Concurrent Fetch calls for the same key share one fetch. The shared
// call runs with the first caller's ctx. Errors are not cached.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.lookupLocked(key); ok && !e.restored && c.opts.now().Sub(e.updatedAt) < c.opts.staleTime {
		if v, ok := e.value.(T); ok {
			c.mu.Unlock()
			c.recordLookup(true)
			return v, nil
		}
	}
	c.mu.Unlock()
	c.recordLookup(false)

	res, err, _ := c.flight.Do(key.String(), func() (any, error) {
		c.fetches.Add(1)
		v, err := fetch(ctx)
		if err != nil {
			c.fetchErrors.Add(1)
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: key %v holds %T, not the requested type", key, res)
	}
	return v, nil
}

// Update replaces the value under key with reducer(old, ok) and returns
// the result. ok is false when the key has no value of type T.
//
// Reducers run with the cache locked and must not call back into c.
// Updates of the same cache are therefore serialised.
func Update[T any](c *Cache, key Key, reducer func(old T, ok bool) T) T {
	var (
		old T
		ok  bool
	)

	c.mu.Lock()
	if e, found := c.lookupLocked(key); found {
		old, ok = e.value.(T)
	}
	if !ok {
		// Loading the snapshot under the lock keeps concurrent updates from
		// both starting from an empty cache.
		old, ok = restoreLocked[T](c, key)
	}
	next := reducer(old, ok)
	c.storeLocked(key, next, false)
	c.mu.Unlock()

	c.updates.Add(1)
	c.persist(key, next)
	c.notify(Event{Key: key, Value: next})
	return next
}

// Invalidate removes every entry covered by prefix, including persisted
// snapshots, and returns how many in-memory entries were removed.
func (c *Cache) Invalidate(prefix Key) int {
	var removed []Key

	c.mu.Lock()
	for k, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			c.lru.Remove(e.lru)
			delete(c.entries, k)
			removed = append(removed, e.key)
		}
	}
	c.mu.Unlock()

	c.invalidations.Add(int64(len(removed)))
	if c.opts.store != nil {
		if err := c.opts.store.DeletePrefix(prefix.String()); err != nil {
			c.opts.logger.Warn("cache: delete snapshots failed", "prefix", prefix.String(), "error", err)
		}
	}
	for _, k := range removed {
		c.notify(Event{Key: k, Removed: true})
	}
	return len(removed)
}

// Keys returns the in-memory keys covered by prefix, in no particular
// order.
func (c *Cache) Keys(prefix Key) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Key
	for _, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			out = append(out, append(Key(nil), e.key...))
		}
	}
	return out
}

// Subscribe calls fn after every change to a key covered by prefix.
// fn runs on the goroutine that made the change. The returned function
// removes the subscription.
func (c *Cache) Subscribe(prefix Key, fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener{prefix: append(Key(nil), prefix...), fn: fn}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	return Stats{
		EntryCount:    n,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		FetchErrors:   c.fetchErrors.Load(),
		Updates:       c.updates.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Restores:      c.restores.Load(),
	}
}

// =============================================================================
// Internals
// =============================================================================

func (c *Cache) lookupLocked(key Key) (*entry, bool) {
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(e.lru)
	return e, true
}

func (c *Cache) storeLocked(key Key, v any, restored bool) {
	k := key.String()
	if e, ok := c.entries[k]; ok {
		e.value = v
		e.updatedAt = c.opts.now()
		e.restored = restored
		c.lru.MoveToFront(e.lru)
		return
	}
	e := &entry{
		key:       append(Key(nil), key...),
		value:     v,
		updatedAt: c.opts.now(),
		restored:  restored,
	}
	e.lru = c.lru.PushFront(e)
	c.entries[k] = e
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	if c.opts.maxEntries <= 0 {
		return
	}
	for len(c.entries) > c.opts.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*entry)
		c.lru.Remove(oldest)
		delete(c.entries, e.key.String())
		c.evictions.Add(1)
	}
}

type snapshot struct {
	SavedAt time.Time       `json:"savedAt"`
	Value   json.RawMessage `json:"value"`
}

func (c *Cache) persist(key Key, v any) {
	if c.opts.store == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.opts.logger.Warn("cache: encode snapshot failed", "key", key.String(), "error", err)
		return
	}
	data, err := json.Marshal(snapshot{SavedAt: c.opts.now(), Value: raw})
	if err != nil {
		return
	}
	if err := c.opts.store.Save(key.String(), data); err != nil {
		c.opts.logger.Warn("cache: save snapshot failed", "key", key.String(), "error", err)
	}
}

func restore[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(key); ok {
		if v, ok := e.value.(T); ok {
			return v, true
		}
	}
	return restoreLocked[T](c, key)
}

func restoreLocked[T any](c *Cache, key Key) (T, bool) {
	var zero T
	if c.opts.store == nil {
		return zero, false
	}
	data, ok, err := c.opts.store.Load(key.String())
	if err != nil {
		c.opts.logger.Warn("cache: load snapshot failed", "key", key.String(), "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.opts.logger.Warn("cache: decode snapshot failed", "key", key.String(), "error", err)
		return zero, false
	}
	var v T
	if err := json.Unmarshal(snap.Value, &v); err != nil {
		c.opts.logger.Warn("cache: snapshot has unexpected shape", "key", key.String(), "error", err)
		return zero, false
	}
	c.storeLocked(key, v, true)
	c.restores.Add(1)
	c.opts.logger.Debug("cache: restored snapshot", "key", key.String(), "saved_at", snap.SavedAt)
	return v, true
}

func (c *Cache) notify(ev Event) {
	c.mu.Lock()
	var fns []func(Event)
	for _, l := range c.listeners {
		if ev.Key.HasPrefix(l.prefix) {
			fns = append(fns, l.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Cache) recordLookup(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.opts.metrics.RecordCacheLookup(hit)
}
