// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package merge combines cached, time-ordered records with batches that
// arrive from event streams.
//
// Streams deliver a full snapshot on (re)connect and an incremental tail
// afterwards. Comparing timestamps against the last cached record absorbs
// both modes without a server cursor.
//
// Records are assumed to be delivered in non-decreasing timestamp order.
// Out-of-order delivery and clock skew between producers are not handled:
// a record older than the cached tail is dropped.
package merge

import "time"

// TimeFunc extracts the ordering timestamp of a record.
type TimeFunc[T any] func(T) time.Time

// AppendNewer merges incoming into cached.
//
// Without a prior cache (hasCache false) incoming is adopted as is.
// Otherwise only records whose timestamp is strictly after the last
// cached record are appended, keeping their relative order. An existing
// but empty cache has no last timestamp, so all of incoming is appended.
//
// cached is never modified; the result is always a fresh slice.
func AppendNewer[T any](cached []T, hasCache bool, incoming []T, ts TimeFunc[T]) []T {
	if !hasCache {
		return append([]T(nil), incoming...)
	}

	out := make([]T, len(cached), len(cached)+len(incoming))
	copy(out, cached)
	if len(cached) == 0 {
		return append(out, incoming...)
	}

	last := ts(cached[len(cached)-1])
	for _, rec := range incoming {
		if ts(rec).After(last) {
			out = append(out, rec)
		}
	}
	return out
}

// Newest returns the timestamp of the last record, or the zero time for
// an empty slice.
func Newest[T any](records []T, ts TimeFunc[T]) time.Time {
	if len(records) == 0 {
		return time.Time{}
	}
	return ts(records[len(records)-1])
}
