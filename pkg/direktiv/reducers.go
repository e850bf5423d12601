// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/merge"
)

func logTime(e LogEntry) time.Time          { return e.Time }
func activityTime(a SyncActivity) time.Time { return a.CreatedAt }
func eventTime(r EventRecord) time.Time     { return r.ReceivedAt }

// UpdateLogsCache merges a streamed batch of log lines into the cached
// page. ok reports whether a page was cached. The cursor of the cached
// page is kept.
func UpdateLogsCache(old LogsPage, ok bool, batch []LogEntry) LogsPage {
	if !ok {
		return LogsPage{Data: merge.AppendNewer(nil, false, batch, logTime)}
	}
	return LogsPage{
		Meta: old.Meta,
		Data: merge.AppendNewer(old.Data, true, batch, logTime),
	}
}

// UpdateMirrorActivityCache merges streamed sync runs, ordered by
// creation time, into the cached activity list.
//
// Status changes of runs already cached are not applied; refetch the
// list to see them.
func UpdateMirrorActivityCache(old []SyncActivity, ok bool, batch []SyncActivity) []SyncActivity {
	return merge.AppendNewer(old, ok, batch, activityTime)
}

// UpdateEventsCache merges streamed events, ordered by receive time, into
// the cached history.
func UpdateEventsCache(old []EventRecord, ok bool, batch []EventRecord) []EventRecord {
	return merge.AppendNewer(old, ok, batch, eventTime)
}
