// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
	"github.com/direktiv/direktiv-sub000/pkg/sse"
)

// subscription is the part of a follow session the commands need.
type subscription interface {
	Close()
	Wait(ctx context.Context) error
}

// followUntilDone keeps sub running until ctx ends, then closes it and
// waits for the last callback.
func followUntilDone(ctx context.Context, sub subscription) error {
	<-ctx.Done()
	sub.Close()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.Wait(waitCtx)
}

// followOptions logs stream failures instead of printing them between
// results.
func (a *app) followOptions(stream string) []direktiv.FollowOption {
	return []direktiv.FollowOption{
		direktiv.WithFollowErrors(func(err error) {
			a.logger.Warn("stream error", "stream", stream, "error", err)
		}),
		direktiv.WithInvalidMessages(func(ev sse.Event, err error) {
			a.logger.Warn("dropped invalid message", "stream", stream, "event_id", ev.ID, "error", err)
		}),
	}
}

// printLines prints items one JSON document per line, or through row.
func printLines[T any](a *app, items []T, row func(T) string) {
	for _, it := range items {
		if a.out.format == "json" {
			data, err := json.Marshal(it)
			if err != nil {
				a.logger.Warn("encode", "error", err)
				continue
			}
			a.out.Line("%s", data)
			continue
		}
		a.out.Line("%s", row(it))
	}
}

// tail returns the last n items.
func tail[T any](items []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	return items[len(items)-n:]
}
