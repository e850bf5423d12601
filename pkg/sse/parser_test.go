// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sse

import (
	"testing"
	"time"
)

// feed runs lines through p and collects dispatched events.
func feed(p *Parser, lines ...string) []Event {
	var out []Event
	for _, l := range lines {
		if ev, ok := p.ParseLine(l); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestParser_SingleEvent(t *testing.T) {
	events := feed(NewParser(), `data: {"data":[]}`, "")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"data":[]}` {
		t.Errorf("unexpected data %q", events[0].Data)
	}
	if events[0].Type != DefaultEventType {
		t.Errorf("expected type %q, got %q", DefaultEventType, events[0].Type)
	}
}

func TestParser_MultiLineData(t *testing.T) {
	events := feed(NewParser(), "data: a", "data:b", "data:  c", "")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	// Only one leading space is stripped.
	if got := string(events[0].Data); got != "a\nb\n c" {
		t.Errorf("unexpected data %q", got)
	}
}

func TestParser_NoDispatchWithoutBlankLine(t *testing.T) {
	p := NewParser()
	if events := feed(p, "data: x"); len(events) != 0 {
		t.Fatalf("expected no events before blank line, got %d", len(events))
	}
}

func TestParser_CommentsAndUnknownFieldsIgnored(t *testing.T) {
	events := feed(NewParser(), ": keep-alive", "foo: bar", "data: x", ": another", "")
	if len(events) != 1 || string(events[0].Data) != "x" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestParser_BlankLineWithoutDataResetsType(t *testing.T) {
	events := feed(NewParser(), "event: logs", "", "data: x", "")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != DefaultEventType {
		t.Errorf("event type leaked across blocks: %q", events[0].Type)
	}
}

func TestParser_EventTypeAndID(t *testing.T) {
	p := NewParser()
	events := feed(p,
		"id: 7", "event: activity", "data: one", "",
		"data: two", "",
	)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "7" || events[0].Type != "activity" {
		t.Errorf("unexpected first event %+v", events[0])
	}
	// id persists, type does not.
	if events[1].ID != "7" || events[1].Type != DefaultEventType {
		t.Errorf("unexpected second event %+v", events[1])
	}
	if p.LastEventID() != "7" {
		t.Errorf("expected last id 7, got %q", p.LastEventID())
	}
}

func TestParser_IDWithNULIgnored(t *testing.T) {
	p := NewParserWithID("start")
	feed(p, "id: a\x00b", "data: x", "")
	if p.LastEventID() != "start" {
		t.Errorf("expected id to stay %q, got %q", "start", p.LastEventID())
	}
}

func TestParser_EmptyIDClears(t *testing.T) {
	p := NewParserWithID("5")
	events := feed(p, "id", "data: x", "")
	if events[0].ID != "" {
		t.Errorf("expected empty id, got %q", events[0].ID)
	}
}

func TestParser_Retry(t *testing.T) {
	tests := []struct {
		line string
		want time.Duration
	}{
		{"retry: 1500", 1500 * time.Millisecond},
		{"retry: abc", 0},
		{"retry: -1", 0},
		{"retry:", 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			events := feed(NewParser(), tt.line, "data: x", "")
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Retry != tt.want {
				t.Errorf("expected retry %v, got %v", tt.want, events[0].Retry)
			}
		})
	}
}

func TestParser_DataIsCopied(t *testing.T) {
	p := NewParser()
	first := feed(p, "data: first", "")
	feed(p, "data: second", "")
	if string(first[0].Data) != "first" {
		t.Errorf("dispatched data was overwritten: %q", first[0].Data)
	}
}

func TestParser_FieldWithoutColon(t *testing.T) {
	events := feed(NewParser(), "data", "")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if len(events[0].Data) != 0 {
		t.Errorf("expected empty data, got %q", events[0].Data)
	}
}
