// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sse parses the Server-Sent Events wire format.
//
// Single Responsibility:
//
//	The Parser ONLY parses lines into events. The Reader handles I/O and
//	dispatch. Neither validates payloads; that is the job of the schema
//	held by the streaming client.
//
// SSE Format Reference (https://html.spec.whatwg.org/multipage/server-sent-events.html):
//
//	id: 42\n
//	event: logs\n
//	data: {"data":[...]}\n
//	\n
//
// Fields accumulate until a blank line dispatches the event. Multiple
// data lines are joined with "\n". Lines starting with ":" are comments
// (the API uses them as keep-alives).
package sse

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Event
// =============================================================================

// Event is one dispatched server-sent event.
type Event struct {
	// ID is the last event ID seen on the stream at dispatch time. It
	// persists across events until the server sends a new id field.
	ID string

	// Type is the event field, or "message" when absent.
	Type string

	// Data is the joined data lines without the trailing newline.
	Data []byte

	// Retry is the reconnection delay requested by the server with this
	// event, or zero.
	Retry time.Duration
}

// DefaultEventType is used when an event carries no event field.
const DefaultEventType = "message"

// =============================================================================
// Parser
// =============================================================================

// Parser accumulates lines into events. It is stateful and must not be
// shared between streams or goroutines.
//
// Example:
//
//	p := sse.NewParser()
//	for _, line := range lines {
//	    if ev, ok := p.ParseLine(line); ok {
//	        handle(ev)
//	    }
//	}
type Parser struct {
	data      bytes.Buffer
	hasData   bool
	eventType string
	lastID    string
	retry     time.Duration
}

// NewParser creates a parser with no last event ID.
func NewParser() *Parser {
	return &Parser{}
}

// NewParserWithID creates a parser that resumes from lastID, so events
// without an id field still report it.
func NewParserWithID(lastID string) *Parser {
	return &Parser{lastID: lastID}
}

// ParseLine consumes one line (without its line terminator).
//
// It returns the dispatched event and true when line is the blank line
// that completes an event carrying data. Comments, field lines and blank
// lines after a data-less block return false.
func (p *Parser) ParseLine(line string) (Event, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field, value := line, ""
	if i := strings.IndexByte(line, ':'); i >= 0 {
		field = line[:i]
		value = strings.TrimPrefix(line[i+1:], " ")
	}

	switch field {
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	case "event":
		p.eventType = value
	case "id":
		// Ids containing NUL are ignored per the framing rules.
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
	return Event{}, false
}

// LastEventID returns the most recent id field, for Last-Event-ID on
// reconnect.
func (p *Parser) LastEventID() string {
	return p.lastID
}

// Reset discards a partially accumulated event. The last event ID is kept.
func (p *Parser) Reset() {
	p.data.Reset()
	p.hasData = false
	p.eventType = ""
	p.retry = 0
}

func (p *Parser) dispatch() (Event, bool) {
	if !p.hasData {
		p.Reset()
		return Event{}, false
	}
	ev := Event{
		ID:    p.lastID,
		Type:  p.eventType,
		Data:  bytes.Clone(p.data.Bytes()),
		Retry: p.retry,
	}
	if ev.Type == "" {
		ev.Type = DefaultEventType
	}
	p.Reset()
	return ev, true
}
