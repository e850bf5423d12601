// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineSize bounds a single line. Log batches arrive as one data
// line, so the bufio default of 64KiB is too small.
const DefaultMaxLineSize = 4 << 20

// ErrLineTooLong is returned by Read when a line exceeds the maximum line
// size. Reconnecting cannot help, the server would send the same line.
var ErrLineTooLong = errors.New("sse: line exceeds maximum size")

// Callback receives each dispatched event. Returning an error stops Read.
type Callback func(Event) error

// =============================================================================
// Reader
// =============================================================================

// Reader reads an SSE body and invokes a callback per event.
//
// A Reader may be reused for several streams sequentially. The parser
// state it returns via LastEventID belongs to the most recent Read.
type Reader struct {
	maxLineSize int
	parser      *Parser
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLineSize = n
		}
	}
}

// WithLastEventID seeds the parser so events without an id field report
// lastID. Use it when resuming a stream.
func WithLastEventID(lastID string) ReaderOption {
	return func(r *Reader) {
		r.parser = NewParserWithID(lastID)
	}
}

// NewReader creates a Reader.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(r)
	}
	if r.parser == nil {
		r.parser = NewParser()
	}
	return r
}

// Read processes body until EOF, ctx cancellation or a callback error.
//
// Returns:
//   - nil when the body ended cleanly (a trailing partial event is
//     discarded, as the framing rules require)
//   - ctx.Err() when ctx was cancelled between lines
//   - ErrLineTooLong, wrapped, when a line exceeds the maximum size
//   - the callback's error unchanged
//   - a wrapped read error otherwise
//
// The caller owns body and must close it; closing it from another
// goroutine is how a blocked Read is interrupted.
func (r *Reader) Read(ctx context.Context, body io.Reader, cb Callback) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, min(64*1024, r.maxLineSize)), r.maxLineSize)
	scanner.Split(scanLines)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, ok := r.parser.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := cb(ev); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("read event stream: %w (limit %d bytes)", ErrLineTooLong, r.maxLineSize)
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	r.parser.Reset()
	return nil
}

// scanLines splits on CRLF, LF or a lone CR. A CR at the end of the
// buffer waits for the next byte so CRLF is never read as two lines.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		switch {
		case data[i] == '\n':
			return i + 1, data[:i], nil
		case i+1 < len(data) && data[i+1] == '\n':
			return i + 2, data[:i], nil
		case i+1 < len(data) || atEOF:
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LastEventID returns the most recent id field seen by Read.
func (r *Reader) LastEventID() string {
	return r.parser.LastEventID()
}
