// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// HTTP status failures
// =============================================================================

// HTTPError is returned for every non-2xx response.
//
// The message always carries the status code, method and URL. When the
// body is a structured API error it is decoded into Upstream unchanged and
// can be reached with errors.As.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Upstream   *UpstreamError
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("error %d for %s %s", e.StatusCode, e.Method, e.URL)
	if e.Upstream != nil {
		msg += ": " + e.Upstream.Error()
	}
	return msg
}

// Unwrap exposes the upstream error body, if any.
func (e *HTTPError) Unwrap() error {
	if e.Upstream == nil {
		return nil
	}
	return e.Upstream
}

var _ error = (*HTTPError)(nil)

// NewHTTPError builds the error for a non-2xx response, decoding a
// structured error body when there is one.
func NewHTTPError(method, url string, statusCode int, body []byte) *HTTPError {
	return &HTTPError{
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
		Upstream:   parseUpstream(body),
	}
}

// =============================================================================
// Upstream error bodies
// =============================================================================

// UpstreamError is the structured error body the API sends with failures:
//
//	{"error": {"code": "resource_not_found", "message": "namespace not found"}}
type UpstreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Code == "":
		return e.Message
	case e.Message == "":
		return e.Code
	default:
		return e.Code + ": " + e.Message
	}
}

var _ error = (*UpstreamError)(nil)

// parseUpstream returns the structured error carried by body, or nil when
// the body is not one.
func parseUpstream(body []byte) *UpstreamError {
	var envelope struct {
		Error *UpstreamError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	if envelope.Error.Code == "" && envelope.Error.Message == "" {
		return nil
	}
	return envelope.Error
}

// =============================================================================
// Schema failures
// =============================================================================

// SchemaError is returned when a 2xx response body cannot be parsed or
// fails its schema. The message names the method and URL only.
type SchemaError struct {
	Method string
	URL    string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid response body for %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

var _ error = (*SchemaError)(nil)

// =============================================================================
// Helpers
// =============================================================================

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsSchemaError reports whether err is a response validation failure.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}
