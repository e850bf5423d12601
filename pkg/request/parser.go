// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

// ResponseParser converts a successful response body into the JSON
// document handed to the endpoint schema.
//
// Parsers are not called for empty bodies; the schema then sees null.
type ResponseParser func(body []byte, header http.Header) ([]byte, error)

// JSONParser passes the body through unchanged. It is the default.
func JSONParser(body []byte, _ http.Header) ([]byte, error) {
	return body, nil
}

// TextParser wraps a plain-text body as a JSON string, for use with
// schema.Text.
func TextParser(body []byte, _ http.Header) ([]byte, error) {
	return json.Marshal(string(body))
}

// YAMLParser decodes a YAML body (workflow sources, service definitions)
// and re-encodes it as JSON so it can be checked by an Object schema.
func YAMLParser(body []byte, _ http.Header) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	normalized, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeYAML rewrites map[any]any nodes (non-string keys) into
// map[string]any so encoding/json accepts them.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
