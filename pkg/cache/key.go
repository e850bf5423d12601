// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"net/url"
	"strings"
)

// Key identifies a cached query as ordered segments, most general first:
//
//	cache.Key{"logs", namespace, instanceID}
//
// Invalidating Key{"logs", namespace} drops every log query of the
// namespace.
type Key []string

// String encodes the key so that a prefix key encodes to a string prefix
// of every key it covers. Each segment is path-escaped and terminated by
// "/", which keeps Key{"a"} from matching Key{"ab"}.
func (k Key) String() string {
	var b strings.Builder
	for _, seg := range k {
		b.WriteString(url.PathEscape(seg))
		b.WriteByte('/')
	}
	return b.String()
}

// HasPrefix reports whether prefix covers k. The empty key covers every
// key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ParseKey decodes the output of Key.String.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return Key{}, nil
	}
	parts := strings.Split(s, "/")
	out := make(Key, len(parts))
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		out[i] = seg
	}
	return out, nil
}
