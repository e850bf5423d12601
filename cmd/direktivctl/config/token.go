// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/awnumar/memguard"
)

// Token keeps the API token encrypted in memory between requests. The
// zero value and nil hold no token.
type Token struct {
	enclave *memguard.Enclave
}

// SealToken moves s into an enclave. s itself cannot be wiped, so callers
// should drop their copy.
func SealToken(s string) *Token {
	if s == "" {
		return &Token{}
	}
	return &Token{enclave: memguard.NewEnclave([]byte(s))}
}

// Reveal decrypts the token. An empty string means no token.
func (t *Token) Reveal() string {
	if t == nil || t.enclave == nil {
		return ""
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// Set reports whether a token is held.
func (t *Token) Set() bool {
	return t != nil && t.enclave != nil
}

// PurgeTokens wipes every sealed token and the session key. Tokens sealed
// before the call can no longer be revealed.
func PurgeTokens() {
	memguard.Purge()
}
