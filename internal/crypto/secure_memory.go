// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package crypto

import (
	"runtime"
	"sync"
)

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	clear(b)
	// Keep b reachable until the writes above are done
	runtime.KeepAlive(b)
}

// SecureString holds the embedded wallet passphrase for the daemon's lifetime.
// Readers get copies; Destroy wipes the only long-lived buffer.
type SecureString struct {
	mu   sync.RWMutex
	data []byte
}

// NewSecureStringFromBytes copies b; the caller may zero its slice afterwards.
func NewSecureStringFromBytes(b []byte) *SecureString {
	s := &SecureString{}
	if len(b) > 0 {
		s.data = append([]byte(nil), b...)
	}
	return s
}

// Bytes returns a copy of the data, or nil after Destroy. Zero it after use.
func (s *SecureString) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil
	}
	return append([]byte(nil), s.data...)
}

// IsEmpty reports whether no passphrase is held.
func (s *SecureString) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data) == 0
}

// Destroy zeroes and drops the data. Calling it twice is harmless.
func (s *SecureString) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ZeroBytes(s.data)
	s.data = nil
}
