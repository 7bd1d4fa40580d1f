// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package crypto

import (
	"bytes"
	"sync"
	"testing"
)

func TestZeroBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"single byte", []byte{0xFF}},
		{"32 byte key", bytes.Repeat([]byte{0xAB}, 32)},
		{"empty", []byte{}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ZeroBytes(tt.data)
			for i, b := range tt.data {
				if b != 0 {
					t.Errorf("byte %d = %d after ZeroBytes", i, b)
				}
			}
		})
	}
}

func TestSecureString(t *testing.T) {
	src := []byte("passphrase")
	s := NewSecureStringFromBytes(src)
	ZeroBytes(src)

	if s.IsEmpty() {
		t.Fatal("IsEmpty = true after construction")
	}
	cp := s.Bytes()
	if string(cp) != "passphrase" {
		t.Errorf("Bytes = %q", cp)
	}
	ZeroBytes(cp)
	if again := s.Bytes(); string(again) != "passphrase" {
		t.Errorf("Bytes after zeroing a copy = %q", again)
	}

	s.Destroy()
	if !s.IsEmpty() || s.Bytes() != nil {
		t.Error("data survives Destroy")
	}
	s.Destroy()

	if !NewSecureStringFromBytes(nil).IsEmpty() {
		t.Error("nil SecureString is not empty")
	}
}

func TestSecureStringConcurrentReadAndDestroy(t *testing.T) {
	s := NewSecureStringFromBytes([]byte("concurrent"))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := s.Bytes()
			if b != nil && string(b) != "concurrent" {
				t.Errorf("torn read %q", b)
			}
			ZeroBytes(b)
		}()
	}
	s.Destroy()
	wg.Wait()
}
