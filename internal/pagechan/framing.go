// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package pagechan implements browser native-messaging framing: each message
// is a 4-byte little-endian length followed by that many bytes of JSON.
package pagechan

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize is the largest frame accepted in either direction (1 MB)
const MaxMessageSize = 1024 * 1024

var (
	// ErrEmptyMessage is returned for a zero-length frame
	ErrEmptyMessage = errors.New("invalid message length: 0")

	// ErrMessageTooLarge is returned for frames above MaxMessageSize
	ErrMessageTooLarge = errors.New("message too large")
)

// Read reads one frame. It returns io.EOF when r ends cleanly between frames.
func Read(r io.Reader) (json.RawMessage, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, ErrEmptyMessage
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	msg := make([]byte, length)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("failed to read message payload: %w", err)
	}
	return json.RawMessage(msg), nil
}

// Write JSON-encodes msg and writes it as one frame.
func Write(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	// One write per frame so concurrent writers on an unbuffered pipe never interleave.
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Writer serialises frames from concurrent goroutines onto one stream
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes msg as one frame.
func (fw *Writer) Write(msg any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return Write(fw.w, msg)
}
