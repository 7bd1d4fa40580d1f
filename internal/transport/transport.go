// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package transport is the client side of the bridge's confirmation socket.
package transport

import (
	"time"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// Transport defines the interface for confirmation client connections.
type Transport interface {
	// Dial establishes the connection.
	Dial() error

	// Close closes the connection.
	Close()

	// SetReadDeadline sets a deadline for read operations.
	SetReadDeadline(d time.Duration)

	// ClearReadDeadline removes any read deadline.
	ClearReadDeadline()

	// WriteJSON sends a JSON message.
	WriteJSON(v any) error

	// ReadMessage reads a raw message.
	ReadMessage() ([]byte, error)

	// Authenticate handles displacement and the token handshake.
	Authenticate(token string, displace bool, timeout time.Duration) error

	// WaitForStatus waits for the status message sent after authentication.
	WaitForStatus(timeout time.Duration) (*protocol.StatusMessage, error)

	// Next reads and decodes the next bridge message.
	Next() (any, error)

	// Respond answers one confirmation ticket.
	Respond(ticketID, event, action string) error
}

// Compile-time interface check
var _ Transport = (*IPCClient)(nil)
