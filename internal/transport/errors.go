// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package transport

import "errors"

// Sentinel errors for IPC connection failures.
var (
	// ErrAlreadyConnected is returned when another confirmation client is connected
	// and the caller did not ask to displace it.
	ErrAlreadyConnected = errors.New("another confirmation client is already connected")

	// ErrUnauthorized is returned when the bridge rejects the IPC token.
	ErrUnauthorized = errors.New("authentication failed - invalid IPC token")

	// ErrDisplaced is returned by Next when the bridge handed the session to another client.
	ErrDisplaced = errors.New("displaced by another confirmation client")
)
