// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by signing operations before a successful connect
	ErrNotConnected = errors.New("wallet not connected")

	// ErrSessionLost wraps transport failures that ended the backend session
	ErrSessionLost = errors.New("wallet session lost")

	// ErrUserDeclined is returned by a backend when the user refused in the wallet itself
	ErrUserDeclined = errors.New("user declined in wallet")
)

// ErrorKind classifies adapter failures for observers
type ErrorKind string

const (
	KindUserRejected     ErrorKind = "user_rejected"
	KindNotConnected     ErrorKind = "not_connected"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindSignFailed       ErrorKind = "sign_failed"
	KindSendFailed       ErrorKind = "send_failed"
)

// Error is an adapter failure. Err carries the backend error message.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a wallet error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// classify picks the kind for a backend failure during op.
func classify(op string, fallback ErrorKind, err error) *Error {
	kind := fallback
	switch {
	case errors.Is(err, ErrUserDeclined):
		kind = KindUserRejected
	case errors.Is(err, ErrNotConnected):
		kind = KindNotConnected
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
