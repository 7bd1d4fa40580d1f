// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package auth authenticates requests crossing the page/host boundary.
//
// A page signs each request with a secret the host injected into it. The
// signature covers the canonical JSON of the request minus its signature
// member, so any change to method, params or origin after signing is detected.
package auth

import (
	"context"
	"errors"
)

// Common authentication errors
var (
	// ErrNoCredentials indicates the request carried no signature
	ErrNoCredentials = errors.New("no request signature provided")

	// ErrInvalidCredentials indicates the signature does not authenticate the request
	ErrInvalidCredentials = errors.New("invalid request signature")
)

// RequestAuthenticator validates raw page requests
type RequestAuthenticator interface {
	// Authenticate checks the request signature.
	// Returns ErrNoCredentials if no signature is present.
	// Returns ErrInvalidCredentials if the signature is invalid.
	Authenticate(ctx context.Context, raw []byte) error

	// Method returns the authentication method name (for logging/audit)
	Method() string
}

// HMACAuthenticator validates requests signed with the shared bridge secret
type HMACAuthenticator struct {
	secretHex string
}

// NewHMACAuthenticator creates a new authenticator for the given hex secret.
// A malformed secret is not rejected here; every request then fails closed.
func NewHMACAuthenticator(secretHex string) *HMACAuthenticator {
	return &HMACAuthenticator{secretHex: secretHex}
}

// Authenticate verifies the request's signature member.
func (h *HMACAuthenticator) Authenticate(ctx context.Context, raw []byte) error {
	sig := extractSignature(raw)
	if sig == "" {
		return ErrNoCredentials
	}
	if !Verify(h.secretHex, raw, sig) {
		return ErrInvalidCredentials
	}
	return nil
}

// Method returns the authentication method name
func (h *HMACAuthenticator) Method() string {
	return "hmac-sha256"
}

// Compile-time interface check
var _ RequestAuthenticator = (*HMACAuthenticator)(nil)
