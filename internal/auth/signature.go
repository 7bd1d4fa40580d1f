// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSecret is returned when the shared secret is empty or not hex.
var ErrInvalidSecret = errors.New("invalid bridge secret")

// Sign computes the request signature: lowercase hex HMAC-SHA256, keyed with
// the hex-decoded secret, over the canonical request.
// Keys shorter than the SHA-256 block are zero-padded and longer keys are
// pre-hashed, per the HMAC construction.
func Sign(secretHex string, raw []byte) (string, error) {
	key, err := decodeSecret(secretHex)
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest(key, canonical)), nil
}

// Verify reports whether signature authenticates raw under secretHex.
// It fails closed: a malformed secret, a non-object request or a missing or
// non-hex signature all return false.
func Verify(secretHex string, raw []byte, signature string) bool {
	if signature == "" {
		return false
	}
	key, err := decodeSecret(secretHex)
	if err != nil {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, digest(key, canonical))
}

// SignRequest signs raw and returns it with the signature attached.
func SignRequest(secretHex string, raw []byte) ([]byte, error) {
	sig, err := Sign(secretHex, raw)
	if err != nil {
		return nil, err
	}
	return Attach(raw, sig)
}

func digest(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func decodeSecret(secretHex string) ([]byte, error) {
	secretHex = strings.TrimSpace(secretHex)
	if secretHex == "" {
		return nil, ErrInvalidSecret
	}
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}
