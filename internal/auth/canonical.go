// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureField is the request member excluded from the signed form.
const SignatureField = "signature"

// ErrNotObject is returned when a request is not a JSON object.
var ErrNotObject = errors.New("request is not a JSON object")

// Canonicalize returns the signed form of a request: the JSON object with its
// signature member removed, object keys sorted at every level, numbers kept as
// written, no HTML escaping and no insignificant whitespace.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrNotObject)
	}

	delete(obj, SignatureField)
	return encodeCanonical(obj)
}

// encodeCanonical relies on encoding/json sorting map keys.
func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode canonical form: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// extractSignature reads the signature member without trusting the rest of the request.
func extractSignature(raw []byte) string {
	var envelope struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Signature
}

// Attach returns raw with its signature member set to signature, in canonical form.
// Used by page-side clients to produce a wire-ready request.
func Attach(raw []byte, signature string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, ErrNotObject
	}
	obj[SignatureField] = signature
	return encodeCanonical(obj)
}
