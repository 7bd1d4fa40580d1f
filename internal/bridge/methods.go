// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/aplane-algo/apbridge/internal/balance"
	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

// Limits on page-supplied payloads
const (
	maxGroupSize    = 16 // Algorand atomic group limit
	maxMessageBytes = 64 * 1024
)

// Message encodings accepted by signMessage
const (
	EncodingUTF8 = "utf8"
	EncodingHex  = "hex"
)

// call is a request whose params passed the method schema
type call struct {
	method string

	// signMessage
	message []byte
	display string
	pretty  bool

	// transaction methods
	txns []types.Transaction
	wait bool
}

// methodSpec describes one page method
type methodSpec struct {
	// kind is the modal used when the method is not auto-approved
	kind confirm.Kind
	// needsConnection methods fail NOT_CONNECTED before any modal is shown
	needsConnection bool
	parse           func(params json.RawMessage) (*call, error)
}

var methods = util.NewRegistry[methodSpec]()

func init() {
	methods.MustRegister(protocol.MethodIsConnected, methodSpec{kind: confirm.KindConnect, parse: parseEmpty})
	methods.MustRegister(protocol.MethodConnect, methodSpec{kind: confirm.KindConnect, parse: parseEmpty})
	methods.MustRegister(protocol.MethodDisconnect, methodSpec{kind: confirm.KindConnect, parse: parseEmpty})
	methods.MustRegister(protocol.MethodSignMessage, methodSpec{kind: confirm.KindSignMessage, needsConnection: true, parse: parseSignMessage})
	methods.MustRegister(protocol.MethodSignTransaction, methodSpec{kind: confirm.KindSignTransaction, needsConnection: true, parse: parseSignTransaction})
	methods.MustRegister(protocol.MethodSignAllTransactions, methodSpec{kind: confirm.KindSignTransaction, needsConnection: true, parse: parseSignAll})
	methods.MustRegister(protocol.MethodSignAndSendTransaction, methodSpec{kind: confirm.KindSignAndSend, needsConnection: true, parse: parseSignAndSend})
}

// Methods returns the method names the bridge serves.
func Methods() []string {
	return methods.Names()
}

// decodeStrict decodes params into v, rejecting unknown members and trailing data.
// Absent or null params decode as an empty object.
func decodeStrict(params json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: params must be an object", ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after params", ErrInvalidParams)
	}
	return nil
}

func parseEmpty(params json.RawMessage) (*call, error) {
	var p protocol.EmptyParams
	if err := decodeStrict(params, &p); err != nil {
		return nil, err
	}
	return &call{}, nil
}

func parseSignMessage(params json.RawMessage) (*call, error) {
	var p protocol.SignMessageParams
	if err := decodeStrict(params, &p); err != nil {
		return nil, err
	}
	if p.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidParams)
	}

	var msg []byte
	switch p.Encoding {
	case "", EncodingUTF8:
		if !utf8.ValidString(p.Message) {
			return nil, fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidParams)
		}
		msg = []byte(p.Message)
	case EncodingHex:
		decoded, err := hex.DecodeString(p.Message)
		if err != nil {
			return nil, fmt.Errorf("%w: message is not hex: %v", ErrInvalidParams, err)
		}
		msg = decoded
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidParams, p.Encoding)
	}
	if len(msg) > maxMessageBytes {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidParams, maxMessageBytes)
	}

	display, pretty := displayMessage(msg)
	return &call{message: msg, display: display, pretty: pretty}, nil
}

// displayMessage renders a message for the modal: JSON objects and arrays are
// pretty-printed, other UTF-8 text is shown raw, binary is shown as hex.
func displayMessage(msg []byte) (string, bool) {
	if !utf8.Valid(msg) {
		return "0x" + hex.EncodeToString(msg), false
	}
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		var out bytes.Buffer
		if err := json.Indent(&out, trimmed, "", "  "); err == nil {
			return out.String(), true
		}
	}
	return string(msg), false
}

func parseSignTransaction(params json.RawMessage) (*call, error) {
	var p protocol.SignTransactionParams
	if err := decodeStrict(params, &p); err != nil {
		return nil, err
	}
	return decodeTransactions([]string{p.Transaction})
}

func parseSignAll(params json.RawMessage) (*call, error) {
	var p protocol.SignAllTransactionsParams
	if err := decodeStrict(params, &p); err != nil {
		return nil, err
	}
	if len(p.Transactions) > maxGroupSize {
		return nil, fmt.Errorf("%w: at most %d transactions", ErrInvalidParams, maxGroupSize)
	}
	return decodeTransactions(p.Transactions)
}

func parseSignAndSend(params json.RawMessage) (*call, error) {
	var p protocol.SignAndSendParams
	if err := decodeStrict(params, &p); err != nil {
		return nil, err
	}
	c, err := decodeTransactions([]string{p.Transaction})
	if err != nil {
		return nil, err
	}
	c.wait = p.WaitForConfirmation
	return c, nil
}

// decodeTransactions base64-decodes and msgpack-decodes unsigned transactions.
func decodeTransactions(b64 []string) (*call, error) {
	if len(b64) == 0 {
		return nil, fmt.Errorf("%w: transaction is required", ErrInvalidParams)
	}
	encoded := make([][]byte, len(b64))
	for i, s := range b64 {
		if s == "" {
			return nil, fmt.Errorf("%w: transaction %d is empty", ErrInvalidParams, i)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d is not base64: %v", ErrInvalidParams, i, err)
		}
		encoded[i] = raw
	}
	txns, err := balance.DecodeTransactions(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	for i := range txns {
		if txns[i].Sender.IsZero() {
			return nil, fmt.Errorf("%w: transaction %d has no sender", ErrInvalidParams, i)
		}
	}
	return &call{txns: txns}, nil
}
