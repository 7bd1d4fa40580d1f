// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package protocol defines the wire types shared between the bridge daemon,
// the pages it serves, and the confirmation UI (apconfirm).
// This is the single source of truth for both wire protocols.
package protocol

import "encoding/json"

// Page channel methods
const (
	MethodIsConnected            = "isConnected"
	MethodConnect                = "connect"
	MethodDisconnect             = "disconnect"
	MethodSignMessage            = "signMessage"
	MethodSignTransaction        = "signTransaction"
	MethodSignAllTransactions    = "signAllTransactions"
	MethodSignAndSendTransaction = "signAndSendTransaction"
)

// Origin describes the page that issued a request, as reported by the in-app browser.
type Origin struct {
	Domain      string `json:"domain"`
	WebsiteName string `json:"websiteName"`
	LogoURL     string `json:"logoUrl"`
	IsVerified  bool   `json:"isVerified"`
}

// BridgeRequest is one request from a page.
// Signature is the hex HMAC of the canonical request with the signature member removed.
type BridgeRequest struct {
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Origin    Origin          `json:"origin"`
}

// BridgeError is the page-visible error body.
type BridgeError struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// BridgeResponse is the terminal response to one BridgeRequest.
type BridgeResponse struct {
	ID      string       `json:"id,omitempty"`
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *BridgeError `json:"error,omitempty"`
}

// Method params. Each method accepts exactly one of these shapes.
type (
	// EmptyParams is accepted by isConnected, connect and disconnect.
	EmptyParams struct{}

	// SignMessageParams carries the message to sign.
	// Encoding is "utf8" (default) or "hex".
	SignMessageParams struct {
		Message  string `json:"message"`
		Encoding string `json:"encoding,omitempty"`
	}

	// SignTransactionParams carries one base64 msgpack-encoded unsigned transaction.
	SignTransactionParams struct {
		Transaction string `json:"transaction"`
	}

	// SignAllTransactionsParams carries a group of base64 msgpack-encoded unsigned transactions.
	SignAllTransactionsParams struct {
		Transactions []string `json:"transactions"`
	}

	// SignAndSendParams carries one transaction to sign and broadcast.
	SignAndSendParams struct {
		Transaction         string `json:"transaction"`
		WaitForConfirmation bool   `json:"waitForConfirmation,omitempty"`
	}
)

// Method results.
type (
	IsConnectedResult struct {
		Connected bool `json:"connected"`
	}

	ConnectResult struct {
		PublicKey string `json:"publicKey"`
	}

	SignMessageResult struct {
		Signature string `json:"signature"`
	}

	SignTransactionResult struct {
		SignedTransaction string `json:"signedTransaction"`
	}

	SignAllTransactionsResult struct {
		SignedTransactions []string `json:"signedTransactions"`
	}

	SignAndSendResult struct {
		Signature      string `json:"signature"`
		ConfirmedRound uint64 `json:"confirmedRound,omitempty"`
	}
)
