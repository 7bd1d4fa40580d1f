// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package protocol

// Confirmation IPC message type constants
const (
	// Authentication message types (sent before any other messages)
	MsgTypeAuthRequired = "auth_required"
	MsgTypeAuth         = "auth"
	MsgTypeAuthResult   = "auth_result"

	// Ticket message types
	MsgTypeConfirmRequest  = "confirm_request"  // Bridge → UI: show a modal
	MsgTypeConfirmResponse = "confirm_response" // UI → Bridge: the user's decision
	MsgTypeConfirmDismiss  = "confirm_dismiss"  // Bridge → UI: close a modal, ticket abandoned

	MsgTypeStatus = "status"
	MsgTypeError  = "error"

	// Client displacement message types (single UI client)
	MsgTypeClientExists    = "client_exists"
	MsgTypeDisplaceConfirm = "displace_confirm"
	MsgTypeDisplaced       = "displaced"
)

// Modal closed events. Each ticket kind has exactly one; a response must carry
// the event matching its ticket.
const (
	EventConnectModalClosed     = "wallet-connection-modal-closed"
	EventSignMessageModalClosed = "sign-message-modal-closed"
	EventSignTxnModalClosed     = "sign-transaction-modal-closed"
)

// Modal actions
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Transaction action types shown by the sign-transaction modal
const (
	ActionTypeSign        = "sign"
	ActionTypeSignAndSend = "signAndSend"
)

// BaseMessage is the base structure for all IPC messages
type BaseMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // Ticket ID for correlation
}

// AuthRequiredMessage is sent by the bridge when a UI connects
type AuthRequiredMessage struct {
	BaseMessage
}

// AuthMessage is sent by the UI to authenticate the IPC session
type AuthMessage struct {
	BaseMessage
	Token string `json:"token"`
}

// AuthResultMessage is sent back after an authentication attempt
type AuthResultMessage struct {
	BaseMessage
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BalanceChangeView is the display form of one balance change
type BalanceChangeView struct {
	Mint             uint64 `json:"mint"`
	Owner            string `json:"owner"`
	AmountRaw        string `json:"amountRaw"`
	AmountNormalized string `json:"amountNormalized"`
	Name             string `json:"name"`
	LogoURL          string `json:"logoUrl,omitempty"`
}

// ConfirmRequestMessage asks the UI to display a modal for one ticket
type ConfirmRequestMessage struct {
	BaseMessage
	Kind      string `json:"kind"`
	Event     string `json:"event"` // Closed event the UI must answer with
	Origin    Origin `json:"origin"`
	Timestamp int64  `json:"timestamp"`

	// Connect / sign-message payload
	Message string `json:"message,omitempty"` // Raw message text
	Pretty  bool   `json:"pretty,omitempty"`  // Message was valid JSON and is pretty-printed

	// Sign-transaction payload
	ActionType     string              `json:"action_type,omitempty"`
	TxnCount       int                 `json:"txn_count,omitempty"`
	BalanceChanges []BalanceChangeView `json:"balance_changes,omitempty"`
	Description    string              `json:"description,omitempty"`
}

// ConfirmResponseMessage is emitted exactly once per ticket by the UI
type ConfirmResponseMessage struct {
	BaseMessage
	Event  string `json:"event"`
	Action string `json:"action"`
}

// ConfirmDismissMessage tells the UI to close a modal whose ticket was abandoned
type ConfirmDismissMessage struct {
	BaseMessage
	Reason string `json:"reason"`
}

// StatusMessage reports bridge wallet state to the UI
type StatusMessage struct {
	BaseMessage
	Wallet    string `json:"wallet,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Connected bool   `json:"connected"`
}

// ErrorMessage is sent for error conditions
type ErrorMessage struct {
	BaseMessage
	Error string `json:"error"`
}

// ClientExistsMessage is sent to a new client when another UI is connected
type ClientExistsMessage struct {
	BaseMessage
}

// DisplaceConfirmMessage is sent by a new client to take over the session
type DisplaceConfirmMessage struct {
	BaseMessage
}

// DisplacedMessage is sent to the old client before it is disconnected
type DisplacedMessage struct {
	BaseMessage
	Reason string `json:"reason"`
}
