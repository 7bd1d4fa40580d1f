// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const maxAuditLogSize = 10 * 1024 * 1024 // 10 MB

const (
	AuditAuthFailed         AuditEventType = "AUTH_FAILED"
	AuditRateLimited        AuditEventType = "RATE_LIMITED"
	AuditTicketApproved     AuditEventType = "TICKET_APPROVED"
	AuditTicketRejected     AuditEventType = "TICKET_REJECTED"
	AuditWalletConnected    AuditEventType = "WALLET_CONNECTED"
	AuditWalletDisconnect   AuditEventType = "WALLET_DISCONNECTED"
	AuditOriginTrusted      AuditEventType = "ORIGIN_TRUSTED"
	AuditOriginRevoked      AuditEventType = "ORIGIN_REVOKED"
	AuditMessageSigned      AuditEventType = "MESSAGE_SIGNED"
	AuditTxnSigned          AuditEventType = "TXN_SIGNED"
	AuditTxnSent            AuditEventType = "TXN_SENT"
	AuditOperationFailed    AuditEventType = "OPERATION_FAILED"
	AuditBridgeStart        AuditEventType = "BRIDGE_START"
	AuditBridgeStop         AuditEventType = "BRIDGE_STOP"
	AuditActiveWalletSwitch AuditEventType = "ACTIVE_WALLET_CHANGED"
)

// AuditEntry represents a single audit log entry
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     AuditEventType `json:"event"`
	Origin    string         `json:"origin,omitempty"`  // Page domain
	Method    string         `json:"method,omitempty"`  // Bridge method
	Ticket    string         `json:"ticket,omitempty"`  // Confirmation ticket ID
	Address   string         `json:"address,omitempty"` // Active wallet address
	Backend   string         `json:"backend,omitempty"` // embedded or external
	TxnCount  int            `json:"txn_count,omitempty"`
	TxID      string         `json:"txid,omitempty"`
	Remote    string         `json:"remote,omitempty"` // Page channel peer
	Reason    string         `json:"reason,omitempty"` // Rejection/failure reason
}

// AuditLogger handles append-only audit logging
type AuditLogger struct {
	file    *os.File
	mu      sync.Mutex
	path    string
	written uint64
}

// NewAuditLogger creates a new audit logger
// Log file is opened in append-only mode
func NewAuditLogger(path string) (*AuditLogger, error) {
	// Permissions: owner read/write only (0600)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	var written uint64
	if info, err := file.Stat(); err == nil {
		written = uint64(info.Size())
	}

	return &AuditLogger{file: file, path: path, written: written}, nil
}

// Log writes an audit entry. A nil logger discards entries.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to marshal audit entry: %v\n", err)
		return
	}

	line := append(data, '\n')
	if a.written+uint64(len(line)) > maxAuditLogSize {
		if err := a.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to rotate audit log: %v\n", err)
		}
	}

	if _, err := a.file.Write(line); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write audit entry: %v\n", err)
		return
	}
	a.written += uint64(len(line))

	// Audit trails are synced per entry
	_ = a.file.Sync()
}

// rotate archives the current log file and opens a fresh one.
// Must be called with a.mu held.
func (a *AuditLogger) rotate() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	if err := os.Rename(a.path, a.path+".1"); err != nil {
		// Reopen the original path so logging can continue
		a.file, _ = os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		a.written = 0
		return fmt.Errorf("rename log: %w", err)
	}
	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open new log: %w", err)
	}
	a.file = file
	a.written = 0
	return nil
}

// Close closes the audit log file
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// LogAuthFailed logs a request whose signature did not verify.
func (a *AuditLogger) LogAuthFailed(origin, remote, reason string) {
	a.Log(AuditEntry{Event: AuditAuthFailed, Origin: origin, Remote: remote, Reason: reason})
}

// LogRateLimited logs a request dropped by the per-origin limiter.
func (a *AuditLogger) LogRateLimited(origin, method string) {
	a.Log(AuditEntry{Event: AuditRateLimited, Origin: origin, Method: method})
}

// LogTicketResolved logs the terminal decision on a ticket.
func (a *AuditLogger) LogTicketResolved(ticket, kind, origin string, accepted bool, reason string) {
	event := AuditTicketRejected
	if accepted {
		event = AuditTicketApproved
	}
	a.Log(AuditEntry{Event: event, Ticket: ticket, Method: kind, Origin: origin, Reason: reason})
}

// LogWalletConnected logs a successful connect on behalf of origin.
func (a *AuditLogger) LogWalletConnected(origin, address, backend string) {
	a.Log(AuditEntry{Event: AuditWalletConnected, Origin: origin, Address: address, Backend: backend})
}

// LogWalletDisconnected logs a disconnect requested by origin.
func (a *AuditLogger) LogWalletDisconnected(origin string) {
	a.Log(AuditEntry{Event: AuditWalletDisconnect, Origin: origin})
}

// LogOriginTrusted logs an origin added to the trusted set.
func (a *AuditLogger) LogOriginTrusted(origin string) {
	a.Log(AuditEntry{Event: AuditOriginTrusted, Origin: origin})
}

// LogOriginRevoked logs an origin removed from the trusted set.
func (a *AuditLogger) LogOriginRevoked(origin string) {
	a.Log(AuditEntry{Event: AuditOriginRevoked, Origin: origin})
}

// LogMessageSigned logs a message signature released to origin.
func (a *AuditLogger) LogMessageSigned(origin, address string) {
	a.Log(AuditEntry{Event: AuditMessageSigned, Origin: origin, Address: address})
}

// LogTxnSigned logs signed transactions released to origin.
func (a *AuditLogger) LogTxnSigned(origin, address string, txnCount int) {
	a.Log(AuditEntry{Event: AuditTxnSigned, Origin: origin, Address: address, TxnCount: txnCount})
}

// LogTxnSent logs a transaction broadcast on behalf of origin.
func (a *AuditLogger) LogTxnSent(origin, address, txid string) {
	a.Log(AuditEntry{Event: AuditTxnSent, Origin: origin, Address: address, TxID: txid})
}

// LogOperationFailed logs a wallet operation that failed after approval.
func (a *AuditLogger) LogOperationFailed(origin, method, reason string) {
	a.Log(AuditEntry{Event: AuditOperationFailed, Origin: origin, Method: method, Reason: reason})
}

// LogBridgeStart logs daemon startup.
func (a *AuditLogger) LogBridgeStart(address, backend string) {
	a.Log(AuditEntry{Event: AuditBridgeStart, Address: address, Backend: backend})
}

// LogBridgeStop logs daemon shutdown.
func (a *AuditLogger) LogBridgeStop() {
	a.Log(AuditEntry{Event: AuditBridgeStop})
}

// LogActiveWalletChanged logs a new active wallet selection.
func (a *AuditLogger) LogActiveWalletChanged(address, backend string) {
	a.Log(AuditEntry{Event: AuditActiveWalletSwitch, Address: address, Backend: backend})
}
