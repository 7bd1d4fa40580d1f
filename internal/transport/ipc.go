// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// IPCClient is a Unix socket client for the bridge confirmation socket.
type IPCClient struct {
	conn       net.Conn
	socketPath string
	reader     *bufio.Reader
	writeMu    sync.Mutex
}

// NewIPC creates a new IPC client (not yet connected).
func NewIPC(socketPath string) *IPCClient {
	return &IPCClient{
		socketPath: socketPath,
	}
}

// Dial connects to the bridge Unix socket.
func (c *IPCClient) Dial() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to IPC socket: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the IPC connection.
func (c *IPCClient) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// SetReadDeadline sets a deadline for read operations.
func (c *IPCClient) SetReadDeadline(d time.Duration) {
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// ClearReadDeadline removes any read deadline.
func (c *IPCClient) ClearReadDeadline() {
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// WriteJSON sends a JSON message over the socket.
// Each message is a single line terminated by newline.
func (c *IPCClient) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// ReadMessage reads a line-delimited JSON message from the socket.
func (c *IPCClient) ReadMessage() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	// Trim the newline
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	return line, nil
}

func (c *IPCClient) readType() (string, []byte, error) {
	message, err := c.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	var base protocol.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		return "", nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return base.Type, message, nil
}

// Authenticate handles the IPC authentication handshake.
// If another client holds the session the bridge offers displacement first;
// displace decides whether to take it over.
func (c *IPCClient) Authenticate(token string, displace bool, timeout time.Duration) error {
	c.SetReadDeadline(timeout)
	defer c.ClearReadDeadline()

	msgType, message, err := c.readType()
	if err != nil {
		return fmt.Errorf("failed to receive auth_required: %w", err)
	}

	switch msgType {
	case protocol.MsgTypeClientExists:
		if !displace {
			return ErrAlreadyConnected
		}
		if err := c.WriteJSON(protocol.DisplaceConfirmMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeDisplaceConfirm},
		}); err != nil {
			return fmt.Errorf("failed to send displace_confirm: %w", err)
		}
		c.SetReadDeadline(timeout)
		if msgType, message, err = c.readType(); err != nil {
			return fmt.Errorf("failed to receive auth_required: %w", err)
		}
	case protocol.MsgTypeError:
		var e protocol.ErrorMessage
		_ = json.Unmarshal(message, &e)
		return fmt.Errorf("bridge refused connection: %s", e.Error)
	}

	if msgType != protocol.MsgTypeAuthRequired {
		return fmt.Errorf("expected auth_required message, got: %s", msgType)
	}

	authMsg := protocol.AuthMessage{
		BaseMessage: protocol.BaseMessage{
			Type: protocol.MsgTypeAuth,
		},
		Token: token,
	}
	if err := c.WriteJSON(authMsg); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	msgType, resultMsg, err := c.readType()
	if err != nil {
		return fmt.Errorf("failed to receive auth_result: %w", err)
	}
	if msgType != protocol.MsgTypeAuthResult {
		return fmt.Errorf("expected auth_result message, got: %s", msgType)
	}

	var authResult protocol.AuthResultMessage
	if err := json.Unmarshal(resultMsg, &authResult); err != nil {
		return fmt.Errorf("failed to parse auth_result: %w", err)
	}
	if !authResult.Success {
		return fmt.Errorf("%w: %s", ErrUnauthorized, authResult.Error)
	}
	return nil
}

// WaitForStatus waits for the status message the bridge sends after authentication.
func (c *IPCClient) WaitForStatus(timeout time.Duration) (*protocol.StatusMessage, error) {
	c.SetReadDeadline(timeout)
	defer c.ClearReadDeadline()

	msgType, message, err := c.readType()
	if err != nil {
		return nil, fmt.Errorf("failed to receive status: %w", err)
	}
	if msgType != protocol.MsgTypeStatus {
		return nil, fmt.Errorf("expected status message, got: %s", msgType)
	}

	var status protocol.StatusMessage
	if err := json.Unmarshal(message, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// Next reads the next bridge message. It returns one of
// *protocol.ConfirmRequestMessage, *protocol.ConfirmDismissMessage,
// *protocol.StatusMessage or *protocol.ErrorMessage.
func (c *IPCClient) Next() (any, error) {
	msgType, message, err := c.readType()
	if err != nil {
		return nil, err
	}

	var out any
	switch msgType {
	case protocol.MsgTypeConfirmRequest:
		out = &protocol.ConfirmRequestMessage{}
	case protocol.MsgTypeConfirmDismiss:
		out = &protocol.ConfirmDismissMessage{}
	case protocol.MsgTypeStatus:
		out = &protocol.StatusMessage{}
	case protocol.MsgTypeError:
		out = &protocol.ErrorMessage{}
	case protocol.MsgTypeDisplaced:
		return nil, ErrDisplaced
	default:
		return nil, fmt.Errorf("unexpected message type: %s", msgType)
	}
	if err := json.Unmarshal(message, out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", msgType, err)
	}
	return out, nil
}

// Respond sends the user's decision for a ticket.
func (c *IPCClient) Respond(ticketID, event, action string) error {
	return c.WriteJSON(protocol.ConfirmResponseMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeConfirmResponse, ID: ticketID},
		Event:       event,
		Action:      action,
	})
}

// RequestStatus asks the bridge to push a fresh status message.
func (c *IPCClient) RequestStatus() error {
	return c.WriteJSON(protocol.BaseMessage{Type: protocol.MsgTypeStatus})
}
