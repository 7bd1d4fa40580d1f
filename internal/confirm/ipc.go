// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package confirm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

// StatusFunc reports the bridge state sent to a newly authenticated UI
type StatusFunc func() protocol.StatusMessage

// IPCServer presents tickets to a confirmation UI over a Unix socket.
type IPCServer struct {
	listener net.Listener
	broker   *Broker
	path     string
	token    string
	status   StatusFunc

	// Single IPC client
	client        *IPCConn // Only set after authentication succeeds
	clientPending net.Conn // Set to the conn currently authenticating (to reject duplicates)
	clientLock    sync.Mutex
}

// NewIPCServer creates a new IPC server and attaches it to the broker as its presenter.
func NewIPCServer(path, token string, broker *Broker, status StatusFunc) *IPCServer {
	s := &IPCServer{
		path:   path,
		token:  token,
		broker: broker,
		status: status,
	}
	broker.SetPresenter(s)
	return s
}

// Start begins listening on the Unix socket.
func (s *IPCServer) Start() error {
	if err := s.validateSocketPath(); err != nil {
		return err
	}

	s.warnIfInsecureDirectory()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on IPC socket: %w", err)
	}

	// Only owner can access
	if err := os.Chmod(s.path, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	go s.acceptLoop()
	return nil
}

// validateSocketPath refuses a socket path that is a symlink or owned by another user.
func (s *IPCServer) validateSocketPath() error {
	info, err := os.Lstat(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket path: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("SECURITY: socket path is a symlink (possible attack): %s", s.path)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if ok {
		uid := os.Getuid()
		if uid < 0 {
			return fmt.Errorf("invalid UID: %d", uid)
		}
		currentUID := uint32(uid) // #nosec G115 - UIDs on Linux are 32-bit
		if stat.Uid != currentUID {
			return fmt.Errorf("SECURITY: socket owned by different user (uid %d, expected %d): %s",
				stat.Uid, currentUID, s.path)
		}
	}

	return nil
}

func (s *IPCServer) warnIfInsecureDirectory() {
	dir := filepath.Dir(s.path)

	if strings.HasPrefix(dir, "/tmp") || strings.HasPrefix(dir, "/var/tmp") {
		util.Logger.Warnw("IPC socket in world-writable directory, consider $XDG_RUNTIME_DIR", "path", s.path)
		return
	}

	info, err := os.Stat(dir)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0002 != 0 {
		util.Logger.Warnw("IPC socket directory is world-writable", "dir", dir)
	}
}

// Stop closes the IPC server.
func (s *IPCServer) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.clientLock.Lock()
	if s.client != nil {
		_ = s.client.conn.Close()
	}
	s.clientLock.Unlock()
	_ = os.Remove(s.path)
}

func (s *IPCServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed
			return
		}

		s.clientLock.Lock()
		if s.clientPending != nil {
			s.clientLock.Unlock()
			rejected := &IPCConn{conn: conn}
			_ = rejected.WriteJSON(protocol.ErrorMessage{
				BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeError},
				Error:       "another confirmation client is currently authenticating",
			})
			_ = conn.Close()
			continue
		}

		var existingReader *bufio.Reader
		if s.client != nil {
			s.clientLock.Unlock()

			reader, ok := s.offerDisplacement(conn)
			if !ok {
				_ = conn.Close()
				continue
			}
			existingReader = reader
		} else {
			s.clientLock.Unlock()
		}

		s.clientLock.Lock()
		s.clientPending = conn
		s.clientLock.Unlock()

		util.Logger.Info("confirmation client connected")
		go s.handleClient(conn, existingReader)
	}
}

// displacementTimeout is the maximum time to wait for a displacement confirmation.
const displacementTimeout = 30 * time.Second

// offerDisplacement asks a new connection whether it wants to replace the
// current client. Returns the reader used (so buffered data is kept) and true
// if the old client was displaced.
func (s *IPCServer) offerDisplacement(newConn net.Conn) (*bufio.Reader, bool) {
	candidate := &IPCConn{conn: newConn}
	if err := candidate.WriteJSON(protocol.ClientExistsMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeClientExists},
	}); err != nil {
		return nil, false
	}

	_ = newConn.SetReadDeadline(time.Now().Add(displacementTimeout))
	reader := bufio.NewReader(newConn)
	line, err := reader.ReadBytes('\n')
	_ = newConn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, false
	}

	var base protocol.BaseMessage
	if err := json.Unmarshal(trimNewline(line), &base); err != nil {
		return nil, false
	}
	if base.Type != protocol.MsgTypeDisplaceConfirm {
		return nil, false
	}

	s.clientLock.Lock()
	oldClient := s.client
	s.client = nil
	s.clientLock.Unlock()

	if oldClient != nil {
		_ = oldClient.WriteJSON(protocol.DisplacedMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeDisplaced},
			Reason:      "Displaced by another confirmation client",
		})
		_ = oldClient.conn.Close()
		util.Logger.Warn("existing confirmation client displaced by new connection")
	}

	// Modals shown by the old client are gone with it.
	s.broker.AbandonAll(ReasonUIDisplaced)

	return reader, true
}

// handleClient serves one UI connection. Pending tickets are abandoned when
// the active client goes away. Displacement abandons them in offerDisplacement.
func (s *IPCServer) handleClient(conn net.Conn, existingReader *bufio.Reader) {
	reader := existingReader
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	ipcConn := &IPCConn{conn: conn, reader: reader}
	authenticated := false

	defer func() {
		s.clientLock.Lock()
		if s.clientPending == conn {
			s.clientPending = nil
		}
		wasActiveClient := s.client == ipcConn
		if wasActiveClient {
			s.client = nil
		}
		s.clientLock.Unlock()
		_ = conn.Close()

		if authenticated && wasActiveClient {
			s.broker.AbandonAll(ReasonUIDisconnected)
			util.Logger.Warn("confirmation client disconnected, pending tickets rejected")
		}
	}()

	if !s.authenticateClient(ipcConn) {
		util.Logger.Warn("IPC client authentication failed")
		return
	}

	s.clientLock.Lock()
	s.client = ipcConn
	s.clientPending = nil
	authenticated = true
	s.clientLock.Unlock()
	util.Logger.Info("confirmation client authenticated")

	s.sendStatus(ipcConn)

	for {
		line, err := ipcConn.reader.ReadBytes('\n')
		if err != nil {
			return
		}
		line = trimNewline(line)

		var base protocol.BaseMessage
		if err := json.Unmarshal(line, &base); err != nil {
			s.sendError(ipcConn, "", "invalid message format")
			continue
		}

		s.handleMessage(ipcConn, base.Type, line)
	}
}

// authenticateClient checks the IPC token. Unlike a passphrase there is
// nothing to retry: a wrong token closes the connection.
func (s *IPCServer) authenticateClient(conn *IPCConn) bool {
	if err := conn.WriteJSON(protocol.AuthRequiredMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeAuthRequired},
	}); err != nil {
		return false
	}

	line, err := conn.reader.ReadBytes('\n')
	if err != nil {
		return false
	}
	line = trimNewline(line)

	var base protocol.BaseMessage
	if err := json.Unmarshal(line, &base); err != nil {
		s.sendAuthResult(conn, false, "invalid message format")
		return false
	}
	if base.Type != protocol.MsgTypeAuth {
		s.sendAuthResult(conn, false, "expected auth message")
		return false
	}

	var authMsg protocol.AuthMessage
	if err := json.Unmarshal(line, &authMsg); err != nil {
		s.sendAuthResult(conn, false, "invalid auth message format")
		return false
	}

	if !util.ValidateToken(authMsg.Token, s.token) {
		s.sendAuthResult(conn, false, "invalid token")
		return false
	}

	s.sendAuthResult(conn, true, "")
	return true
}

func (s *IPCServer) sendAuthResult(conn *IPCConn, success bool, errMsg string) {
	_ = conn.WriteJSON(protocol.AuthResultMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeAuthResult},
		Success:     success,
		Error:       errMsg,
	})
}

func (s *IPCServer) handleMessage(conn *IPCConn, msgType string, raw []byte) {
	switch msgType {
	case protocol.MsgTypeConfirmResponse:
		var msg protocol.ConfirmResponseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(conn, "", "invalid confirm_response format")
			return
		}
		if !s.broker.Resolve(msg.ID, msg.Event, Action(msg.Action)) {
			s.sendError(conn, msg.ID, "ticket unknown, already resolved or event mismatch")
		}

	case protocol.MsgTypeStatus:
		s.sendStatus(conn)

	default:
		s.sendError(conn, "", fmt.Sprintf("unknown message type: %s", msgType))
	}
}

func (s *IPCServer) sendStatus(conn *IPCConn) {
	msg := protocol.StatusMessage{}
	if s.status != nil {
		msg = s.status()
	}
	msg.Type = protocol.MsgTypeStatus
	_ = conn.WriteJSON(msg)
}

func (s *IPCServer) sendError(conn *IPCConn, id, errMsg string) {
	_ = conn.WriteJSON(protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeError, ID: id},
		Error:       errMsg,
	})
}

func (s *IPCServer) activeClient() *IPCConn {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()
	return s.client
}

// HasClient returns true if an authenticated UI is connected.
func (s *IPCServer) HasClient() bool {
	return s.activeClient() != nil
}

// Present sends a confirm_request for t.
func (s *IPCServer) Present(t *Ticket) error {
	conn := s.activeClient()
	if conn == nil {
		return ErrNoConfirmer
	}
	return conn.WriteJSON(t.Message())
}

// Dismiss tells the UI to close the modal of an abandoned ticket.
func (s *IPCServer) Dismiss(ticketID, reason string) {
	conn := s.activeClient()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(protocol.ConfirmDismissMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeConfirmDismiss, ID: ticketID},
		Reason:      reason,
	})
}

// NotifyStatus pushes the current bridge status to the UI (best-effort).
func (s *IPCServer) NotifyStatus() {
	if conn := s.activeClient(); conn != nil {
		s.sendStatus(conn)
	}
}

// Compile-time interface check
var _ Presenter = (*IPCServer)(nil)

// IPCConn wraps a net.Conn with JSON-lines helpers. Writes are serialised.
type IPCConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// WriteJSON writes a JSON message followed by newline.
func (c *IPCConn) WriteJSON(v any) error {
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

func trimNewline(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		return line[:len(line)-1]
	}
	return line
}
