// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// Conn is the IPC session with the bridge
type Conn interface {
	Next() (any, error)
	Respond(ticketID, event, action string) error
	Close()
}

// DialFunc opens and authenticates a new session
type DialFunc func() (Conn, *protocol.StatusMessage, error)

// ConnectionState represents IPC connection status
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

const (
	focusAccept = iota
	focusReject
)

// Model is the confirmation UI model.
// Tickets are shown oldest first; only the head of the queue is on screen.
type Model struct {
	conn   Conn
	dial   DialFunc
	state  ConnectionState
	status protocol.StatusMessage

	queue    []*protocol.ConfirmRequestMessage
	focus    int
	viewport viewport.Model

	answered int
	notice   string
	err      string

	width  int
	height int
}

// NewModel creates a model over an authenticated session.
func NewModel(conn Conn, status *protocol.StatusMessage, dial DialFunc) Model {
	m := Model{
		conn:     conn,
		dial:     dial,
		state:    ConnectionConnected,
		focus:    focusReject,
		viewport: viewport.New(80, 12),
		width:    80,
		height:   24,
	}
	if status != nil {
		m.status = *status
	}
	return m
}

// Init starts the IPC read loop
func (m Model) Init() tea.Cmd {
	return waitForMessage(m.conn)
}

// Close releases the IPC session
func (m Model) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// Pending returns the number of tickets awaiting a decision
func (m Model) Pending() int {
	return len(m.queue)
}

func (m Model) current() *protocol.ConfirmRequestMessage {
	if len(m.queue) == 0 {
		return nil
	}
	return m.queue[0]
}

// resetViewport sizes the body pane and loads the current ticket
func (m *Model) resetViewport() {
	w := m.width - 8
	if w < 40 {
		w = 40
	}
	h := m.height - 16
	if h < 5 {
		h = 5
	}
	m.viewport = viewport.New(w, h)
	if t := m.current(); t != nil {
		m.viewport.SetContent(renderTicketBody(t, w))
	}
}
