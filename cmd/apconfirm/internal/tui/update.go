// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/transport"
)

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		offset := m.viewport.YOffset
		m.resetViewport()
		m.viewport.SetYOffset(offset)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case ticketMsg:
		m.queue = append(m.queue, msg.req)
		if len(m.queue) == 1 {
			m.focus = focusReject
			m.resetViewport()
		}
		m.notice = ""
		return m, waitForMessage(m.conn)

	case dismissMsg:
		m.dropTicket(msg.dismiss.ID, msg.dismiss.Reason)
		return m, waitForMessage(m.conn)

	case statusMsg:
		m.status = *msg.status
		return m, waitForMessage(m.conn)

	case bridgeErrorMsg:
		m.err = msg.text
		return m, waitForMessage(m.conn)

	case respondedMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("failed to send decision: %v", msg.err)
		}
		return m, nil

	case disconnectedMsg:
		// The bridge abandons every open ticket when the UI goes away.
		m.state = ConnectionDisconnected
		m.queue = nil
		m.resetViewport()
		switch {
		case errors.Is(msg.err, transport.ErrDisplaced):
			m.err = "Another confirmation UI took over this session"
		case msg.err != nil:
			m.err = fmt.Sprintf("Disconnected: %v", msg.err)
		}
		return m, nil

	case connectedMsg:
		m.Close()
		m.conn = msg.conn
		m.state = ConnectionConnected
		if msg.status != nil {
			m.status = *msg.status
		}
		m.err = ""
		m.notice = "Reconnected"
		return m, waitForMessage(m.conn)
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	t := m.current()
	if t == nil {
		switch key {
		case "q":
			return m, tea.Quit
		case "c":
			if m.state == ConnectionDisconnected && m.dial != nil {
				m.state = ConnectionConnecting
				m.err = ""
				return m, dialCmd(m.dial)
			}
		}
		return m, nil
	}

	switch key {
	case "y", "a":
		return m.decide(protocol.ActionAccept)
	case "n", "r", "esc":
		return m.decide(protocol.ActionReject)
	case "tab", "left", "right", "h", "l":
		m.focus = 1 - m.focus
		return m, nil
	case "enter", " ":
		if m.focus == focusAccept {
			return m.decide(protocol.ActionAccept)
		}
		return m.decide(protocol.ActionReject)
	case "up", "k":
		m.viewport.LineUp(1)
	case "down", "j":
		m.viewport.LineDown(1)
	case "pgup":
		m.viewport.ViewUp()
	case "pgdown":
		m.viewport.ViewDown()
	}
	return m, nil
}

// decide answers the head ticket once and advances the queue.
func (m Model) decide(action string) (tea.Model, tea.Cmd) {
	t := m.queue[0]
	m.queue = m.queue[1:]
	m.answered++
	m.focus = focusReject
	m.resetViewport()
	if action == protocol.ActionAccept {
		m.notice = fmt.Sprintf("Approved %s for %s", kindTitle(t.Kind), t.Origin.Domain)
	} else {
		m.notice = fmt.Sprintf("Rejected %s for %s", kindTitle(t.Kind), t.Origin.Domain)
	}
	return m, respond(m.conn, t.ID, t.Event, action)
}

// dropTicket removes an abandoned ticket without answering it.
func (m *Model) dropTicket(id, reason string) {
	for i, t := range m.queue {
		if t.ID != id {
			continue
		}
		rest := make([]*protocol.ConfirmRequestMessage, 0, len(m.queue)-1)
		m.queue = append(append(rest, m.queue[:i]...), m.queue[i+1:]...)
		m.notice = fmt.Sprintf("%s request from %s withdrawn (%s)", kindTitle(t.Kind), t.Origin.Domain, reason)
		if i == 0 {
			m.focus = focusReject
			m.resetViewport()
		}
		return
	}
}
