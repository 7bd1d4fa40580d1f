// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// Messages produced by the IPC commands
type (
	ticketMsg struct {
		req *protocol.ConfirmRequestMessage
	}
	dismissMsg struct {
		dismiss *protocol.ConfirmDismissMessage
	}
	statusMsg       struct{ status *protocol.StatusMessage }
	bridgeErrorMsg  struct{ text string }
	disconnectedMsg struct{ err error }
	respondedMsg    struct {
		id  string
		err error
	}
	connectedMsg struct {
		conn   Conn
		status *protocol.StatusMessage
	}
)

// waitForMessage reads one bridge message. Every handler that consumes a
// message from this command issues the next read, so exactly one read is
// outstanding at a time.
func waitForMessage(conn Conn) tea.Cmd {
	return func() tea.Msg {
		v, err := conn.Next()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		switch msg := v.(type) {
		case *protocol.ConfirmRequestMessage:
			return ticketMsg{req: msg}
		case *protocol.ConfirmDismissMessage:
			return dismissMsg{dismiss: msg}
		case *protocol.StatusMessage:
			return statusMsg{status: msg}
		case *protocol.ErrorMessage:
			return bridgeErrorMsg{text: msg.Error}
		default:
			return bridgeErrorMsg{text: fmt.Sprintf("unexpected message %T", v)}
		}
	}
}

func respond(conn Conn, id, event, action string) tea.Cmd {
	return func() tea.Msg {
		return respondedMsg{id: id, err: conn.Respond(id, event, action)}
	}
}

func dialCmd(dial DialFunc) tea.Cmd {
	return func() tea.Msg {
		conn, status, err := dial()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		return connectedMsg{conn: conn, status: status}
	}
}
