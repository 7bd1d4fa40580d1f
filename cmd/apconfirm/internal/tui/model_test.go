// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/transport"
)

type response struct {
	id, event, action string
}

type fakeConn struct {
	responses []response
	closed    bool
}

func (f *fakeConn) Next() (any, error) { return nil, errors.New("not used") }
func (f *fakeConn) Respond(id, event, action string) error {
	f.responses = append(f.responses, response{id, event, action})
	return nil
}
func (f *fakeConn) Close() { f.closed = true }

func ticket(id, kind, event string) ticketMsg {
	return ticketMsg{req: &protocol.ConfirmRequestMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeConfirmRequest, ID: id},
		Kind:        kind,
		Event:       event,
		Origin:      protocol.Origin{Domain: "dapp.example", WebsiteName: "Dapp"},
	}}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// step applies msg and runs the returned command unless it would read the socket.
func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd != nil {
		if _, isTicket := msg.(ticketMsg); isTicket {
			return m
		}
		if _, isKey := msg.(tea.KeyMsg); isKey {
			if out := cmd(); out != nil {
				if r, ok := out.(respondedMsg); ok {
					next, _ = m.Update(r)
					m = next.(Model)
				}
			}
		}
	}
	return m
}

func TestDecisionKeys(t *testing.T) {
	tests := []struct {
		name       string
		keys       []string
		wantAction string
	}{
		{"y accepts", []string{"y"}, protocol.ActionAccept},
		{"a accepts", []string{"a"}, protocol.ActionAccept},
		{"n rejects", []string{"n"}, protocol.ActionReject},
		{"esc rejects", []string{"esc"}, protocol.ActionReject},
		{"enter defaults to reject", []string{"enter"}, protocol.ActionReject},
		{"tab then enter accepts", []string{"tab", "enter"}, protocol.ActionAccept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			m := NewModel(conn, nil, nil)
			m = step(t, m, ticket("t1", "sign_message", protocol.EventSignMessageModalClosed))
			for _, k := range tt.keys {
				m = step(t, m, key(k))
			}
			if len(conn.responses) != 1 {
				t.Fatalf("responses = %v, want exactly one", conn.responses)
			}
			want := response{"t1", protocol.EventSignMessageModalClosed, tt.wantAction}
			if conn.responses[0] != want {
				t.Errorf("response = %+v, want %+v", conn.responses[0], want)
			}
			if m.Pending() != 0 {
				t.Errorf("Pending() = %d after decision", m.Pending())
			}
		})
	}
}

func TestQueueOrderAndSingleAnswer(t *testing.T) {
	conn := &fakeConn{}
	m := NewModel(conn, nil, nil)
	m = step(t, m, ticket("c1", "connect", protocol.EventConnectModalClosed))
	m = step(t, m, ticket("s1", "sign_transaction", protocol.EventSignTxnModalClosed))

	if !strings.Contains(m.View(), "+1 more pending") {
		t.Error("queued ticket not announced")
	}

	m = step(t, m, key("y"))
	m = step(t, m, key("n"))
	// Nothing left to answer
	m = step(t, m, key("y"))

	want := []response{
		{"c1", protocol.EventConnectModalClosed, protocol.ActionAccept},
		{"s1", protocol.EventSignTxnModalClosed, protocol.ActionReject},
	}
	if len(conn.responses) != len(want) {
		t.Fatalf("responses = %v", conn.responses)
	}
	for i := range want {
		if conn.responses[i] != want[i] {
			t.Errorf("response %d = %+v, want %+v", i, conn.responses[i], want[i])
		}
	}
	if m.answered != 2 {
		t.Errorf("answered = %d", m.answered)
	}
}

func TestDismissRemovesTicket(t *testing.T) {
	conn := &fakeConn{}
	m := NewModel(conn, nil, nil)
	m = step(t, m, ticket("c1", "connect", protocol.EventConnectModalClosed))
	m = step(t, m, ticket("m1", "sign_message", protocol.EventSignMessageModalClosed))

	m = step(t, m, dismissMsg{dismiss: &protocol.ConfirmDismissMessage{
		BaseMessage: protocol.BaseMessage{ID: "c1"}, Reason: "abandoned",
	}})
	if m.Pending() != 1 || m.current().ID != "m1" {
		t.Fatalf("queue after dismiss = %d, head %v", m.Pending(), m.current())
	}
	if !strings.Contains(m.notice, "withdrawn") {
		t.Errorf("notice = %q", m.notice)
	}

	// Unknown ids are ignored
	m = step(t, m, dismissMsg{dismiss: &protocol.ConfirmDismissMessage{BaseMessage: protocol.BaseMessage{ID: "zz"}}})
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d", m.Pending())
	}
	if len(conn.responses) != 0 {
		t.Errorf("dismiss sent responses: %v", conn.responses)
	}
}

func TestDisconnect(t *testing.T) {
	m := NewModel(&fakeConn{}, nil, nil)
	m = step(t, m, ticket("c1", "connect", protocol.EventConnectModalClosed))
	m = step(t, m, disconnectedMsg{err: transport.ErrDisplaced})
	if m.state != ConnectionDisconnected || m.Pending() != 0 {
		t.Errorf("state = %v, pending = %d", m.state, m.Pending())
	}
	if !strings.Contains(m.err, "took over") {
		t.Errorf("err = %q", m.err)
	}

	dialed := &fakeConn{}
	m.dial = func() (Conn, *protocol.StatusMessage, error) {
		return dialed, &protocol.StatusMessage{Backend: "embedded"}, nil
	}
	next, cmd := m.Update(key("c"))
	m = next.(Model)
	if m.state != ConnectionConnecting || cmd == nil {
		t.Fatalf("reconnect not started: state %v", m.state)
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if m.state != ConnectionConnected || m.conn != dialed || m.status.Backend != "embedded" {
		t.Errorf("after reconnect: state %v, status %+v", m.state, m.status)
	}
}

func TestRenderTicketBody(t *testing.T) {
	req := &protocol.ConfirmRequestMessage{
		Kind:       "sign_and_send",
		ActionType: protocol.ActionTypeSignAndSend,
		TxnCount:   2,
		BalanceChanges: []protocol.BalanceChangeView{
			{Mint: 0, Owner: "AAAAAAAAAAAAAAAAAAAA", AmountNormalized: "-1.5", Name: "ALGO"},
			{Mint: 31566704, Owner: "AAAAAAAAAAAAAAAAAAAA", AmountNormalized: "10"},
		},
		Description: "Payment to BOB",
	}
	body := renderTicketBody(req, 60)
	for _, want := range []string{"Sign and submit 2 transaction(s)", "-1.5", "ALGO", "+10", "ASA 31566704", "Payment to BOB"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	msg := renderTicketBody(&protocol.ConfirmRequestMessage{Kind: "sign_message", Message: "hello world"}, 60)
	if !strings.Contains(msg, "hello world") {
		t.Errorf("message body = %q", msg)
	}
}

func TestStatusBar(t *testing.T) {
	m := NewModel(&fakeConn{}, &protocol.StatusMessage{Backend: "external", Wallet: "ABCDEFGHIJKLMNOPQRSTUVWXYZ", Connected: true}, nil)
	bar := m.renderStatusBar()
	if !strings.Contains(bar, "external") || !strings.Contains(bar, "ABCD..WXYZ") {
		t.Errorf("status bar = %q", bar)
	}
	m = step(t, m, statusMsg{status: &protocol.StatusMessage{Backend: "external"}})
	if !strings.Contains(m.renderStatusBar(), "no account") {
		t.Errorf("status bar after disconnect = %q", m.renderStatusBar())
	}
}
