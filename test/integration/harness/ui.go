// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package harness

import (
	"fmt"
	"sync"
	"time"

	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/transport"
)

// ConfirmUI stands in for apconfirm. It answers every ticket with the
// action chosen by Decide and records what it was shown.
type ConfirmUI struct {
	client *transport.IPCClient

	mu      sync.Mutex
	decide  func(*protocol.ConfirmRequestMessage) string
	seen    []*protocol.ConfirmRequestMessage
	status  *protocol.StatusMessage
	done    chan struct{}
	readErr error
}

// StartConfirmUI authenticates on the bridge's IPC socket and starts answering.
func StartConfirmUI(b *BridgeHarness, decide func(*protocol.ConfirmRequestMessage) string) (*ConfirmUI, error) {
	token, err := b.IPCToken()
	if err != nil {
		return nil, fmt.Errorf("failed to read IPC token: %w", err)
	}
	client := transport.NewIPC(b.IPCPath())
	if err := client.Dial(); err != nil {
		return nil, err
	}
	if err := client.Authenticate(token, true, 5*time.Second); err != nil {
		client.Close()
		return nil, err
	}
	status, err := client.WaitForStatus(5 * time.Second)
	if err != nil {
		client.Close()
		return nil, err
	}

	ui := &ConfirmUI{client: client, decide: decide, status: status, done: make(chan struct{})}
	go ui.loop()
	return ui, nil
}

// AcceptAll approves every ticket
func AcceptAll(*protocol.ConfirmRequestMessage) string { return protocol.ActionAccept }

// RejectAll rejects every ticket
func RejectAll(*protocol.ConfirmRequestMessage) string { return protocol.ActionReject }

// SetDecide changes the policy for later tickets
func (u *ConfirmUI) SetDecide(decide func(*protocol.ConfirmRequestMessage) string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.decide = decide
}

// Seen returns the tickets shown so far
func (u *ConfirmUI) Seen() []*protocol.ConfirmRequestMessage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*protocol.ConfirmRequestMessage(nil), u.seen...)
}

// Status returns the last status pushed by the bridge
func (u *ConfirmUI) Status() *protocol.StatusMessage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Close disconnects and waits for the read loop
func (u *ConfirmUI) Close() {
	u.client.Close()
	<-u.done
}

func (u *ConfirmUI) loop() {
	defer close(u.done)
	for {
		msg, err := u.client.Next()
		if err != nil {
			u.mu.Lock()
			u.readErr = err
			u.mu.Unlock()
			return
		}
		switch m := msg.(type) {
		case *protocol.ConfirmRequestMessage:
			u.mu.Lock()
			u.seen = append(u.seen, m)
			action := u.decide(m)
			u.mu.Unlock()
			if err := u.client.Respond(m.ID, m.Event, action); err != nil {
				return
			}
		case *protocol.StatusMessage:
			u.mu.Lock()
			u.status = m
			u.mu.Unlock()
		}
	}
}
