// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package confirm suspends bridge requests while a human decides on them.
//
// Every request that needs approval becomes a Ticket. The Broker hands the
// ticket to a Presenter (the confirmation UI) and blocks until the UI answers,
// the requesting page goes away, the grace period expires or the UI
// disconnects. Anything other than an explicit accept is a rejection.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

var (
	// ErrAlreadyPending is returned when a ticket of the same kind is outstanding
	ErrAlreadyPending = errors.New("a confirmation of this kind is already pending")

	// ErrNoConfirmer is returned when no confirmation UI is connected
	ErrNoConfirmer = errors.New("no confirmation UI connected")

	// ErrPresentFailed is returned when the ticket could not be delivered to the UI
	ErrPresentFailed = errors.New("failed to present confirmation")
)

// Kind identifies which modal a ticket needs
type Kind string

const (
	KindConnect         Kind = "connect"
	KindSignMessage     Kind = "sign_message"
	KindSignTransaction Kind = "sign_transaction"
	KindSignAndSend     Kind = "sign_and_send"
)

// ClosedEvent returns the modal event a resolution for this kind must carry.
func (k Kind) ClosedEvent() string {
	switch k {
	case KindConnect:
		return protocol.EventConnectModalClosed
	case KindSignMessage:
		return protocol.EventSignMessageModalClosed
	case KindSignTransaction, KindSignAndSend:
		return protocol.EventSignTxnModalClosed
	default:
		return ""
	}
}

// Action is the user's decision on a ticket
type Action string

const (
	Accept Action = protocol.ActionAccept
	Reject Action = protocol.ActionReject
)

// Reasons attached to a Decision
const (
	ReasonUser           = "user"
	ReasonAbandoned      = "abandoned"
	ReasonTimeout        = "timeout"
	ReasonUIDisconnected = "confirmation UI disconnected"
	ReasonUIDisplaced    = "confirmation UI displaced"
)

// Payload is what the modal displays
type Payload struct {
	Message        string
	Pretty         bool
	ActionType     string
	TxnCount       int
	BalanceChanges []protocol.BalanceChangeView
	Description    string
}

// Ticket is one pending confirmation
type Ticket struct {
	ID        string
	Kind      Kind
	Origin    protocol.Origin
	Payload   Payload
	CreatedAt time.Time
}

// Message converts the ticket to its IPC form.
func (t *Ticket) Message() *protocol.ConfirmRequestMessage {
	return &protocol.ConfirmRequestMessage{
		BaseMessage: protocol.BaseMessage{
			Type: protocol.MsgTypeConfirmRequest,
			ID:   t.ID,
		},
		Kind:           string(t.Kind),
		Event:          t.Kind.ClosedEvent(),
		Origin:         t.Origin,
		Timestamp:      t.CreatedAt.Unix(),
		Message:        t.Payload.Message,
		Pretty:         t.Payload.Pretty,
		ActionType:     t.Payload.ActionType,
		TxnCount:       t.Payload.TxnCount,
		BalanceChanges: t.Payload.BalanceChanges,
		Description:    t.Payload.Description,
	}
}

// Decision is the terminal outcome of a ticket
type Decision struct {
	Action Action
	Reason string
}

// Accepted reports whether the user accepted.
func (d Decision) Accepted() bool {
	return d.Action == Accept
}

// Presenter displays tickets to a human
type Presenter interface {
	// HasClient reports whether a UI is attached.
	HasClient() bool
	// Present shows the modal for t.
	Present(t *Ticket) error
	// Dismiss closes the modal of an abandoned ticket.
	Dismiss(ticketID, reason string)
}

// Observer is notified once per ticket after it reaches a terminal state
type Observer func(t *Ticket, d Decision, waited time.Duration)

type pending struct {
	ticket *Ticket
	ch     chan Decision
}

// Broker tracks outstanding tickets
type Broker struct {
	presenter Presenter
	grace     time.Duration

	// pending tickets: map[ticketID]*pending, bySlot maps a modal event to its ticket ID
	mu      sync.Mutex
	tickets map[string]*pending
	bySlot  map[string]string

	observer Observer
}

// NewBroker creates a broker. A zero grace waits until resolution or cancellation.
func NewBroker(presenter Presenter, grace time.Duration) *Broker {
	return &Broker{
		presenter: presenter,
		grace:     grace,
		tickets:   make(map[string]*pending),
		bySlot:    make(map[string]string),
	}
}

// SetPresenter attaches the UI. Used when the presenter is created after the broker.
func (b *Broker) SetPresenter(p Presenter) {
	b.mu.Lock()
	b.presenter = p
	b.mu.Unlock()
}

// SetObserver registers a callback for terminal ticket states.
func (b *Broker) SetObserver(fn Observer) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// Pending returns the number of outstanding tickets.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tickets)
}

// Request creates a ticket, presents it and blocks until it reaches a terminal state.
// A returned error is technical (nothing was shown or a slot was taken); user
// rejection and abandonment come back as a Reject decision with a nil error.
func (b *Broker) Request(ctx context.Context, kind Kind, origin protocol.Origin, payload Payload) (Decision, error) {
	slot := kind.ClosedEvent()
	if slot == "" {
		return Decision{}, fmt.Errorf("unknown ticket kind %q", kind)
	}

	b.mu.Lock()
	presenter := b.presenter
	if presenter == nil || !presenter.HasClient() {
		b.mu.Unlock()
		return Decision{}, ErrNoConfirmer
	}
	if _, busy := b.bySlot[slot]; busy {
		b.mu.Unlock()
		return Decision{}, ErrAlreadyPending
	}

	t := &Ticket{
		ID:        uuid.NewString(),
		Kind:      kind,
		Origin:    origin,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	p := &pending{ticket: t, ch: make(chan Decision, 1)}
	b.tickets[t.ID] = p
	b.bySlot[slot] = t.ID
	b.mu.Unlock()

	util.Debug("ticket created", "id", t.ID, "kind", kind, "origin", origin.Domain)

	if err := presenter.Present(t); err != nil {
		b.remove(t.ID)
		return Decision{}, fmt.Errorf("%w: %v", ErrPresentFailed, err)
	}

	var timeout <-chan time.Time
	if b.grace > 0 {
		timer := time.NewTimer(b.grace)
		defer timer.Stop()
		timeout = timer.C
	}

	var d Decision
	select {
	case d = <-p.ch:
	case <-ctx.Done():
		d = b.abandon(t.ID, p, ReasonAbandoned)
	case <-timeout:
		d = b.abandon(t.ID, p, ReasonTimeout)
	}

	b.notify(t, d)
	return d, nil
}

// abandon removes a ticket on a non-UI outcome and closes its modal.
// If a resolution won the race, that resolution is returned instead.
func (b *Broker) abandon(id string, p *pending, reason string) Decision {
	if !b.remove(id) {
		return <-p.ch
	}
	util.Debug("ticket abandoned", "id", id, "reason", reason)

	b.mu.Lock()
	presenter := b.presenter
	b.mu.Unlock()
	if presenter != nil {
		presenter.Dismiss(id, reason)
	}
	return Decision{Action: Reject, Reason: reason}
}

// remove deletes a ticket. Returns false if it was already gone.
func (b *Broker) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.tickets[id]
	if !ok {
		return false
	}
	delete(b.tickets, id)
	delete(b.bySlot, p.ticket.Kind.ClosedEvent())
	return true
}

// Resolve delivers the UI's decision. The event must be the ticket's closed
// event. Only the first resolution of a ticket counts; later ones return false.
func (b *Broker) Resolve(ticketID, event string, action Action) bool {
	if action != Accept && action != Reject {
		return false
	}

	b.mu.Lock()
	p, ok := b.tickets[ticketID]
	if !ok || p.ticket.Kind.ClosedEvent() != event {
		b.mu.Unlock()
		return false
	}
	delete(b.tickets, ticketID)
	delete(b.bySlot, event)
	b.mu.Unlock()

	p.ch <- Decision{Action: action, Reason: ReasonUser}
	return true
}

// AbandonAll rejects every outstanding ticket (called when the UI disconnects
// or is displaced).
func (b *Broker) AbandonAll(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, p := range b.tickets {
		p.ch <- Decision{Action: Reject, Reason: reason}
		delete(b.tickets, id)
	}
	b.bySlot = make(map[string]string)
}

func (b *Broker) notify(t *Ticket, d Decision) {
	b.mu.Lock()
	fn := b.observer
	b.mu.Unlock()
	if fn != nil {
		fn(t, d, time.Since(t.CreatedAt))
	}
}
