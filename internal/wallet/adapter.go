// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package wallet normalises the embedded key and external wallet apps behind
// one connect/sign interface used by the bridge.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/aplane-algo/apbridge/internal/chain"
	"github.com/aplane-algo/apbridge/internal/util"
)

// State is the adapter connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handle is a snapshot of the adapter's wallet
type Handle struct {
	PublicKey  string
	Backend    Backend
	Connected  bool
	Connecting bool
}

// EventType identifies adapter notifications
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventError      EventType = "error"
)

// Event is delivered to subscribers
type Event struct {
	Type      EventType
	PublicKey string
	Err       error
}

// ActiveSource supplies the user's current wallet selection
type ActiveSource interface {
	Current() (ActiveWallet, error)
}

// SignerFactory builds the backend for a wallet selection
type SignerFactory func(w ActiveWallet) (Signer, error)

// Broadcaster submits signed transactions
type Broadcaster interface {
	Broadcast(ctx context.Context, signed []byte, waitRounds uint64) (chain.SendResult, error)
}

// Adapter owns the connection to one wallet backend
type Adapter struct {
	active  ActiveSource
	factory SignerFactory

	mu         sync.Mutex
	state      State
	signer     Signer
	account    Account
	session    uint64        // bumped on every successful connect
	connecting chan struct{} // closed when an in-flight connect finishes

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// NewAdapter creates a disconnected adapter.
func NewAdapter(active ActiveSource, factory SignerFactory) *Adapter {
	return &Adapter{
		active:  active,
		factory: factory,
		subs:    make(map[int]func(Event)),
	}
}

// Subscribe registers fn for adapter events. Returns an unsubscribe function.
// Callbacks run synchronously on the goroutine that caused the event.
func (a *Adapter) Subscribe(fn func(Event)) func() {
	a.subsMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.subsMu.Unlock()

	return func() {
		a.subsMu.Lock()
		delete(a.subs, id)
		a.subsMu.Unlock()
	}
}

func (a *Adapter) emit(ev Event) {
	a.subsMu.Lock()
	fns := make([]func(Event), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// fail emits err as an error event and returns it.
func (a *Adapter) fail(err *Error) error {
	util.Logger.Warnw("wallet operation failed", "op", err.Op, "kind", err.Kind, "error", err.Err)
	a.emit(Event{Type: EventError, Err: err})
	return err
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Handle returns a snapshot of the wallet handle.
func (a *Adapter) Handle() Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := Handle{
		Connected:  a.state == StateConnected,
		Connecting: a.state == StateConnecting,
	}
	if a.signer != nil {
		h.Backend = a.signer.Backend()
	}
	if a.state == StateConnected {
		h.PublicKey = a.account.Address
	}
	return h
}

// Connect authorizes the active wallet. It is a no-op when already connected;
// a call made while another connect is in flight waits for that attempt.
func (a *Adapter) Connect(ctx context.Context) (Handle, error) {
	a.mu.Lock()
	switch a.state {
	case StateConnected:
		a.mu.Unlock()
		return a.Handle(), nil
	case StateConnecting:
		wait := a.connecting
		a.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Handle{}, a.fail(&Error{Op: "connect", Kind: KindConnectionFailed, Err: ctx.Err()})
		}
		if a.State() != StateConnected {
			return Handle{}, a.fail(&Error{Op: "connect", Kind: KindConnectionFailed, Err: errors.New("concurrent connect failed")})
		}
		return a.Handle(), nil
	}
	a.state = StateConnecting
	done := make(chan struct{})
	a.connecting = done
	a.mu.Unlock()
	defer close(done)

	signer, account, err := a.authorize(ctx)
	if err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.signer = nil
		a.mu.Unlock()
		return Handle{}, a.fail(classify("connect", KindConnectionFailed, err))
	}

	a.mu.Lock()
	a.state = StateConnected
	a.signer = signer
	a.account = account
	a.session++
	a.mu.Unlock()

	util.Logger.Infow("wallet connected", "backend", signer.Backend(), "address", account.Address)
	a.emit(Event{Type: EventConnect, PublicKey: account.Address})
	return a.Handle(), nil
}

func (a *Adapter) authorize(ctx context.Context) (Signer, Account, error) {
	selection, err := a.active.Current()
	if err != nil {
		return nil, Account{}, fmt.Errorf("failed to read active wallet: %w", err)
	}
	signer, err := a.factory(selection)
	if err != nil {
		return nil, Account{}, err
	}
	account, err := signer.Authorize(ctx)
	if err != nil {
		return nil, Account{}, err
	}
	if selection.Address != "" && selection.Address != account.Address {
		_ = signer.Deauthorize(context.WithoutCancel(ctx))
		return nil, Account{}, fmt.Errorf("wallet authorized %s but %s is selected", account.Address, selection.Address)
	}
	return signer, account, nil
}

// Disconnect deauthorizes the backend. No-op when disconnected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateConnected {
		a.mu.Unlock()
		return nil
	}
	signer := a.signer
	a.state = StateDisconnected
	a.signer = nil
	a.account = Account{}
	a.mu.Unlock()

	if err := signer.Deauthorize(ctx); err != nil {
		util.Logger.Warnw("wallet deauthorize failed", "backend", signer.Backend(), "error", err)
	}
	util.Logger.Info("wallet disconnected")
	a.emit(Event{Type: EventDisconnect})
	return nil
}

// connected returns the signer, account and session number, or an
// ErrNotConnected failure.
func (a *Adapter) connected(op string) (Signer, Account, uint64, *Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConnected {
		return nil, Account{}, 0, &Error{Op: op, Kind: KindNotConnected, Err: ErrNotConnected}
	}
	return a.signer, a.account, a.session, nil
}

// backendFailed classifies a signer error. When the backend has lost its
// session the adapter drops to disconnected so the page can connect again.
func (a *Adapter) backendFailed(op string, session uint64, err error) error {
	if errors.Is(err, ErrSessionLost) || errors.Is(err, ErrNotConnected) {
		a.dropSession(session, err)
	}
	return a.fail(classify(op, KindSignFailed, err))
}

// dropSession moves to disconnected unless a newer connect replaced session.
func (a *Adapter) dropSession(session uint64, cause error) {
	a.mu.Lock()
	if a.state != StateConnected || a.session != session {
		a.mu.Unlock()
		return
	}
	backend := a.signer.Backend()
	a.state = StateDisconnected
	a.signer = nil
	a.account = Account{}
	a.mu.Unlock()

	util.Logger.Warnw("wallet session lost", "backend", backend, "error", cause)
	a.emit(Event{Type: EventDisconnect})
}

// SignMessage signs message with the connected account.
func (a *Adapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	signer, account, session, werr := a.connected("signMessage")
	if werr != nil {
		return nil, a.fail(werr)
	}
	sigs, err := signer.SignMessages(ctx, [][]byte{message})
	if err != nil {
		return nil, a.backendFailed("signMessage", session, err)
	}
	if len(sigs) != 1 {
		return nil, a.fail(&Error{Op: "signMessage", Kind: KindSignFailed, Err: fmt.Errorf("wallet returned %d signatures", len(sigs))})
	}
	if !crypto.VerifyBytes(account.PublicKey, message, sigs[0]) {
		return nil, a.fail(&Error{Op: "signMessage", Kind: KindSignFailed, Err: errors.New("wallet returned an invalid signature")})
	}
	return sigs[0], nil
}

// SignTransaction signs one transaction.
func (a *Adapter) SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error) {
	signed, err := a.signAll(ctx, "signTransaction", []types.Transaction{txn})
	if err != nil {
		return nil, err
	}
	return signed[0], nil
}

// SignAllTransactions signs a batch. The result is in input order.
func (a *Adapter) SignAllTransactions(ctx context.Context, txns []types.Transaction) ([][]byte, error) {
	return a.signAll(ctx, "signAllTransactions", txns)
}

func (a *Adapter) signAll(ctx context.Context, op string, txns []types.Transaction) ([][]byte, error) {
	signer, _, session, werr := a.connected(op)
	if werr != nil {
		return nil, a.fail(werr)
	}
	if len(txns) == 0 {
		return nil, a.fail(&Error{Op: op, Kind: KindSignFailed, Err: errors.New("no transactions")})
	}
	signed, err := signer.SignTransactions(ctx, txns)
	if err != nil {
		return nil, a.backendFailed(op, session, err)
	}
	if len(signed) != len(txns) {
		return nil, a.fail(&Error{Op: op, Kind: KindSignFailed, Err: fmt.Errorf("wallet returned %d of %d transactions", len(signed), len(txns))})
	}
	for i, stx := range signed {
		if err := checkSigned(stx, txns[i]); err != nil {
			return nil, a.fail(&Error{Op: op, Kind: KindSignFailed, Err: fmt.Errorf("transaction %d: %w", i, err)})
		}
	}
	return signed, nil
}

// SignAndSendTransaction signs txn and submits it. Nothing is broadcast if signing fails.
func (a *Adapter) SignAndSendTransaction(ctx context.Context, txn types.Transaction, b Broadcaster, waitRounds uint64) (chain.SendResult, error) {
	signed, err := a.signAll(ctx, "signAndSendTransaction", []types.Transaction{txn})
	if err != nil {
		return chain.SendResult{}, err
	}
	res, err := b.Broadcast(ctx, signed[0], waitRounds)
	if err != nil {
		return res, a.fail(&Error{Op: "signAndSendTransaction", Kind: KindSendFailed, Err: err})
	}
	return res, nil
}

// OnActiveWalletChanged disconnects when the user selects another wallet.
func (a *Adapter) OnActiveWalletChanged(w ActiveWallet) {
	util.Logger.Infow("active wallet changed", "address", w.Address, "backend", w.Backend)
	_ = a.Disconnect(context.Background())
}

// checkSigned verifies stx decodes to a signed form of txn.
func checkSigned(stx []byte, txn types.Transaction) error {
	var decoded types.SignedTxn
	if err := msgpack.Decode(stx, &decoded); err != nil {
		return fmt.Errorf("wallet returned undecodable transaction: %w", err)
	}
	if crypto.GetTxID(decoded.Txn) != crypto.GetTxID(txn) {
		return errors.New("wallet signed a different transaction")
	}
	if decoded.Sig == (types.Signature{}) && len(decoded.Msig.Subsigs) == 0 && len(decoded.Lsig.Logic) == 0 {
		return errors.New("wallet returned an unsigned transaction")
	}
	return nil
}
