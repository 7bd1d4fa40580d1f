// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aplane-algo/apbridge/internal/auth"
	"github.com/aplane-algo/apbridge/internal/balance"
	"github.com/aplane-algo/apbridge/internal/chain"
	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/permission"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

const (
	testSecret = "6b1f0e3c9a2d4b7e8f00112233445566778899aabbccddeeff0123456789abcd"
	dappDomain = "dapp.example"
)

// scriptedPresenter answers every ticket with action; an empty action leaves it pending
type scriptedPresenter struct {
	broker *confirm.Broker

	mu        sync.Mutex
	action    confirm.Action
	noClient  bool
	tickets   []*confirm.Ticket
	dismissed []string
	shown     chan *confirm.Ticket
}

func (p *scriptedPresenter) HasClient() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noClient
}

func (p *scriptedPresenter) Present(t *confirm.Ticket) error {
	p.mu.Lock()
	p.tickets = append(p.tickets, t)
	action := p.action
	p.mu.Unlock()

	select {
	case p.shown <- t:
	default:
	}
	if action != "" {
		p.broker.Resolve(t.ID, t.Kind.ClosedEvent(), action)
	}
	return nil
}

func (p *scriptedPresenter) Dismiss(id, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, id)
}

func (p *scriptedPresenter) answer(action confirm.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.action = action
}

func (p *scriptedPresenter) presented() []*confirm.Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*confirm.Ticket(nil), p.tickets...)
}

// countingSigner is an in-memory wallet backend that counts every call
type countingSigner struct {
	account crypto.Account

	mu         sync.Mutex
	authorized int
	messages   int
	batches    int
	signErr    error
}

func (s *countingSigner) Backend() wallet.Backend { return wallet.BackendEmbedded }

func (s *countingSigner) Authorize(ctx context.Context) (wallet.Account, error) {
	s.mu.Lock()
	s.authorized++
	s.mu.Unlock()
	return wallet.Account{Address: s.account.Address.String(), PublicKey: s.account.PublicKey}, nil
}

func (s *countingSigner) Deauthorize(ctx context.Context) error { return nil }

func (s *countingSigner) SignMessages(ctx context.Context, msgs [][]byte) ([][]byte, error) {
	s.mu.Lock()
	s.messages++
	err := s.signErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(msgs))
	for i, m := range msgs {
		sig, err := crypto.SignBytes(s.account.PrivateKey, m)
		if err != nil {
			return nil, err
		}
		out[i] = sig
	}
	return out, nil
}

func (s *countingSigner) SignTransactions(ctx context.Context, txns []types.Transaction) ([][]byte, error) {
	s.mu.Lock()
	s.batches++
	err := s.signErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(txns))
	for i, txn := range txns {
		_, stx, err := crypto.SignTransaction(s.account.PrivateKey, txn)
		if err != nil {
			return nil, err
		}
		out[i] = stx
	}
	return out, nil
}

func (s *countingSigner) calls() (authorized, messages, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized, s.messages, s.batches
}

// recordingBroadcaster returns the real txid of what it is given
type recordingBroadcaster struct {
	mu    sync.Mutex
	sent  [][]byte
	waits []uint64
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, signed []byte, waitRounds uint64) (chain.SendResult, error) {
	var stx types.SignedTxn
	if err := msgpack.Decode(signed, &stx); err != nil {
		return chain.SendResult{}, err
	}
	b.mu.Lock()
	b.sent = append(b.sent, signed)
	b.waits = append(b.waits, waitRounds)
	b.mu.Unlock()
	res := chain.SendResult{TxID: crypto.GetTxID(stx.Txn)}
	if waitRounds > 0 {
		res.ConfirmedRound = 42
	}
	return res, nil
}

type staticWallet struct{}

func (staticWallet) Current() (wallet.ActiveWallet, error) {
	return wallet.ActiveWallet{Backend: wallet.BackendEmbedded}, nil
}

type harness struct {
	d         *Dispatcher
	broker    *confirm.Broker
	presenter *scriptedPresenter
	signer    *countingSigner
	bcast     *recordingBroadcaster
	origins   *permission.TrustedOrigins
	adapter   *wallet.Adapter
	metrics   *Metrics
	auditPath string
}

type harnessOptions struct {
	autoApprove    []string
	nativeDecimals int
	limiter        *RateLimiter
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	broker := confirm.NewBroker(nil, 0)
	presenter := &scriptedPresenter{broker: broker, shown: make(chan *confirm.Ticket, 8)}
	broker.SetPresenter(presenter)

	signer := &countingSigner{account: crypto.GenerateAccount()}
	adapter := wallet.NewAdapter(staticWallet{}, func(wallet.ActiveWallet) (wallet.Signer, error) {
		return signer, nil
	})

	origins, err := permission.LoadTrustedOrigins("")
	if err != nil {
		t.Fatalf("LoadTrustedOrigins: %v", err)
	}
	gate, _ := permission.NewGate(opts.autoApprove)

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	audit, err := NewAuditLogger(auditPath)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	metrics := NewMetrics()
	bcast := &recordingBroadcaster{}
	d, err := NewDispatcher(Options{
		Authenticator: auth.NewHMACAuthenticator(testSecret),
		Gate:          gate,
		Origins:       origins,
		Broker:        broker,
		Adapter:       adapter,
		Analyzer:      balance.NewAnalyzer(balance.Config{NativeDecimals: opts.nativeDecimals}, nil),
		Broadcaster:   bcast,
		WaitRounds:    4,
		Limiter:       opts.limiter,
		Audit:         audit,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	return &harness{
		d:         d,
		broker:    broker,
		presenter: presenter,
		signer:    signer,
		bcast:     bcast,
		origins:   origins,
		adapter:   adapter,
		metrics:   metrics,
		auditPath: auditPath,
	}
}

func buildRequest(t *testing.T, id, method string, params any, domain string) []byte {
	t.Helper()
	req := protocol.BridgeRequest{
		ID:     id,
		Method: method,
		Origin: protocol.Origin{Domain: domain, WebsiteName: "Example Dapp", LogoURL: "https://dapp.example/logo.png"},
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = b
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return raw
}

func signedRequest(t *testing.T, id, method string, params any, domain string) []byte {
	t.Helper()
	signed, err := auth.SignRequest(testSecret, buildRequest(t, id, method, params, domain))
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	return signed
}

func wantError(t *testing.T, resp protocol.BridgeResponse, code string) {
	t.Helper()
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected %s, got success with %+v", code, resp.Data)
	}
	if resp.Error.Code != code {
		t.Fatalf("error code = %s (%s), want %s", resp.Error.Code, resp.Error.Message, code)
	}
	if resp.Error.Status != statusByCode[code] {
		t.Errorf("status = %d, want %d", resp.Error.Status, statusByCode[code])
	}
}

func wantSuccess(t *testing.T, resp protocol.BridgeResponse) {
	t.Helper()
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
}

func encodeTxn(txn types.Transaction) string {
	return base64.StdEncoding.EncodeToString(msgpack.Encode(txn))
}

func paymentFrom(addr string, amount uint64) types.Transaction {
	sender, _ := types.DecodeAddress(addr)
	return types.Transaction{
		Type: types.PaymentTx,
		Header: types.Header{
			Sender:     sender,
			Fee:        1000,
			FirstValid: 1000,
			LastValid:  2000,
			GenesisID:  "testnet-v1.0",
		},
		PaymentTxnFields: types.PaymentTxnFields{Receiver: types.Address{7}, Amount: types.MicroAlgos(amount)},
	}
}

// connect trusts dappDomain and returns the wallet address.
func (h *harness) connect(t *testing.T) string {
	t.Helper()
	h.presenter.answer(confirm.Accept)
	resp := h.d.Handle(context.Background(), signedRequest(t, "c", protocol.MethodConnect, nil, dappDomain))
	wantSuccess(t, resp)
	h.presenter.answer("")
	return resp.Data.(protocol.ConnectResult).PublicKey
}

func TestScenarioA_BadSignatureNeverReachesWallet(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.connect(t)
	before := len(h.presenter.presented())

	params := protocol.SignTransactionParams{Transaction: encodeTxn(paymentFrom(addr, 5))}
	good := signedRequest(t, "a1", protocol.MethodSignTransaction, params, dappDomain)

	tampered := strings.Replace(string(good), dappDomain, "evil.example", 1)
	var wrongKey []byte
	{
		raw := buildRequest(t, "a1", protocol.MethodSignTransaction, params, dappDomain)
		var err error
		wrongKey, err = auth.SignRequest(strings.Repeat("ab", 32), raw)
		if err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"missing signature", buildRequest(t, "a1", protocol.MethodSignTransaction, params, dappDomain)},
		{"wrong secret", wrongKey},
		{"mutated origin", []byte(tampered)},
		{"garbage signature", []byte(strings.Replace(string(good), `"signature":"`, `"signature":"00`, 1))},
		{"not json", []byte("not json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.d.Handle(context.Background(), tt.raw)
			wantError(t, resp, CodeAuthenticationFailed)
		})
	}

	if got := len(h.presenter.presented()); got != before {
		t.Errorf("modals shown for unauthenticated requests: %d", got-before)
	}
	if _, _, batches := h.signer.calls(); batches != 0 {
		t.Errorf("wallet signed %d batches for unauthenticated requests", batches)
	}

	data, err := os.ReadFile(h.auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if got := strings.Count(string(data), string(AuditAuthFailed)); got != len(tests) {
		t.Errorf("audit AUTH_FAILED entries = %d, want %d", got, len(tests))
	}
}

func TestScenarioB_AllowlistedConnectSkipsModal(t *testing.T) {
	h := newHarness(t, harnessOptions{autoApprove: []string{
		protocol.MethodIsConnected, protocol.MethodDisconnect, protocol.MethodConnect,
	}})

	resp := h.d.Handle(context.Background(), signedRequest(t, "b1", protocol.MethodConnect, nil, dappDomain))
	wantSuccess(t, resp)

	if len(h.presenter.presented()) != 0 {
		t.Error("allowlisted connect showed a modal")
	}
	if authorized, _, _ := h.signer.calls(); authorized != 1 {
		t.Errorf("Authorize called %d times, want 1", authorized)
	}
	if got := resp.Data.(protocol.ConnectResult).PublicKey; got != h.signer.account.Address.String() {
		t.Errorf("publicKey = %s, want %s", got, h.signer.account.Address)
	}
	if resp.ID != "b1" {
		t.Errorf("response id = %q, want b1", resp.ID)
	}
	if !h.origins.IsTrusted(dappDomain) {
		t.Error("connected origin not trusted")
	}

	resp = h.d.Handle(context.Background(), signedRequest(t, "b2", protocol.MethodIsConnected, nil, dappDomain))
	wantSuccess(t, resp)
	if !resp.Data.(protocol.IsConnectedResult).Connected {
		t.Error("isConnected = false after connect")
	}
}

func TestConnectDefaultRequiresConfirmation(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	h.presenter.answer(confirm.Reject)
	resp := h.d.Handle(context.Background(), signedRequest(t, "c1", protocol.MethodConnect, nil, dappDomain))
	wantError(t, resp, CodeUserRejected)
	if authorized, _, _ := h.signer.calls(); authorized != 0 {
		t.Error("rejected connect reached the wallet")
	}
	if h.origins.IsTrusted(dappDomain) {
		t.Error("rejected connect trusted the origin")
	}

	h.presenter.answer(confirm.Accept)
	resp = h.d.Handle(context.Background(), signedRequest(t, "c2", protocol.MethodConnect, nil, dappDomain))
	wantSuccess(t, resp)

	tickets := h.presenter.presented()
	if len(tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(tickets))
	}
	if tickets[1].Kind != confirm.KindConnect || tickets[1].Origin.Domain != dappDomain {
		t.Errorf("ticket = %+v", tickets[1])
	}
}

func TestScenarioC_RejectedSignMessage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connect(t)

	h.presenter.answer(confirm.Reject)
	params := protocol.SignMessageParams{Message: "hello"}
	resp := h.d.Handle(context.Background(), signedRequest(t, "m1", protocol.MethodSignMessage, params, dappDomain))
	wantError(t, resp, CodeUserRejected)
	if resp.Error.Status != 4001 {
		t.Errorf("status = %d, want 4001", resp.Error.Status)
	}

	tickets := h.presenter.presented()
	last := tickets[len(tickets)-1]
	if last.Kind != confirm.KindSignMessage {
		t.Fatalf("kind = %s, want sign_message", last.Kind)
	}
	if last.Payload.Message != "hello" || last.Payload.Pretty {
		t.Errorf("payload = %q pretty=%v, want raw hello", last.Payload.Message, last.Payload.Pretty)
	}
	if _, messages, _ := h.signer.calls(); messages != 0 {
		t.Error("rejected signMessage reached the wallet")
	}
}

func TestSignMessageAccepted(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connect(t)
	h.presenter.answer(confirm.Accept)

	tests := []struct {
		name       string
		params     protocol.SignMessageParams
		signed     []byte
		wantPretty bool
	}{
		{"utf8 text", protocol.SignMessageParams{Message: "hello"}, []byte("hello"), false},
		{"json object", protocol.SignMessageParams{Message: `{"b":1,"a":[true]}`}, []byte(`{"b":1,"a":[true]}`), true},
		{"hex bytes", protocol.SignMessageParams{Message: "cafe", Encoding: EncodingHex}, []byte{0xca, 0xfe}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.d.Handle(context.Background(), signedRequest(t, "m", protocol.MethodSignMessage, tt.params, dappDomain))
			wantSuccess(t, resp)

			sig, err := base64.StdEncoding.DecodeString(resp.Data.(protocol.SignMessageResult).Signature)
			if err != nil {
				t.Fatalf("signature not base64: %v", err)
			}
			if !crypto.VerifyBytes(h.signer.account.PublicKey, tt.signed, sig) {
				t.Error("signature does not verify over the decoded message")
			}

			tickets := h.presenter.presented()
			if got := tickets[len(tickets)-1].Payload.Pretty; got != tt.wantPretty {
				t.Errorf("pretty = %v, want %v", got, tt.wantPretty)
			}
		})
	}
}

func TestScenarioD_SignAndSendBalanceChanges(t *testing.T) {
	tests := []struct {
		name     string
		decimals int
		want     string
	}{
		{"algorand exponent", 6, "-1"},
		{"nine decimal native exponent", 9, "-0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{nativeDecimals: tt.decimals})
			addr := h.connect(t)
			h.presenter.answer(confirm.Accept)

			txn := paymentFrom(addr, 1_000_000)
			params := protocol.SignAndSendParams{Transaction: encodeTxn(txn), WaitForConfirmation: true}
			resp := h.d.Handle(context.Background(), signedRequest(t, "d1", protocol.MethodSignAndSendTransaction, params, dappDomain))
			wantSuccess(t, resp)

			result := resp.Data.(protocol.SignAndSendResult)
			if result.Signature != crypto.GetTxID(txn) {
				t.Errorf("signature = %s, want txid %s", result.Signature, crypto.GetTxID(txn))
			}
			if result.ConfirmedRound != 42 {
				t.Errorf("confirmedRound = %d, want 42", result.ConfirmedRound)
			}
			if len(h.bcast.sent) != 1 || h.bcast.waits[0] != 4 {
				t.Errorf("broadcasts = %d waits = %v", len(h.bcast.sent), h.bcast.waits)
			}

			tickets := h.presenter.presented()
			ticket := tickets[len(tickets)-1]
			if ticket.Kind != confirm.KindSignAndSend || ticket.Payload.ActionType != protocol.ActionTypeSignAndSend {
				t.Fatalf("ticket kind=%s action=%s", ticket.Kind, ticket.Payload.ActionType)
			}
			changes := ticket.Payload.BalanceChanges
			if len(changes) != 1 {
				t.Fatalf("balance changes = %d, want 1: %+v", len(changes), changes)
			}
			c := changes[0]
			if c.Mint != balance.NativeMint || c.Owner != addr || c.AmountRaw != "-1000000" {
				t.Errorf("change = %+v", c)
			}
			if c.AmountNormalized != tt.want {
				t.Errorf("amountNormalized = %s, want %s", c.AmountNormalized, tt.want)
			}
			if !strings.Contains(ticket.Payload.Description, "Payment") {
				t.Errorf("description missing payment summary: %q", ticket.Payload.Description)
			}
		})
	}
}

func TestScenarioE_SecondConcurrentRequestAlreadyPending(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.connect(t)
	// Pending tickets stay open until resolved below
	h.presenter.answer("")

	params := protocol.SignTransactionParams{Transaction: encodeTxn(paymentFrom(addr, 10))}
	first := make(chan protocol.BridgeResponse, 1)
	go func() {
		first <- h.d.Handle(context.Background(), signedRequest(t, "e1", protocol.MethodSignTransaction, params, dappDomain))
	}()

	var ticket *confirm.Ticket
	for ticket == nil {
		select {
		case tk := <-h.presenter.shown:
			if tk.Kind == confirm.KindSignTransaction {
				ticket = tk
			}
		case <-time.After(2 * time.Second):
			t.Fatal("first request never reached the modal")
		}
	}

	second := h.d.Handle(context.Background(), signedRequest(t, "e2", protocol.MethodSignAllTransactions,
		protocol.SignAllTransactionsParams{Transactions: []string{params.Transaction}}, dappDomain))
	wantError(t, second, CodeAlreadyPending)

	if !h.broker.Resolve(ticket.ID, protocol.EventSignTxnModalClosed, confirm.Accept) {
		t.Fatal("Resolve returned false for the pending ticket")
	}
	select {
	case resp := <-first:
		wantSuccess(t, resp)
		if resp.ID != "e1" {
			t.Errorf("id = %q, want e1", resp.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first request did not complete")
	}
	if h.broker.Resolve(ticket.ID, protocol.EventSignTxnModalClosed, confirm.Reject) {
		t.Error("second resolution of a ticket succeeded")
	}
}

func TestSigningRequiresConnectedTrustedOrigin(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.presenter.answer(confirm.Accept)

	msg := protocol.SignMessageParams{Message: "hi"}
	resp := h.d.Handle(context.Background(), signedRequest(t, "n1", protocol.MethodSignMessage, msg, dappDomain))
	wantError(t, resp, CodeNotConnected)
	if len(h.presenter.presented()) != 0 {
		t.Error("modal shown while disconnected")
	}

	h.connect(t)
	h.presenter.answer(confirm.Accept)

	// Another origin sees neither the connection nor the wallet
	resp = h.d.Handle(context.Background(), signedRequest(t, "n2", protocol.MethodIsConnected, nil, "other.example"))
	wantSuccess(t, resp)
	if resp.Data.(protocol.IsConnectedResult).Connected {
		t.Error("untrusted origin observed a connected wallet")
	}
	resp = h.d.Handle(context.Background(), signedRequest(t, "n3", protocol.MethodSignMessage, msg, "other.example"))
	wantError(t, resp, CodeNotConnected)
}

func TestDispatcherRejectsBeforeConfirmation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	addr := h.connect(t)
	h.presenter.answer(confirm.Accept)
	shown := len(h.presenter.presented())

	tests := []struct {
		name   string
		method string
		params any
		code   string
	}{
		{"unknown method", "eth_sendTransaction", nil, CodeUnsupportedMethod},
		{"unknown param member", protocol.MethodSignMessage, map[string]any{"message": "x", "extra": 1}, CodeInvalidRequest},
		{"empty message", protocol.MethodSignMessage, protocol.SignMessageParams{}, CodeInvalidRequest},
		{"bad encoding", protocol.MethodSignMessage, protocol.SignMessageParams{Message: "x", Encoding: "base58"}, CodeInvalidRequest},
		{"bad hex", protocol.MethodSignMessage, protocol.SignMessageParams{Message: "zz", Encoding: EncodingHex}, CodeInvalidRequest},
		{"params not object", protocol.MethodConnect, []int{1}, CodeInvalidRequest},
		{"bad base64", protocol.MethodSignTransaction, protocol.SignTransactionParams{Transaction: "!!!"}, CodeInvalidRequest},
		{"not msgpack", protocol.MethodSignTransaction, protocol.SignTransactionParams{Transaction: base64.StdEncoding.EncodeToString([]byte("junk"))}, CodeInvalidRequest},
		{"empty group", protocol.MethodSignAllTransactions, protocol.SignAllTransactionsParams{}, CodeInvalidRequest},
		{"oversized group", protocol.MethodSignAllTransactions, protocol.SignAllTransactionsParams{
			Transactions: func() []string {
				out := make([]string, maxGroupSize+1)
				for i := range out {
					out[i] = encodeTxn(paymentFrom(addr, 1))
				}
				return out
			}(),
		}, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.d.Handle(context.Background(), signedRequest(t, "x", tt.method, tt.params, dappDomain))
			wantError(t, resp, tt.code)
		})
	}

	t.Run("missing origin", func(t *testing.T) {
		resp := h.d.Handle(context.Background(), signedRequest(t, "x", protocol.MethodIsConnected, nil, ""))
		wantError(t, resp, CodeInvalidRequest)
	})

	if got := len(h.presenter.presented()); got != shown {
		t.Errorf("invalid requests showed %d modals", got-shown)
	}
}

func TestCancelledPageAbandonsTicket(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan protocol.BridgeResponse, 1)
	go func() {
		done <- h.d.Handle(ctx, signedRequest(t, "q", protocol.MethodSignMessage, protocol.SignMessageParams{Message: "hi"}, dappDomain))
	}()

	var ticket *confirm.Ticket
	for ticket == nil {
		select {
		case tk := <-h.presenter.shown:
			if tk.Kind == confirm.KindSignMessage {
				ticket = tk
			}
		case <-time.After(2 * time.Second):
			t.Fatal("modal never shown")
		}
	}
	cancel()

	select {
	case resp := <-done:
		wantError(t, resp, CodeUserRejected)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request stayed suspended")
	}

	h.presenter.mu.Lock()
	dismissed := append([]string(nil), h.presenter.dismissed...)
	h.presenter.mu.Unlock()
	if len(dismissed) != 1 || dismissed[0] != ticket.ID {
		t.Errorf("dismissed = %v, want [%s]", dismissed, ticket.ID)
	}
	if h.broker.Pending() != 0 {
		t.Errorf("pending tickets = %d after abandonment", h.broker.Pending())
	}
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connect(t)

	// An origin that never connected cannot disconnect the wallet
	resp := h.d.Handle(context.Background(), signedRequest(t, "d0", protocol.MethodDisconnect, nil, "other.example"))
	wantSuccess(t, resp)
	if h.adapter.State() != wallet.StateConnected {
		t.Fatal("untrusted origin disconnected the wallet")
	}

	resp = h.d.Handle(context.Background(), signedRequest(t, "d1", protocol.MethodDisconnect, nil, dappDomain))
	wantSuccess(t, resp)
	if h.adapter.State() != wallet.StateDisconnected {
		t.Error("wallet still connected")
	}
	if h.origins.IsTrusted(dappDomain) {
		t.Error("origin still trusted after disconnect")
	}

	resp = h.d.Handle(context.Background(), signedRequest(t, "d2", protocol.MethodIsConnected, nil, dappDomain))
	wantSuccess(t, resp)
	if resp.Data.(protocol.IsConnectedResult).Connected {
		t.Error("isConnected = true after disconnect")
	}
}

func TestWalletFailuresMapToCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"declined in wallet", wallet.ErrUserDeclined, CodeUserRejected},
		{"transport failure", context.DeadlineExceeded, CodeSignTransactionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			addr := h.connect(t)
			h.presenter.answer(confirm.Accept)
			h.signer.signErr = tt.err

			params := protocol.SignAndSendParams{Transaction: encodeTxn(paymentFrom(addr, 1))}
			resp := h.d.Handle(context.Background(), signedRequest(t, "w", protocol.MethodSignAndSendTransaction, params, dappDomain))
			wantError(t, resp, tt.code)
			if len(h.bcast.sent) != 0 {
				t.Error("a transaction that failed to sign was broadcast")
			}
		})
	}
}

func TestNoConfirmationUI(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.presenter.mu.Lock()
	h.presenter.noClient = true
	h.presenter.mu.Unlock()

	resp := h.d.Handle(context.Background(), signedRequest(t, "u", protocol.MethodConnect, nil, dappDomain))
	wantError(t, resp, CodeInternalError)
	if authorized, _, _ := h.signer.calls(); authorized != 0 {
		t.Error("connect reached the wallet without confirmation")
	}
}

func TestRateLimitPerOrigin(t *testing.T) {
	h := newHarness(t, harnessOptions{limiter: NewRateLimiter(1, 2)})

	for i := 0; i < 2; i++ {
		resp := h.d.Handle(context.Background(), signedRequest(t, "r", protocol.MethodIsConnected, nil, dappDomain))
		wantSuccess(t, resp)
	}
	resp := h.d.Handle(context.Background(), signedRequest(t, "r", protocol.MethodIsConnected, nil, dappDomain))
	wantError(t, resp, CodeRateLimited)

	// Budgets are per origin
	resp = h.d.Handle(context.Background(), signedRequest(t, "r", protocol.MethodIsConnected, nil, "other.example"))
	wantSuccess(t, resp)
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connect(t)
	h.presenter.answer(confirm.Reject)
	h.d.Handle(context.Background(), signedRequest(t, "m", protocol.MethodSignMessage, protocol.SignMessageParams{Message: "x"}, dappDomain))
	h.d.Handle(context.Background(), []byte(`{"method":"connect"}`))
	h.d.Handle(context.Background(), signedRequest(t, "m", "bogus", nil, dappDomain))

	checks := []struct {
		method, outcome string
		want            float64
	}{
		{protocol.MethodConnect, "ok", 1},
		{protocol.MethodSignMessage, CodeUserRejected, 1},
		{protocol.MethodConnect, CodeAuthenticationFailed, 1},
		{"unknown", CodeUnsupportedMethod, 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(h.metrics.requests.WithLabelValues(c.method, c.outcome)); got != c.want {
			t.Errorf("requests{%s,%s} = %v, want %v", c.method, c.outcome, got, c.want)
		}
	}
	if got := testutil.ToFloat64(h.metrics.tickets.WithLabelValues(string(confirm.KindSignMessage), "rejected")); got != 1 {
		t.Errorf("rejected sign_message tickets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.tickets.WithLabelValues(string(confirm.KindConnect), "accepted")); got != 1 {
		t.Errorf("accepted connect tickets = %v, want 1", got)
	}
}
