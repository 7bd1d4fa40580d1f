// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package bridge serves page requests: it authenticates them, validates their
// params, consults the permission gate, obtains confirmation when required and
// executes them against the wallet adapter.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aplane-algo/apbridge/internal/auth"
	"github.com/aplane-algo/apbridge/internal/balance"
	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/permission"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

// Options wires a Dispatcher to its collaborators.
// Limiter, Audit and Metrics are optional.
type Options struct {
	Authenticator auth.RequestAuthenticator
	Gate          *permission.Gate
	Origins       *permission.TrustedOrigins
	Broker        *confirm.Broker
	Adapter       *wallet.Adapter
	Analyzer      *balance.Analyzer
	Broadcaster   wallet.Broadcaster
	WaitRounds    uint64

	Limiter *RateLimiter
	Audit   *AuditLogger
	Metrics *Metrics
}

// Dispatcher runs the request pipeline for every page channel
type Dispatcher struct {
	authenticator auth.RequestAuthenticator
	gate          *permission.Gate
	origins       *permission.TrustedOrigins
	broker        *confirm.Broker
	adapter       *wallet.Adapter
	analyzer      *balance.Analyzer
	broadcaster   wallet.Broadcaster
	waitRounds    uint64

	limiter *RateLimiter
	audit   *AuditLogger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher and registers it as the broker's observer.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Authenticator == nil:
		return nil, errors.New("dispatcher requires an authenticator")
	case opts.Gate == nil:
		return nil, errors.New("dispatcher requires a permission gate")
	case opts.Origins == nil:
		return nil, errors.New("dispatcher requires a trusted origin store")
	case opts.Broker == nil:
		return nil, errors.New("dispatcher requires a confirmation broker")
	case opts.Adapter == nil:
		return nil, errors.New("dispatcher requires a wallet adapter")
	case opts.Analyzer == nil:
		return nil, errors.New("dispatcher requires a balance analyzer")
	}

	d := &Dispatcher{
		authenticator: opts.Authenticator,
		gate:          opts.Gate,
		origins:       opts.Origins,
		broker:        opts.Broker,
		adapter:       opts.Adapter,
		analyzer:      opts.Analyzer,
		broadcaster:   opts.Broadcaster,
		waitRounds:    opts.WaitRounds,
		limiter:       opts.Limiter,
		audit:         opts.Audit,
		metrics:       opts.Metrics,
	}
	d.broker.SetObserver(d.observeTicket)
	d.metrics.TrackPending(d.broker.Pending)
	return d, nil
}

type remoteKey struct{}

// WithRemoteAddr tags ctx with the page channel peer, used for audit entries.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteKey{}).(string)
	return addr
}

// Handle processes one raw page request and returns its terminal response.
// Cancelling ctx abandons any confirmation the request is waiting on.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) protocol.BridgeResponse {
	start := time.Now()
	req, data, err := d.process(ctx, raw)

	id, method, domain := peekEnvelope(raw)
	if req != nil {
		id, method, domain = req.ID, req.Method, req.Origin.Domain
	}
	if !methods.Has(method) {
		method = "unknown"
	}

	if err != nil {
		resp := errorResponse(id, err)
		d.metrics.ObserveRequest(method, resp.Error.Code)
		util.Logger.Infow("bridge request failed",
			"method", method, "origin", domain, "code", resp.Error.Code,
			"error", err, "elapsed", time.Since(start))
		return resp
	}

	d.metrics.ObserveRequest(method, "ok")
	util.Debug("bridge request completed", "method", method, "origin", domain, "elapsed", time.Since(start))
	return protocol.BridgeResponse{ID: id, Success: true, Data: data}
}

// process runs authenticate, parse, schema, gate, confirm and execute, in that order.
func (d *Dispatcher) process(ctx context.Context, raw []byte) (*protocol.BridgeRequest, any, error) {
	if err := d.authenticator.Authenticate(ctx, raw); err != nil {
		_, _, claimed := peekEnvelope(raw)
		d.audit.LogAuthFailed(claimed, remoteAddr(ctx), err.Error())
		return nil, nil, err
	}

	var req protocol.BridgeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Method == "" {
		return &req, nil, fmt.Errorf("%w: method is required", ErrMalformedRequest)
	}
	if req.Origin.Domain == "" {
		return &req, nil, fmt.Errorf("%w: origin domain is required", ErrMalformedRequest)
	}
	ctx = auth.ContextWithOrigin(ctx, req.Origin)

	if !d.limiter.Allow(req.Origin.Domain) {
		d.audit.LogRateLimited(req.Origin.Domain, req.Method)
		return &req, nil, ErrRateLimited
	}

	spec, ok := methods.Lookup(req.Method)
	if !ok {
		return &req, nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}
	c, err := spec.parse(req.Params)
	if err != nil {
		return &req, nil, err
	}
	c.method = req.Method

	// Pages that never connected see the same answer whether or not a wallet exists.
	if spec.needsConnection && !d.connectedFor(req.Origin) {
		return &req, nil, &wallet.Error{Op: req.Method, Kind: wallet.KindNotConnected, Err: wallet.ErrNotConnected}
	}

	if d.gate.RequiresApproval(req.Method) {
		if err := d.confirm(ctx, spec.kind, req.Origin, c); err != nil {
			return &req, nil, err
		}
	}

	data, err := d.execute(ctx, req.Origin, c)
	return &req, data, err
}

// confirm blocks until the user decides on the request.
func (d *Dispatcher) confirm(ctx context.Context, kind confirm.Kind, origin protocol.Origin, c *call) error {
	payload := d.payload(ctx, kind, c)
	decision, err := d.broker.Request(ctx, kind, origin, payload)
	if err != nil {
		return err
	}
	if !decision.Accepted() {
		return fmt.Errorf("%w (%s)", ErrRejected, decision.Reason)
	}
	return nil
}

// payload builds what the modal shows for c.
func (d *Dispatcher) payload(ctx context.Context, kind confirm.Kind, c *call) confirm.Payload {
	switch kind {
	case confirm.KindSignMessage:
		return confirm.Payload{Message: c.display, Pretty: c.pretty}
	case confirm.KindSignTransaction, confirm.KindSignAndSend:
		owner := d.adapter.Handle().PublicKey
		action := protocol.ActionTypeSign
		if kind == confirm.KindSignAndSend {
			action = protocol.ActionTypeSignAndSend
		}
		return confirm.Payload{
			ActionType:     action,
			TxnCount:       len(c.txns),
			BalanceChanges: balance.Views(d.analyzer.Analyze(ctx, c.txns, owner)),
			Description:    d.analyzer.Describe(c.txns),
		}
	default:
		return confirm.Payload{Description: connectDescriptions[c.method]}
	}
}

var connectDescriptions = map[string]string{
	protocol.MethodConnect:     "Connect your wallet and share its address",
	protocol.MethodIsConnected: "Reveal whether a wallet is connected",
	protocol.MethodDisconnect:  "Disconnect your wallet",
}

// connectedFor reports whether the wallet is connected and origin completed a connect.
func (d *Dispatcher) connectedFor(origin protocol.Origin) bool {
	return d.adapter.State() == wallet.StateConnected && d.origins.IsTrusted(origin.Domain)
}

// execute invokes the wallet adapter for an authenticated, approved call.
func (d *Dispatcher) execute(ctx context.Context, origin protocol.Origin, c *call) (any, error) {
	switch c.method {
	case protocol.MethodIsConnected:
		return protocol.IsConnectedResult{Connected: d.connectedFor(origin)}, nil

	case protocol.MethodConnect:
		h, err := d.adapter.Connect(ctx)
		if err != nil {
			d.audit.LogOperationFailed(origin.Domain, c.method, err.Error())
			return nil, err
		}
		if err := d.origins.Trust(origin.Domain, origin.WebsiteName); err != nil {
			util.Logger.Warnw("failed to persist trusted origin", "origin", origin.Domain, "error", err)
		}
		d.audit.LogOriginTrusted(origin.Domain)
		d.audit.LogWalletConnected(origin.Domain, h.PublicKey, string(h.Backend))
		return protocol.ConnectResult{PublicKey: h.PublicKey}, nil

	case protocol.MethodDisconnect:
		revoked, err := d.origins.Revoke(origin.Domain)
		if err != nil {
			util.Logger.Warnw("failed to persist origin revocation", "origin", origin.Domain, "error", err)
		}
		// An origin that never connected cannot disconnect the wallet from others.
		if revoked {
			d.audit.LogOriginRevoked(origin.Domain)
			if err := d.adapter.Disconnect(ctx); err != nil {
				return nil, err
			}
			d.audit.LogWalletDisconnected(origin.Domain)
		}
		return struct{}{}, nil

	case protocol.MethodSignMessage:
		sig, err := d.adapter.SignMessage(ctx, c.message)
		if err != nil {
			d.audit.LogOperationFailed(origin.Domain, c.method, err.Error())
			return nil, err
		}
		d.audit.LogMessageSigned(origin.Domain, d.adapter.Handle().PublicKey)
		return protocol.SignMessageResult{Signature: base64.StdEncoding.EncodeToString(sig)}, nil

	case protocol.MethodSignTransaction:
		signed, err := d.adapter.SignTransaction(ctx, c.txns[0])
		if err != nil {
			d.audit.LogOperationFailed(origin.Domain, c.method, err.Error())
			return nil, err
		}
		d.audit.LogTxnSigned(origin.Domain, d.adapter.Handle().PublicKey, 1)
		return protocol.SignTransactionResult{SignedTransaction: base64.StdEncoding.EncodeToString(signed)}, nil

	case protocol.MethodSignAllTransactions:
		signed, err := d.adapter.SignAllTransactions(ctx, c.txns)
		if err != nil {
			d.audit.LogOperationFailed(origin.Domain, c.method, err.Error())
			return nil, err
		}
		out := make([]string, len(signed))
		for i, stx := range signed {
			out[i] = base64.StdEncoding.EncodeToString(stx)
		}
		d.audit.LogTxnSigned(origin.Domain, d.adapter.Handle().PublicKey, len(signed))
		return protocol.SignAllTransactionsResult{SignedTransactions: out}, nil

	case protocol.MethodSignAndSendTransaction:
		if d.broadcaster == nil {
			return nil, &wallet.Error{Op: c.method, Kind: wallet.KindSendFailed, Err: errors.New("no algod client configured")}
		}
		var wait uint64
		if c.wait {
			wait = d.waitRounds
		}
		res, err := d.adapter.SignAndSendTransaction(ctx, c.txns[0], d.broadcaster, wait)
		if err != nil {
			d.audit.LogOperationFailed(origin.Domain, c.method, err.Error())
			return nil, err
		}
		d.audit.LogTxnSent(origin.Domain, d.adapter.Handle().PublicKey, res.TxID)
		return protocol.SignAndSendResult{Signature: res.TxID, ConfirmedRound: res.ConfirmedRound}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, c.method)
}

// observeTicket records every terminal ticket state.
func (d *Dispatcher) observeTicket(t *confirm.Ticket, dec confirm.Decision, waited time.Duration) {
	resolution := "abandoned"
	switch {
	case dec.Accepted():
		resolution = "accepted"
	case dec.Reason == confirm.ReasonUser:
		resolution = "rejected"
	}
	d.metrics.ObserveTicket(string(t.Kind), resolution, waited)
	d.audit.LogTicketResolved(t.ID, string(t.Kind), t.Origin.Domain, dec.Accepted(), dec.Reason)
	util.Logger.Infow("ticket resolved",
		"id", t.ID, "kind", t.Kind, "origin", t.Origin.Domain,
		"resolution", resolution, "reason", dec.Reason, "waited", waited)
}

// peekEnvelope reads id, method and claimed origin without trusting the request.
func peekEnvelope(raw []byte) (id, method, domain string) {
	var envelope struct {
		ID     string `json:"id"`
		Method string `json:"method"`
		Origin struct {
			Domain string `json:"domain"`
		} `json:"origin"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", "", ""
	}
	return envelope.ID, envelope.Method, envelope.Origin.Domain
}
