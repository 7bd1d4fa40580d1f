// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gorilla/websocket"
)

// External wallet JSON-RPC methods
const (
	RPCAuthorize        = "authorize"
	RPCDeauthorize      = "deauthorize"
	RPCSignTransactions = "signTransactions"
	RPCSignMessages     = "signMessages"
)

// CodeUserDeclined is the wallet error code for USER_DECLINED
const CodeUserDeclined = 4001

// AppIdentity is how the bridge introduces itself to a wallet app
type AppIdentity struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Icon string `json:"icon"`
}

// RPCError is a JSON-RPC error object returned by the wallet
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Wire shapes of the external wallet protocol
type (
	AuthorizeParams struct {
		Identity  AppIdentity `json:"identity"`
		AuthToken string      `json:"auth_token,omitempty"`
	}

	AuthorizedAccount struct {
		Address   string `json:"address"`
		PublicKey string `json:"public_key,omitempty"` // base64
		Label     string `json:"label,omitempty"`
	}

	AuthorizeResult struct {
		Accounts   []AuthorizedAccount `json:"accounts"`
		AuthToken  string              `json:"auth_token"`
		WalletName string              `json:"wallet_name,omitempty"`
	}

	DeauthorizeParams struct {
		AuthToken string `json:"auth_token"`
	}

	SignTransactionsParams struct {
		AuthToken string   `json:"auth_token"`
		Payloads  []string `json:"payloads"` // base64 msgpack unsigned transactions
	}

	SignMessagesParams struct {
		AuthToken string   `json:"auth_token"`
		Addresses []string `json:"addresses"`
		Payloads  []string `json:"payloads"` // base64 message bytes
	}

	SignedPayloadsResult struct {
		SignedPayloads []string `json:"signed_payloads"` // base64
	}
)

// ExternalSigner delegates to a wallet app reachable over a WebSocket JSON-RPC session.
// Calls are serialised; each round trip is bounded by the configured timeout.
type ExternalSigner struct {
	url      string
	identity AppIdentity
	timeout  time.Duration
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	authToken string
	account   Account
	nextID    int64
}

// NewExternalSigner creates a signer for the wallet app at url.
func NewExternalSigner(url string, identity AppIdentity, timeout time.Duration) *ExternalSigner {
	return &ExternalSigner{
		url:      url,
		identity: identity,
		timeout:  timeout,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Backend returns BackendExternal.
func (x *ExternalSigner) Backend() Backend {
	return BackendExternal
}

// Authorize opens a session and asks the wallet for an account.
func (x *ExternalSigner) Authorize(ctx context.Context) (Account, error) {
	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	x.mu.Lock()
	defer x.mu.Unlock()

	x.closeLocked()
	conn, _, err := x.dialer.DialContext(ctx, x.url, nil)
	if err != nil {
		return Account{}, fmt.Errorf("failed to reach wallet at %s: %w", x.url, err)
	}
	x.conn = conn

	var res AuthorizeResult
	if err := x.callLocked(ctx, RPCAuthorize, AuthorizeParams{Identity: x.identity}, &res); err != nil {
		x.closeLocked()
		return Account{}, err
	}
	if len(res.Accounts) == 0 {
		x.closeLocked()
		return Account{}, errors.New("wallet authorized no accounts")
	}

	first := res.Accounts[0]
	var pk []byte
	if first.PublicKey != "" {
		pk, err = base64.StdEncoding.DecodeString(first.PublicKey)
		if err != nil {
			x.closeLocked()
			return Account{}, fmt.Errorf("wallet returned malformed public key: %w", err)
		}
	}
	account, err := ValidateAccount(first.Address, pk)
	if err != nil {
		x.closeLocked()
		return Account{}, err
	}

	x.authToken = res.AuthToken
	x.account = account
	return account, nil
}

// Deauthorize revokes the session token and closes the connection.
func (x *ExternalSigner) Deauthorize(ctx context.Context) error {
	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return nil
	}

	err := x.callLocked(ctx, RPCDeauthorize, DeauthorizeParams{AuthToken: x.authToken}, nil)
	x.closeLocked()
	return err
}

// SignMessages asks the wallet to sign each message for the authorized account.
func (x *ExternalSigner) SignMessages(ctx context.Context, messages [][]byte) ([][]byte, error) {
	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return nil, ErrNotConnected
	}

	params := SignMessagesParams{AuthToken: x.authToken, Addresses: []string{x.account.Address}}
	for _, m := range messages {
		params.Payloads = append(params.Payloads, base64.StdEncoding.EncodeToString(m))
	}

	var res SignedPayloadsResult
	if err := x.callLocked(ctx, RPCSignMessages, params, &res); err != nil {
		return nil, err
	}
	return decodePayloads(res.SignedPayloads, len(messages))
}

// SignTransactions asks the wallet to sign a batch.
func (x *ExternalSigner) SignTransactions(ctx context.Context, txns []types.Transaction) ([][]byte, error) {
	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return nil, ErrNotConnected
	}

	params := SignTransactionsParams{AuthToken: x.authToken}
	for _, txn := range txns {
		params.Payloads = append(params.Payloads, base64.StdEncoding.EncodeToString(msgpack.Encode(txn)))
	}

	var res SignedPayloadsResult
	if err := x.callLocked(ctx, RPCSignTransactions, params, &res); err != nil {
		return nil, err
	}
	return decodePayloads(res.SignedPayloads, len(txns))
}

func (x *ExternalSigner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if x.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, x.timeout)
}

// callLocked performs one JSON-RPC round trip. A transport failure closes the
// session, so the next operation needs a fresh authorize. Caller holds x.mu.
func (x *ExternalSigner) callLocked(ctx context.Context, method string, params, result any) error {
	x.nextID++
	id := x.nextID
	conn := x.conn

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		x.closeLocked()
		return fmt.Errorf("failed to send %s: %w: %w", method, ErrSessionLost, err)
	}

	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			x.closeLocked()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s: %w: %w", method, ErrSessionLost, ctxErr)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%s: %w: %w", method, ErrSessionLost, context.DeadlineExceeded)
			}
			return fmt.Errorf("failed to read %s response: %w: %w", method, ErrSessionLost, err)
		}
		if resp.ID != id {
			// Stale reply to an earlier, abandoned call
			continue
		}
		if resp.Error != nil {
			if resp.Error.Code == CodeUserDeclined {
				return fmt.Errorf("%w: %s", ErrUserDeclined, resp.Error.Message)
			}
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("malformed %s result: %w", method, err)
		}
		return nil
	}
}

func (x *ExternalSigner) closeLocked() {
	if x.conn != nil {
		_ = x.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = x.conn.Close()
		x.conn = nil
	}
	x.authToken = ""
	x.account = Account{}
}

func decodePayloads(payloads []string, want int) ([][]byte, error) {
	if len(payloads) != want {
		return nil, fmt.Errorf("wallet returned %d payloads, expected %d", len(payloads), want)
	}
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("payload %d is not base64: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

var _ Signer = (*ExternalSigner)(nil)
