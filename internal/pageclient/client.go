// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package pageclient plays the page side of the bridge: it signs requests with
// the bridge secret and exchanges them over the WebSocket or HTTP channel.
package pageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aplane-algo/apbridge/internal/auth"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/version"
)

var userAgent = version.UserAgent("apdapp")

// ErrClosed is returned for calls on a closed or dropped connection
var ErrClosed = errors.New("page channel closed")

// Caller sends one request and waits for its response
type Caller interface {
	Call(ctx context.Context, method string, params any) (protocol.BridgeResponse, error)
}

// signer builds and signs bridge requests for one claimed origin
type signer struct {
	secret   string
	originMu sync.Mutex
	origin   protocol.Origin
}

func (s *signer) setOrigin(o protocol.Origin) {
	s.originMu.Lock()
	defer s.originMu.Unlock()
	s.origin = o
}

func (s *signer) currentOrigin() protocol.Origin {
	s.originMu.Lock()
	defer s.originMu.Unlock()
	return s.origin
}

func (s *signer) build(method string, params any) (string, []byte, error) {
	req := protocol.BridgeRequest{
		ID:     uuid.NewString(),
		Method: method,
		Origin: s.currentOrigin(),
	}
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = p
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	signed, err := auth.SignRequest(s.secret, raw)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return req.ID, signed, nil
}

// WSClient multiplexes requests over one WebSocket. Responses are matched by id.
type WSClient struct {
	signer
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.BridgeResponse
	closed  bool
	done    chan struct{}
}

// DialWS connects to url (ws://host/bridge/ws). browserOrigin, when set, is
// sent as the Origin header.
func DialWS(ctx context.Context, url, secret string, origin protocol.Origin, browserOrigin string) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{"User-Agent": []string{userAgent}}
	if browserOrigin != "" {
		header.Set("Origin", browserOrigin)
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge: %w", err)
	}

	c := &WSClient{
		signer:  signer{secret: secret, origin: origin},
		conn:    conn,
		pending: make(map[string]chan protocol.BridgeResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SetOrigin changes the origin claimed by later requests.
func (c *WSClient) SetOrigin(o protocol.Origin) { c.setOrigin(o) }

// Origin returns the origin claimed by requests.
func (c *WSClient) Origin() protocol.Origin { return c.currentOrigin() }

// Call signs and sends one request and waits for its response or ctx.
func (c *WSClient) Call(ctx context.Context, method string, params any) (protocol.BridgeResponse, error) {
	id, raw, err := c.build(method, params)
	if err != nil {
		return protocol.BridgeResponse{}, err
	}

	ch := make(chan protocol.BridgeResponse, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.BridgeResponse{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return protocol.BridgeResponse{}, ErrClosed
	case <-ctx.Done():
		return protocol.BridgeResponse{}, ctx.Err()
	}
}

func (c *WSClient) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.Debug("bridge connection lost", "error", err)
			}
			return
		}
		var resp protocol.BridgeResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			util.Debug("undecodable bridge response", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			util.Debug("response for unknown request", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Close closes the WebSocket. Outstanding calls return ErrClosed and the
// bridge abandons any confirmation they wait on.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.shutdown()
	return err
}

// HTTPClient sends each request as one POST.
type HTTPClient struct {
	signer
	url  string
	http *http.Client
}

// NewHTTPClient creates a client for url (http://host/bridge).
func NewHTTPClient(url, secret string, origin protocol.Origin) *HTTPClient {
	return &HTTPClient{
		signer: signer{secret: secret, origin: origin},
		url:    url,
		http:   &http.Client{},
	}
}

// SetOrigin changes the origin claimed by later requests.
func (c *HTTPClient) SetOrigin(o protocol.Origin) { c.setOrigin(o) }

// Origin returns the origin claimed by requests.
func (c *HTTPClient) Origin() protocol.Origin { return c.currentOrigin() }

// Call posts one signed request and decodes the response.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (protocol.BridgeResponse, error) {
	_, raw, err := c.build(method, params)
	if err != nil {
		return protocol.BridgeResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return protocol.BridgeResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	var out protocol.BridgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("bridge returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return out, nil
}

// Compile-time interface checks
var (
	_ Caller = (*WSClient)(nil)
	_ Caller = (*HTTPClient)(nil)
)
