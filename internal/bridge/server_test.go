// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/protocol"
)

func newTestServer(t *testing.T, h *harness, cfg ServerConfig) *httptest.Server {
	t.Helper()
	s := NewServer(cfg, h.d, h.metrics)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.CloseConnections()
		ts.Close()
	})
	return ts
}

func postRequest(t *testing.T, url string, body []byte, origin string) (*http.Response, protocol.BridgeResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/bridge", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /bridge: %v", err)
	}
	defer resp.Body.Close()

	var out protocol.BridgeResponse
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusForbidden {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
	}
	return resp, out
}

func TestServerHealth(t *testing.T) {
	ts := newTestServer(t, newHarness(t, harnessOptions{}), ServerConfig{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["service"] != "apbridge" {
		t.Errorf("health = %v", body)
	}
}

func TestServerPost(t *testing.T) {
	h := newHarness(t, harnessOptions{autoApprove: []string{
		protocol.MethodIsConnected, protocol.MethodDisconnect, protocol.MethodConnect,
	}})
	ts := newTestServer(t, h, ServerConfig{AllowedOrigins: []string{"https://dapp.example"}})

	tests := []struct {
		name       string
		body       []byte
		origin     string
		wantStatus int
		wantCode   string
	}{
		{"signed connect", signedRequest(t, "p1", protocol.MethodConnect, nil, dappDomain), "https://dapp.example", http.StatusOK, ""},
		{"unsigned", buildRequest(t, "p2", protocol.MethodConnect, nil, dappDomain), "", http.StatusUnauthorized, CodeAuthenticationFailed},
		{"unknown method", signedRequest(t, "p3", "nope", nil, dappDomain), "", http.StatusOK, CodeUnsupportedMethod},
		{"foreign browser origin", signedRequest(t, "p4", protocol.MethodIsConnected, nil, dappDomain), "https://evil.example", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postRequest(t, ts.URL, tt.body, tt.origin)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				return
			}
			if tt.wantCode == "" {
				wantSuccess(t, out)
			} else {
				wantError(t, out, tt.wantCode)
			}
		})
	}
}

func TestServerCORSPreflight(t *testing.T) {
	ts := newTestServer(t, newHarness(t, harnessOptions{}), ServerConfig{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/bridge", nil)
	req.Header.Set("Origin", "https://Dapp.Example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://dapp.example" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestServerWebSocket(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ts := newTestServer(t, h, ServerConfig{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bridge/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Connect waits on the modal while isConnected answers immediately
	if err := conn.WriteMessage(websocket.TextMessage, signedRequest(t, "w1", protocol.MethodConnect, nil, dappDomain)); err != nil {
		t.Fatal(err)
	}
	var ticket *confirm.Ticket
	select {
	case ticket = <-h.presenter.shown:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never reached the modal")
	}
	if err := conn.WriteMessage(websocket.TextMessage, signedRequest(t, "w2", protocol.MethodIsConnected, nil, dappDomain)); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first protocol.BridgeResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.ID != "w2" || !first.Success {
		t.Fatalf("first response = %+v, want w2", first)
	}

	h.broker.Resolve(ticket.ID, protocol.EventConnectModalClosed, confirm.Accept)
	var second protocol.BridgeResponse
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if second.ID != "w1" || !second.Success {
		t.Fatalf("second response = %+v, want w1 success", second)
	}
}

func TestServerWebSocketCloseAbandonsTickets(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ts := newTestServer(t, h, ServerConfig{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bridge/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, signedRequest(t, "w1", protocol.MethodConnect, nil, dappDomain)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.presenter.shown:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never reached the modal")
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.broker.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticket still pending after the page went away")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerWebSocketRejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ts := newTestServer(t, h, ServerConfig{AllowedOrigins: []string{"https://dapp.example"}})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bridge/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ts := newTestServer(t, h, ServerConfig{ExposeMetrics: true})
	postRequest(t, ts.URL, signedRequest(t, "m", protocol.MethodIsConnected, nil, dappDomain), "")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `apbridge_page_requests_total{method="isConnected",outcome="ok"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestLoopbackGuard(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"127.0.0.1:8550", true},
		{"localhost:8550", true},
		{"[::1]:8550", true},
		{"evil.example:8550", false},
		{"192.168.1.5", false},
	}
	for _, tt := range tests {
		if got := isSafeLocalHost(tt.host); got != tt.want {
			t.Errorf("isSafeLocalHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}

	if got := normalizeOrigin("HTTPS://Dapp.Example/path"); got != "https://dapp.example" {
		t.Errorf("normalizeOrigin = %q", got)
	}
	if got := normalizeOrigin("dapp.example"); got != "" {
		t.Errorf("normalizeOrigin without scheme = %q, want empty", got)
	}
}
