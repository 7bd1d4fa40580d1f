// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aplane-algo/apbridge/internal/pagechan"
	"github.com/aplane-algo/apbridge/internal/protocol"
)

func readResponses(t *testing.T, buf *bytes.Buffer) map[string]protocol.BridgeResponse {
	t.Helper()
	out := make(map[string]protocol.BridgeResponse)
	for buf.Len() > 0 {
		raw, err := pagechan.Read(buf)
		if err != nil {
			t.Fatalf("read response frame: %v", err)
		}
		var resp protocol.BridgeResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		out[resp.ID] = resp
	}
	return out
}

func TestServeNativeMessaging(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var in bytes.Buffer
	for _, id := range []string{"s1", "s2"} {
		if err := pagechan.Write(&in, json.RawMessage(signedRequest(t, id, protocol.MethodIsConnected, nil, dappDomain))); err != nil {
			t.Fatal(err)
		}
	}
	if err := pagechan.Write(&in, json.RawMessage(buildRequest(t, "s3", protocol.MethodIsConnected, nil, dappDomain))); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := ServeNativeMessaging(context.Background(), h.d, &in, &out); err != nil {
		t.Fatalf("ServeNativeMessaging: %v", err)
	}

	responses := readResponses(t, &out)
	if len(responses) != 3 {
		t.Fatalf("responses = %d, want 3", len(responses))
	}
	for _, id := range []string{"s1", "s2"} {
		if !responses[id].Success {
			t.Errorf("%s failed: %+v", id, responses[id].Error)
		}
	}
	if r := responses["s3"]; r.Success || r.Error.Code != CodeAuthenticationFailed {
		t.Errorf("unsigned request = %+v", r)
	}
}

func TestServeNativeMessagingBadFrame(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	in := bytes.NewBuffer([]byte{0, 0, 0, 0})
	var out bytes.Buffer
	err := ServeNativeMessaging(context.Background(), h.d, in, &out)
	if !errors.Is(err, pagechan.ErrEmptyMessage) {
		t.Fatalf("error = %v, want ErrEmptyMessage", err)
	}

	responses := readResponses(t, &out)
	if r, ok := responses[""]; !ok || r.Error.Code != CodeInvalidRequest {
		t.Errorf("bad frame response = %+v", responses)
	}
}

func TestServeNativeMessagingStopsOnCancel(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	// The browser keeps stdin open and sends nothing
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		done <- ServeNativeMessaging(ctx, h.d, pr, &out)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeNativeMessaging: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("native messaging did not stop while stdin stayed open")
	}
}
