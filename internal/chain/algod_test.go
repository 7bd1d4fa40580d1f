// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package chain

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeAlgod(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/assets/31566704", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"index":31566704,"params":{"creator":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAY5HFKQ","decimals":6,"total":18446744073709551615,"name":"USDC","unit-name":"USDC","url":"https://www.centre.io/usdc"}}`)
	})
	mux.HandleFunc("/v2/assets/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"asset does not exist"}`)
	})
	mux.HandleFunc("/v2/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"message":"empty transaction"}`)
			return
		}
		_, _ = io.WriteString(w, `{"txId":"TXID123"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupAsset(t *testing.T) {
	srv := newFakeAlgod(t)
	c, err := NewAlgodClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewAlgodClient failed: %v", err)
	}

	asset, err := c.LookupAsset(context.Background(), 31566704)
	if err != nil {
		t.Fatalf("LookupAsset failed: %v", err)
	}
	if asset.Decimals != 6 || asset.Name != "USDC" || asset.UnitName != "USDC" {
		t.Errorf("unexpected asset: %+v", asset)
	}
	if asset.DisplayName() != "USDC" {
		t.Errorf("DisplayName = %q", asset.DisplayName())
	}

	if _, err := c.LookupAsset(context.Background(), 42); err == nil {
		t.Error("expected error for unknown asset")
	}
}

func TestBroadcast_NoWait(t *testing.T) {
	srv := newFakeAlgod(t)
	c, _ := NewAlgodClient(srv.URL, "")

	res, err := c.Broadcast(context.Background(), []byte{0x81, 0xa3}, 0)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if res.TxID != "TXID123" || res.ConfirmedRound != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestAssetDisplayName(t *testing.T) {
	tests := []struct {
		asset Asset
		want  string
	}{
		{Asset{ID: 1, Name: "Gold", UnitName: "GLD"}, "Gold"},
		{Asset{ID: 2, UnitName: "GLD"}, "GLD"},
		{Asset{ID: 3}, "ASA 3"},
	}
	for _, tt := range tests {
		if got := tt.asset.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.asset, got, tt.want)
		}
	}
}
