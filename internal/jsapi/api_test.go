// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package jsapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/dop251/goja"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

type sentCall struct {
	method string
	params string
}

// scriptedBridge answers each method with a fixed response
type scriptedBridge struct {
	origin    protocol.Origin
	responses map[string]protocol.BridgeResponse
	calls     []sentCall
}

func (b *scriptedBridge) Call(ctx context.Context, method string, params any) (protocol.BridgeResponse, error) {
	p, _ := json.Marshal(params)
	b.calls = append(b.calls, sentCall{method, string(p)})
	resp, ok := b.responses[method]
	if !ok {
		return protocol.BridgeResponse{Error: &protocol.BridgeError{Code: "UNSUPPORTED_METHOD", Status: 4200, Message: "nope"}}, nil
	}
	return resp, nil
}

func (b *scriptedBridge) SetOrigin(o protocol.Origin) { b.origin = o }
func (b *scriptedBridge) Origin() protocol.Origin     { return b.origin }

func newVM(t *testing.T, b *scriptedBridge) (*goja.Runtime, *[]string) {
	t.Helper()
	var out []string
	vm := goja.New()
	api := NewAPI(b, false, func(s string) { out = append(out, s) })
	if err := api.RegisterAll(vm); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return vm, &out
}

func ok(data any) protocol.BridgeResponse {
	return protocol.BridgeResponse{Success: true, Data: data}
}

func TestBridgeFunctions(t *testing.T) {
	b := &scriptedBridge{responses: map[string]protocol.BridgeResponse{
		protocol.MethodConnect:     ok(protocol.ConnectResult{PublicKey: "ADDR"}),
		protocol.MethodIsConnected: ok(map[string]any{"connected": true}),
		protocol.MethodSignMessage: ok(protocol.SignMessageResult{Signature: "c2ln"}),
		protocol.MethodSignAndSendTransaction: ok(protocol.SignAndSendResult{
			Signature: "TXID", ConfirmedRound: 7,
		}),
	}}
	vm, out := newVM(t, b)

	tests := []struct {
		script string
		want   string
	}{
		{`connect()`, "ADDR"},
		{`isConnected()`, "true"},
		{`signMessage("cafe", "hex")`, "c2ln"},
		{`signAndSend("AAAA", true).signature`, "TXID"},
		{`signAndSend("AAAA", true).confirmedRound`, "7"},
		{`request("bogus").error.code`, "UNSUPPORTED_METHOD"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			v, err := vm.RunString(tt.script)
			if err != nil {
				t.Fatalf("RunString: %v", err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.script, got, tt.want)
			}
		})
	}

	var sign sentCall
	for _, c := range b.calls {
		if c.method == protocol.MethodSignMessage {
			sign = c
		}
	}
	if sign.params != `{"message":"cafe","encoding":"hex"}` {
		t.Errorf("signMessage params = %s", sign.params)
	}

	if _, err := vm.RunString(`print("done", 1)`); err != nil {
		t.Fatal(err)
	}
	if len(*out) != 1 || (*out)[0] != "done 1" {
		t.Errorf("print output = %q", *out)
	}
}

func TestBridgeErrorsThrow(t *testing.T) {
	b := &scriptedBridge{responses: map[string]protocol.BridgeResponse{
		protocol.MethodSignMessage: {Error: &protocol.BridgeError{Code: "USER_REJECTED", Status: 4001, Message: "user rejected the request"}},
	}}
	vm, _ := newVM(t, b)

	_, err := vm.RunString(`signMessage("hi")`)
	if err == nil {
		t.Fatal("rejected signMessage did not throw")
	}
	if !strings.Contains(err.Error(), "USER_REJECTED") {
		t.Errorf("error = %v, want USER_REJECTED", err)
	}

	v, err := vm.RunString(`try { signMessage("hi"); "no" } catch (e) { "caught" }`)
	if err != nil || v.String() != "caught" {
		t.Errorf("try/catch = %v, %v", v, err)
	}
}

func TestOrigin(t *testing.T) {
	b := &scriptedBridge{origin: protocol.Origin{Domain: "a.example"}}
	vm, _ := newVM(t, b)

	v, err := vm.RunString(`origin("b.example", "B").domain`)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "b.example" || b.origin.WebsiteName != "B" {
		t.Errorf("origin = %+v", b.origin)
	}
	if _, err := vm.RunString(`origin("")`); err == nil {
		t.Error("empty domain accepted")
	}
}

func TestTransactionBuilders(t *testing.T) {
	vm, _ := newVM(t, &scriptedBridge{})
	alice := crypto.GenerateAccount().Address.String()
	bob := crypto.GenerateAccount().Address.String()
	if err := vm.Set("alice", alice); err != nil {
		t.Fatal(err)
	}
	if err := vm.Set("bob", bob); err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`payment({from: alice, to: bob, amount: algo(1.5), firstValid: 10, lastValid: 1010, note: "hi"})`)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(v.String())
	if err != nil {
		t.Fatal(err)
	}
	var txn types.Transaction
	if err := msgpack.Decode(raw, &txn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if txn.Type != types.PaymentTx || txn.Amount != 1_500_000 || txn.Fee != minFee || string(txn.Note) != "hi" {
		t.Errorf("payment = %+v", txn)
	}
	if txn.Sender.String() != alice || txn.Receiver.String() != bob {
		t.Errorf("addresses = %s -> %s", txn.Sender, txn.Receiver)
	}

	v, err = vm.RunString(`group([
		payment({from: alice, to: bob, amount: 1, firstValid: 1, lastValid: 2}),
		assetTransfer({from: bob, to: alice, asset: 31566704, amount: 5, firstValid: 1, lastValid: 2}),
	])`)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	var grouped []string
	if err := vm.ExportTo(v, &grouped); err != nil {
		t.Fatal(err)
	}
	if len(grouped) != 2 {
		t.Fatalf("group returned %d transactions", len(grouped))
	}
	var first, second types.Transaction
	b1, _ := base64.StdEncoding.DecodeString(grouped[0])
	b2, _ := base64.StdEncoding.DecodeString(grouped[1])
	if err := msgpack.Decode(b1, &first); err != nil {
		t.Fatal(err)
	}
	if err := msgpack.Decode(b2, &second); err != nil {
		t.Fatal(err)
	}
	if first.Group == (types.Digest{}) || first.Group != second.Group {
		t.Error("group ids missing or different")
	}
	if second.XferAsset != 31566704 || second.AssetAmount != 5 {
		t.Errorf("asset transfer = %+v", second.AssetTransferTxnFields)
	}

	invalid := []string{
		`payment({to: bob, amount: 1, firstValid: 1, lastValid: 2})`,
		`payment({from: "nope", to: bob, amount: 1, firstValid: 1, lastValid: 2})`,
		`payment({from: alice, to: bob, amount: -1, firstValid: 1, lastValid: 2})`,
		`payment({from: alice, to: bob, amount: 1, firstValid: 5, lastValid: 2})`,
		`payment("x")`,
	}
	for _, script := range invalid {
		if _, err := vm.RunString(script); err == nil {
			t.Errorf("%s did not throw", script)
		}
	}
}

func TestDecodeSigned(t *testing.T) {
	vm, _ := newVM(t, &scriptedBridge{})
	acct := crypto.GenerateAccount()
	txn := types.Transaction{
		Type:             types.PaymentTx,
		Header:           types.Header{Sender: acct.Address, Fee: 1000, FirstValid: 1, LastValid: 2},
		PaymentTxnFields: types.PaymentTxnFields{Receiver: acct.Address},
	}
	txid, stx, err := crypto.SignTransaction(acct.PrivateKey, txn)
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.Set("stx", base64.StdEncoding.EncodeToString(stx)); err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`decodeSigned(stx)`)
	if err != nil {
		t.Fatal(err)
	}
	got := v.Export().(map[string]any)
	if got["txid"] != txid || got["signed"] != true || got["sender"] != acct.Address.String() {
		t.Errorf("decodeSigned = %v", got)
	}
}

func TestAlgoHelpers(t *testing.T) {
	vm, _ := newVM(t, &scriptedBridge{})
	tests := []struct {
		script string
		want   int64
	}{
		{`algo(1)`, 1_000_000},
		{`algo(0.000001)`, 1},
		{`algo(2.5)`, 2_500_000},
		{`microalgos(42)`, 42},
	}
	for _, tt := range tests {
		v, err := vm.RunString(tt.script)
		if err != nil {
			t.Fatalf("%s: %v", tt.script, err)
		}
		if got := v.ToInteger(); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.script, got, tt.want)
		}
	}
	for _, script := range []string{`algo(-1)`, `algo()`, `microalgos(-5)`} {
		if _, err := vm.RunString(script); err == nil {
			t.Errorf("%s did not throw", script)
		}
	}
}

func TestToUint64Interface(t *testing.T) {
	tests := []struct {
		input   any
		want    uint64
		wantErr bool
	}{
		{int64(42), 42, false},
		{float64(99.9), 99, false},
		{100, 100, false},
		{uint64(7), 7, false},
		{int64(-1), 0, true},
		{float64(-0.5), 0, true},
		{"12", 0, true},
	}
	for _, tt := range tests {
		got, err := toUint64Interface(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("toUint64Interface(%#v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("toUint64Interface(%#v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
