// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package jsapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// BridgeError is thrown into scripts when the bridge answers with an error
type BridgeError struct {
	Method string
	*protocol.BridgeError
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Code, e.Status, e.Message)
}

// call performs one bridge request, returning the raw response.
func (a *API) call(method string, params any) (protocol.BridgeResponse, error) {
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	resp, err := a.bridge.Call(ctx, method, params)
	if err != nil {
		return resp, fmt.Errorf("%s: %w", method, err)
	}
	if a.verbose {
		a.outputMsg(fmt.Sprintf("[debug] %s -> success=%v", method, resp.Success))
	}
	return resp, nil
}

// invoke performs a request and returns its data, throwing on failure.
func (a *API) invoke(method string, params any) goja.Value {
	resp, err := a.call(method, params)
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}
	if !resp.Success {
		be := resp.Error
		if be == nil {
			be = &protocol.BridgeError{Code: "INTERNAL_ERROR", Message: "bridge returned neither data nor error"}
		}
		panic(a.runtime.NewGoError(&BridgeError{Method: method, BridgeError: be}))
	}
	return a.runtime.ToValue(toJSValue(resp.Data))
}

// fields performs a request and returns its data object.
func (a *API) fields(method string, params any) map[string]any {
	data, ok := a.invoke(method, params).Export().(map[string]any)
	if !ok {
		panic(a.runtime.ToValue(method + ": bridge returned unexpected data"))
	}
	return data
}

// toJSValue normalises decoded JSON so scripts see plain objects.
func toJSValue(v any) any {
	if v == nil {
		return map[string]any{}
	}
	if _, ok := v.(map[string]any); ok {
		return v
	}
	// Round-trip typed results into generic maps
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// jsRequest sends any method with raw params and returns the whole response:
// request("signMessage", {message: "hi"}) -> {id, success, data, error}.
// It never throws for bridge errors, so scripts can inspect error codes.
func (a *API) jsRequest(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "request(method, params) requires a method name")
	method := call.Arguments[0].String()
	var params any
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
		params = call.Arguments[1].Export()
	}
	resp, err := a.call(method, params)
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}
	return a.runtime.ToValue(toJSValue(resp))
}

// jsConnect asks the wallet to connect and returns its address.
func (a *API) jsConnect(call goja.FunctionCall) goja.Value {
	data := a.fields(protocol.MethodConnect, nil)
	return a.runtime.ToValue(data["publicKey"])
}

// jsIsConnected reports whether this origin sees a connected wallet.
func (a *API) jsIsConnected(call goja.FunctionCall) goja.Value {
	data := a.fields(protocol.MethodIsConnected, nil)
	connected, _ := data["connected"].(bool)
	return a.runtime.ToValue(connected)
}

// jsDisconnect disconnects this origin.
func (a *API) jsDisconnect(call goja.FunctionCall) goja.Value {
	a.invoke(protocol.MethodDisconnect, nil)
	return goja.Undefined()
}

// jsSignMessage signs a message: signMessage("hello") or signMessage("cafe", "hex").
// Returns the base64 signature.
func (a *API) jsSignMessage(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "signMessage(message, encoding) requires a message")
	params := protocol.SignMessageParams{Message: call.Arguments[0].String()}
	if len(call.Arguments) > 1 {
		params.Encoding = call.Arguments[1].String()
	}
	data := a.fields(protocol.MethodSignMessage, params)
	return a.runtime.ToValue(data["signature"])
}

// jsSignTransaction signs one base64 unsigned transaction.
func (a *API) jsSignTransaction(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "signTransaction(txn) requires a base64 transaction")
	params := protocol.SignTransactionParams{Transaction: call.Arguments[0].String()}
	data := a.fields(protocol.MethodSignTransaction, params)
	return a.runtime.ToValue(data["signedTransaction"])
}

// jsSignAllTransactions signs a group. Returns the signed transactions in order.
func (a *API) jsSignAllTransactions(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "signAllTransactions(txns) requires an array of base64 transactions")
	txns := toStringArray(call.Arguments[0])
	if len(txns) == 0 {
		panic(a.runtime.ToValue("signAllTransactions() requires at least one transaction"))
	}
	params := protocol.SignAllTransactionsParams{Transactions: txns}
	data := a.fields(protocol.MethodSignAllTransactions, params)
	return a.runtime.ToValue(data["signedTransactions"])
}

// jsSignAndSend signs and broadcasts: signAndSend(txn, waitForConfirmation).
// Returns {signature, confirmedRound}.
func (a *API) jsSignAndSend(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "signAndSend(txn, wait) requires a base64 transaction")
	params := protocol.SignAndSendParams{Transaction: call.Arguments[0].String()}
	if len(call.Arguments) > 1 {
		params.WaitForConfirmation = call.Arguments[1].ToBoolean()
	}
	return a.invoke(protocol.MethodSignAndSendTransaction, params)
}
