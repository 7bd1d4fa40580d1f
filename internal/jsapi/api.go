// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package jsapi provides JavaScript bindings for dapp scripts run by apdapp.
//
// Scripts play the page side of the bridge. Functions are organized into
// domain-specific files:
//   - api.go: Core API struct, registration, output, origin
//   - bridge.go: Bridge methods (connect, sign*, request)
//   - transactions.go: Unsigned transaction builders and decoders
//   - helpers.go: Type conversion utilities
package jsapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/aplane-algo/apbridge/internal/pageclient"
	"github.com/aplane-algo/apbridge/internal/protocol"
)

// Bridge is the page channel a script talks through
type Bridge interface {
	pageclient.Caller
	SetOrigin(o protocol.Origin)
	Origin() protocol.Origin
}

// DefaultCallTimeout bounds one bridge call, including the human confirmation.
const DefaultCallTimeout = 5 * time.Minute

// API provides JavaScript bindings for a page channel.
type API struct {
	bridge  Bridge
	runtime *goja.Runtime
	verbose bool
	output  func(string)
	timeout time.Duration
}

// NewAPI creates a new JavaScript API instance.
func NewAPI(bridge Bridge, verbose bool, output func(string)) *API {
	return &API{
		bridge:  bridge,
		verbose: verbose,
		output:  output,
		timeout: DefaultCallTimeout,
	}
}

// SetCallTimeout changes the per-call timeout. Zero disables it.
func (a *API) SetCallTimeout(d time.Duration) {
	a.timeout = d
}

// SetVerbose toggles log() output.
func (a *API) SetVerbose(on bool) {
	a.verbose = on
}

// RegisterAll registers all API functions on the given Goja runtime.
func (a *API) RegisterAll(vm *goja.Runtime) error {
	a.runtime = vm

	// Standalone helpers (not methods on API)
	if err := vm.Set("algo", makeAlgoFunc(vm)); err != nil {
		return fmt.Errorf("failed to register algo: %w", err)
	}
	if err := vm.Set("microalgos", makeMicroalgosFunc(vm)); err != nil {
		return fmt.Errorf("failed to register microalgos: %w", err)
	}

	funcs := []struct {
		name string
		fn   func(goja.FunctionCall) goja.Value
	}{
		// Output
		{"print", a.jsPrint},
		{"log", a.jsLog},
		{"setVerbose", a.jsSetVerbose},
		{"sleep", a.jsSleep},

		// Page identity
		{"origin", a.jsOrigin},

		// Bridge methods
		{"request", a.jsRequest},
		{"connect", a.jsConnect},
		{"isConnected", a.jsIsConnected},
		{"disconnect", a.jsDisconnect},
		{"signMessage", a.jsSignMessage},
		{"signTransaction", a.jsSignTransaction},
		{"signAllTransactions", a.jsSignAllTransactions},
		{"signAndSend", a.jsSignAndSend},

		// Transactions
		{"payment", a.jsPayment},
		{"assetTransfer", a.jsAssetTransfer},
		{"group", a.jsGroup},
		{"decodeSigned", a.jsDecodeSigned},
	}
	for _, f := range funcs {
		if err := vm.Set(f.name, f.fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", f.name, err)
		}
	}
	return nil
}

func (a *API) outputMsg(msg string) {
	if a.output != nil {
		a.output(msg)
	}
}

// joinArgs renders arguments space-separated, like console.log.
func joinArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}

// jsPrint outputs a message.
func (a *API) jsPrint(call goja.FunctionCall) goja.Value {
	a.outputMsg(joinArgs(call.Arguments))
	return goja.Undefined()
}

// jsLog outputs a debug message (only in verbose mode).
func (a *API) jsLog(call goja.FunctionCall) goja.Value {
	if !a.verbose {
		return goja.Undefined()
	}
	a.outputMsg("[debug] " + joinArgs(call.Arguments))
	return goja.Undefined()
}

// jsSetVerbose toggles log() output.
func (a *API) jsSetVerbose(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "setVerbose(on) requires a boolean")
	a.verbose = call.Arguments[0].ToBoolean()
	return goja.Undefined()
}

// jsSleep pauses the script: sleep(ms).
func (a *API) jsSleep(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "sleep(ms) requires a duration in milliseconds")
	time.Sleep(time.Duration(toUint64(a.runtime, call.Arguments[0])) * time.Millisecond)
	return goja.Undefined()
}

// jsOrigin returns the claimed page origin, or sets it:
// origin("dapp.example", "Dapp Name", "https://dapp.example/logo.png").
func (a *API) jsOrigin(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) > 0 {
		o := protocol.Origin{Domain: call.Arguments[0].String()}
		if len(call.Arguments) > 1 {
			o.WebsiteName = call.Arguments[1].String()
		}
		if len(call.Arguments) > 2 {
			o.LogoURL = call.Arguments[2].String()
		}
		if o.Domain == "" {
			panic(a.runtime.ToValue("origin() domain cannot be empty"))
		}
		a.bridge.SetOrigin(o)
	}
	o := a.bridge.Origin()
	return a.runtime.ToValue(map[string]any{
		"domain":      o.Domain,
		"websiteName": o.WebsiteName,
		"logoUrl":     o.LogoURL,
	})
}
