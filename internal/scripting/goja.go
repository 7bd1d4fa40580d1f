// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/aplane-algo/apbridge/internal/jsapi"
)

// GojaRunner implements Runner using the Goja JavaScript interpreter.
type GojaRunner struct {
	vm     *goja.Runtime
	api    *jsapi.API
	output func(string)
}

// NewGojaRunner creates a new Goja-based script runner.
// Scripts reach the wallet through the given page channel.
func NewGojaRunner(bridge jsapi.Bridge) *GojaRunner {
	r := &GojaRunner{output: func(string) {}}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// Output goes through r.output so SetOutput works after construction
	api := jsapi.NewAPI(bridge, false, func(msg string) { r.output(msg) })
	if err := api.RegisterAll(vm); err != nil {
		panic("failed to register JS API: " + err.Error())
	}
	r.vm = vm
	r.api = api
	return r
}

// Run executes JavaScript code and returns the result.
func (r *GojaRunner) Run(code string) (Result, error) {
	result, err := r.vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			r.vm.ClearInterrupt()
			return Result{}, ErrInterrupted
		}
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			// String() keeps the message and location; Export() of an Error object is an empty map
			return Result{}, &ScriptError{Message: jsErr.String()}
		}
		return Result{}, err
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return Result{IsEmpty: true}, nil
	}
	return Result{Value: result.Export()}, nil
}

// SetOutput sets the function used for print() and log() output.
func (r *GojaRunner) SetOutput(fn func(string)) {
	if fn == nil {
		r.output = func(s string) {}
	} else {
		r.output = fn
	}
}

// SetVerbose toggles log() output.
func (r *GojaRunner) SetVerbose(on bool) {
	r.api.SetVerbose(on)
}

// SetCallTimeout bounds each bridge call a script makes.
func (r *GojaRunner) SetCallTimeout(d time.Duration) {
	r.api.SetCallTimeout(d)
}

// Interrupt stops the currently running script.
func (r *GojaRunner) Interrupt() {
	r.vm.Interrupt(ErrInterrupted.Error())
}

// Compile-time interface check
var _ Runner = (*GojaRunner)(nil)
