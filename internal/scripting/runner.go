// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package scripting runs DApp scripts against a bridge page channel.
package scripting

import "errors"

// ErrInterrupted is returned by Run when Interrupt stopped the script.
var ErrInterrupted = errors.New("script interrupted")

// ScriptError is an exception thrown by the script itself.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Result holds the outcome of running a script.
type Result struct {
	// Value is the exported result value (nil if IsEmpty is true)
	Value any
	// IsEmpty is true if the script returned undefined or null
	IsEmpty bool
}

// Runner executes code in a persistent interpreter, so a REPL can define a
// variable on one line and use it on the next. Reading script files and
// bounding total run time are left to callers.
type Runner interface {
	// Run executes code. Script exceptions come back as *ScriptError.
	Run(code string) (Result, error)

	// SetOutput sets the function used for print() output.
	SetOutput(fn func(string))

	// Interrupt stops the running script. Safe to call from another goroutine.
	Interrupt()
}
