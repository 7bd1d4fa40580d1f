// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import "testing"

func TestCheckLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		critical bool
		flagged  bool
	}{
		{"math/rand in critical package", `	"math/rand"`, true, true},
		{"math/rand v2 in critical package", `	mrand "math/rand/v2"`, true, true},
		{"math/rand elsewhere", `	"math/rand"`, false, false},
		{"logs secret value", `	util.Logger.Infow("loaded", "secret", secret)`, false, true},
		{"logs passphrase bytes", `	util.Debug("unlock", "pass", passphrase.Bytes())`, false, true},
		{"prints ipc token", `	fmt.Printf("token %s\n", ipcToken)`, false, true},
		{"key name only in message", `	util.Logger.Infow("page secret created", "path", config.SecretFile)`, false, false},
		{"secret file path", `	fmt.Printf("secret at %s\n", config.SecretFile)`, false, false},
		{"passphrase source", `	util.Logger.Infow("passphrase", "source", source)`, false, false},
		{"comment", `	// util.Logger.Infow("x", "secret", secret)`, false, false},
		{"not a log call", `	ok := auth.Verify(secret, req)`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkLine(tt.line, tt.critical) != ""
			if got != tt.flagged {
				t.Errorf("checkLine(%q) flagged = %v, want %v", tt.line, got, tt.flagged)
			}
		})
	}
}

func TestStripStringLiterals(t *testing.T) {
	got := stripStringLiterals(`f("a \"secret\" b", secret)`)
	if got != `f("", secret)` {
		t.Errorf("stripStringLiterals = %q", got)
	}
}

func TestIsRandCritical(t *testing.T) {
	if !isRandCritical("internal/auth/hmac.go") || isRandCritical("internal/bridge/server.go") {
		t.Error("critical directory matching is wrong")
	}
}
