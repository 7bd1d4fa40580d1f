// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package permission decides which bridge methods need a human decision and
// which page origins the user has trusted.
package permission

import (
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

// Decision is the outcome of a gate check
type Decision int

const (
	RequiresConfirmation Decision = iota
	AutoApproved
)

func (d Decision) String() string {
	switch d {
	case AutoApproved:
		return "auto_approved"
	case RequiresConfirmation:
		return "requires_confirmation"
	default:
		return "unknown"
	}
}

// DefaultAutoApprove is the allowlist used when none is configured.
var DefaultAutoApprove = []string{protocol.MethodIsConnected, protocol.MethodDisconnect}

// allowable lists the only methods that may ever skip confirmation.
// Signing methods are absent and cannot be allowlisted.
var allowable = map[string]bool{
	protocol.MethodIsConnected: true,
	protocol.MethodDisconnect:  true,
	protocol.MethodConnect:     true,
}

// Gate classifies methods. It is immutable after construction and safe for concurrent use.
type Gate struct {
	autoApprove map[string]bool
}

// NewGate builds a gate from the configured allowlist. A nil list selects
// DefaultAutoApprove. Names that may not be allowlisted are dropped and
// returned so the caller can report them.
func NewGate(methods []string) (*Gate, []string) {
	if methods == nil {
		methods = DefaultAutoApprove
	}

	g := &Gate{autoApprove: make(map[string]bool, len(methods))}
	var ignored []string
	for _, m := range methods {
		if !allowable[m] {
			ignored = append(ignored, m)
			continue
		}
		g.autoApprove[m] = true
	}

	for _, m := range ignored {
		util.Logger.Warnw("ignoring auto-approve entry", "method", m)
	}
	return g, ignored
}

// RequiresApproval reports whether method needs an explicit user decision.
// Unknown methods always do.
func (g *Gate) RequiresApproval(method string) bool {
	return !g.autoApprove[method]
}

// Decision returns the gate outcome for method.
func (g *Gate) Decision(method string) Decision {
	if g.RequiresApproval(method) {
		return RequiresConfirmation
	}
	return AutoApproved
}

// AutoApproved returns the effective allowlist.
func (g *Gate) AutoApproved() []string {
	out := make([]string, 0, len(g.autoApprove))
	for _, m := range []string{protocol.MethodIsConnected, protocol.MethodDisconnect, protocol.MethodConnect} {
		if g.autoApprove[m] {
			out = append(out, m)
		}
	}
	return out
}
