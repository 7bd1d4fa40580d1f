// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package auth

import (
	"context"

	"github.com/aplane-algo/apbridge/internal/protocol"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// originKey is the context key for the authenticated page origin.
var originKey = contextKey{}

// ContextWithOrigin returns a new context carrying the origin of an authenticated request.
func ContextWithOrigin(ctx context.Context, origin protocol.Origin) context.Context {
	return context.WithValue(ctx, originKey, origin)
}

// OriginFromContext extracts the authenticated origin from the context.
// The boolean is false if the context carries none.
func OriginFromContext(ctx context.Context) (protocol.Origin, bool) {
	origin, ok := ctx.Value(originKey).(protocol.Origin)
	return origin, ok
}
