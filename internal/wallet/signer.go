// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Backend identifies where keys live
type Backend string

const (
	BackendEmbedded Backend = "embedded"
	BackendExternal Backend = "external"
)

// ParseBackend validates a backend name. Empty selects the embedded backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendEmbedded:
		return BackendEmbedded, nil
	case BackendExternal:
		return BackendExternal, nil
	default:
		return "", fmt.Errorf("unknown wallet backend %q (want embedded or external)", s)
	}
}

// Account is an authorized signing account
type Account struct {
	Address   string
	PublicKey ed25519.PublicKey
}

// Signer is one wallet backend
type Signer interface {
	Backend() Backend

	// Authorize unlocks or pairs with the wallet and returns its account.
	Authorize(ctx context.Context) (Account, error)

	// Deauthorize forgets the session and any key material.
	Deauthorize(ctx context.Context) error

	// SignMessages signs arbitrary bytes. Returns one raw signature per message.
	SignMessages(ctx context.Context, messages [][]byte) ([][]byte, error)

	// SignTransactions returns msgpack signed transactions in input order.
	SignTransactions(ctx context.Context, txns []types.Transaction) ([][]byte, error)
}

// ValidateAccount checks that address is a well-formed Algorand address whose
// key is a valid ed25519 point, and that publicKey (if given) matches it.
func ValidateAccount(address string, publicKey []byte) (Account, error) {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return Account{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if _, err := new(edwards25519.Point).SetBytes(addr[:]); err != nil {
		return Account{}, fmt.Errorf("address %s is not a valid ed25519 public key: %w", address, err)
	}
	if len(publicKey) > 0 && string(publicKey) != string(addr[:]) {
		return Account{}, fmt.Errorf("public key does not match address %s", address)
	}
	return Account{Address: addr.String(), PublicKey: ed25519.PublicKey(addr[:])}, nil
}
