// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	algocrypto "github.com/aplane-algo/apbridge/internal/crypto"
)

// PassphraseFunc supplies the embedded wallet passphrase. The caller zeroes the result.
type PassphraseFunc func() ([]byte, error)

// EmbeddedSigner holds a custodial ed25519 key in an encrypted file.
// The key is created on first authorize and kept in memory until deauthorize.
type EmbeddedSigner struct {
	keyFile    string
	passphrase PassphraseFunc

	mu  sync.Mutex
	key ed25519.PrivateKey
}

// NewEmbeddedSigner creates a signer for the key file at path.
func NewEmbeddedSigner(path string, passphrase PassphraseFunc) *EmbeddedSigner {
	return &EmbeddedSigner{keyFile: path, passphrase: passphrase}
}

// Backend returns BackendEmbedded.
func (e *EmbeddedSigner) Backend() Backend {
	return BackendEmbedded
}

// Authorize decrypts the key file, creating it if missing.
func (e *EmbeddedSigner) Authorize(ctx context.Context) (Account, error) {
	if e.passphrase == nil {
		return Account{}, errors.New("no passphrase source for embedded wallet")
	}
	pass, err := e.passphrase()
	if err != nil {
		return Account{}, fmt.Errorf("failed to read passphrase: %w", err)
	}
	defer algocrypto.ZeroBytes(pass)

	key, err := e.loadOrCreate(pass)
	if err != nil {
		return Account{}, err
	}

	acct, err := crypto.AccountFromPrivateKey(key)
	if err != nil {
		algocrypto.ZeroBytes(key)
		return Account{}, fmt.Errorf("invalid embedded key: %w", err)
	}

	e.mu.Lock()
	if e.key != nil {
		algocrypto.ZeroBytes(e.key)
	}
	e.key = key
	e.mu.Unlock()

	return Account{Address: acct.Address.String(), PublicKey: acct.PublicKey}, nil
}

func (e *EmbeddedSigner) loadOrCreate(pass []byte) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(e.keyFile)
	if errors.Is(err, os.ErrNotExist) {
		return e.create(pass)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded key: %w", err)
	}

	seed, err := algocrypto.Open(data, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock embedded key: %w", err)
	}
	defer algocrypto.ZeroBytes(seed)
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("embedded key has %d bytes, expected %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (e *EmbeddedSigner) create(pass []byte) (ed25519.PrivateKey, error) {
	if len(pass) == 0 {
		return nil, errors.New("refusing to create embedded key with an empty passphrase")
	}
	acct := crypto.GenerateAccount()
	seed := acct.PrivateKey.Seed()
	defer algocrypto.ZeroBytes(seed)

	envelope, err := algocrypto.Seal(seed, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt embedded key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.keyFile), 0700); err != nil {
		return nil, fmt.Errorf("failed to create wallet directory: %w", err)
	}
	if err := os.WriteFile(e.keyFile, envelope, 0600); err != nil {
		return nil, fmt.Errorf("failed to write embedded key: %w", err)
	}
	return acct.PrivateKey, nil
}

// Deauthorize wipes the in-memory key.
func (e *EmbeddedSigner) Deauthorize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key != nil {
		algocrypto.ZeroBytes(e.key)
		e.key = nil
	}
	return nil
}

// SignMessages signs each message with the Algorand "MX" domain prefix.
func (e *EmbeddedSigner) SignMessages(ctx context.Context, messages [][]byte) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key == nil {
		return nil, ErrNotConnected
	}

	sigs := make([][]byte, len(messages))
	for i, msg := range messages {
		sig, err := crypto.SignBytes(e.key, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to sign message %d: %w", i, err)
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// SignTransactions signs each transaction with the embedded key.
func (e *EmbeddedSigner) SignTransactions(ctx context.Context, txns []types.Transaction) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key == nil {
		return nil, ErrNotConnected
	}

	signed := make([][]byte, len(txns))
	for i, txn := range txns {
		_, stx, err := crypto.SignTransaction(e.key, txn)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction %d: %w", i, err)
		}
		signed[i] = stx
	}
	return signed, nil
}

var _ Signer = (*EmbeddedSigner)(nil)
