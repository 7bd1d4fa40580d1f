// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package crypto seals the embedded wallet key at rest and holds
// passphrases in memory.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (OWASP recommended)
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2KeyLen  = 32        // AES-256

	saltLen = 32

	// EnvelopeVersion is written to every sealed key file
	EnvelopeVersion = 2
)

var (
	// ErrWrongPassphrase is returned when the envelope does not open with the given passphrase
	ErrWrongPassphrase = errors.New("incorrect passphrase")

	// ErrUnsupportedEnvelope is returned for files that are not a sealed key
	ErrUnsupportedEnvelope = errors.New("unsupported key envelope")
)

// Envelope is the JSON form of a sealed key file.
// It embeds its own salt so the file plus the passphrase is enough to open it.
type Envelope struct {
	Version    int    `json:"envelope_version"`
	Salt       string `json:"salt"`       // Base64 Argon2id salt
	Nonce      string `json:"nonce"`      // Base64 AES-GCM nonce
	Ciphertext string `json:"ciphertext"` // Base64 sealed payload
}

// IsEnvelope reports whether data looks like a sealed key file.
func IsEnvelope(data []byte) bool {
	var env Envelope
	return json.Unmarshal(data, &env) == nil && env.Version == EnvelopeVersion && env.Ciphertext != ""
}

// DeriveKey stretches a passphrase into an AES-256 key.
// Caller is responsible for zeroing the returned key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext under a passphrase-derived key and returns the
// envelope JSON.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := Envelope{
		Version:    EnvelopeVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

// Open decrypts an envelope produced by Seal.
// The caller should zero the returned plaintext.
func Open(data, passphrase []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvelope, err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: envelope_version %d", ErrUnsupportedEnvelope, env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce has %d bytes", ErrUnsupportedEnvelope, len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM cannot tell a wrong key from tampering
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}
