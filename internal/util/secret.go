// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretLength is the number of random bytes in the page secret (32 bytes = 256 bits)
const SecretLength = 32

// GenerateSecret generates a cryptographically secure random hex secret
func GenerateSecret() (string, error) {
	bytes := make([]byte, SecretLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ReadSecret reads a secret from a file
// Returns empty string if file doesn't exist (not an error)
// Warns to stderr if file permissions are more permissive than 0600
func ReadSecret(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s has mode %04o, should be 0600 - run: chmod 600 %s\n", path, perm, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteSecret writes a secret to a file with secure permissions (0600)
func WriteSecret(path, secret string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	return nil
}

// LoadOrCreateSecret loads the page secret, generating one if it doesn't exist.
// The boolean reports whether a new secret was created.
func LoadOrCreateSecret(path string) (string, bool, error) {
	secret, err := ReadSecret(path)
	if err != nil {
		return "", false, err
	}
	if secret != "" {
		if _, err := hex.DecodeString(secret); err != nil {
			return "", false, fmt.Errorf("secret file %s is not hex: %w", path, err)
		}
		return secret, false, nil
	}

	secret, err = GenerateSecret()
	if err != nil {
		return "", false, err
	}
	if err := WriteSecret(path, secret); err != nil {
		return "", false, err
	}
	return secret, true, nil
}

// ValidateToken compares two tokens in constant time to prevent timing attacks
func ValidateToken(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
