// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/aplane-algo/apbridge/internal/crypto"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

// errEmbeddedLocked is returned on connect when no passphrase was supplied at startup
var errEmbeddedLocked = errors.New("embedded wallet is locked: start apbridge from a terminal or set APBRIDGE_PASSPHRASE")

// loadPassphrase obtains the embedded wallet passphrase once at startup.
// Sources in order: APBRIDGE_PASSPHRASE, then a terminal prompt when allowed.
// With neither, the returned SecureString is empty and connects fail.
func loadPassphrase(keyFile string, prompt bool, out io.Writer) (*crypto.SecureString, string, error) {
	if env := os.Getenv("APBRIDGE_PASSPHRASE"); env != "" {
		b := []byte(env)
		defer crypto.ZeroBytes(b)
		return crypto.NewSecureStringFromBytes(b), "APBRIDGE_PASSPHRASE", nil
	}

	fd := int(os.Stdin.Fd()) // #nosec G115 - file descriptors are small integers
	if !prompt || !term.IsTerminal(fd) {
		return crypto.NewSecureStringFromBytes(nil), "none", nil
	}

	_, statErr := os.Stat(keyFile)
	creating := errors.Is(statErr, os.ErrNotExist)
	if creating {
		_, _ = fmt.Fprintf(out, "No embedded wallet at %s; one is created on first connect.\n", keyFile)
	}

	_, _ = fmt.Fprint(out, "Embedded wallet passphrase: ")
	pass1, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return nil, "", fmt.Errorf("reading passphrase: %w", err)
	}
	defer crypto.ZeroBytes(pass1)
	if len(pass1) == 0 {
		return nil, "", errors.New("passphrase must not be empty")
	}

	if creating {
		_, _ = fmt.Fprint(out, "Confirm:                    ")
		pass2, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return nil, "", fmt.Errorf("reading confirmation: %w", err)
		}
		defer crypto.ZeroBytes(pass2)
		if !bytes.Equal(pass1, pass2) {
			return nil, "", errors.New("passphrases do not match")
		}
	}
	return crypto.NewSecureStringFromBytes(pass1), "terminal", nil
}

// passphraseSource adapts a SecureString to the embedded signer.
func passphraseSource(s *crypto.SecureString) wallet.PassphraseFunc {
	return func() ([]byte, error) {
		if s.IsEmpty() {
			return nil, errEmbeddedLocked
		}
		return s.Bytes(), nil
	}
}
