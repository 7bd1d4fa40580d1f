// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package wallet

import (
	"fmt"
	"time"
)

// FactoryConfig holds what the backends need to be built
type FactoryConfig struct {
	EmbeddedKeyFile string
	Passphrase      PassphraseFunc
	ExternalURL     string
	Identity        AppIdentity
	ExternalTimeout time.Duration
}

// NewFactory returns a SignerFactory for the configured backends.
func NewFactory(cfg FactoryConfig) SignerFactory {
	return func(w ActiveWallet) (Signer, error) {
		switch w.Backend {
		case BackendEmbedded, "":
			return NewEmbeddedSigner(cfg.EmbeddedKeyFile, cfg.Passphrase), nil
		case BackendExternal:
			if cfg.ExternalURL == "" {
				return nil, fmt.Errorf("external wallet selected but no external_wallet_url configured")
			}
			return NewExternalSigner(cfg.ExternalURL, cfg.Identity, cfg.ExternalTimeout), nil
		default:
			return nil, fmt.Errorf("unknown wallet backend %q", w.Backend)
		}
	}
}
