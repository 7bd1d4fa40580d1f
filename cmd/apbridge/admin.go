// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"fmt"
	"time"

	"github.com/aplane-algo/apbridge/internal/bridge"
	"github.com/aplane-algo/apbridge/internal/permission"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

// runSelectWallet writes the active wallet file. A running bridge picks the
// change up through its watcher and disconnects the previous wallet.
func runSelectWallet(config *util.BridgeConfig, backend, address, label string) error {
	b, err := wallet.ParseBackend(backend)
	if err != nil {
		return err
	}
	if address != "" {
		if _, err := wallet.ValidateAccount(address, nil); err != nil {
			return err
		}
	}
	w := wallet.ActiveWallet{Backend: b, Address: address, Label: label}
	if err := wallet.SaveActiveWallet(config.ActiveWalletFile, w); err != nil {
		return err
	}
	fmt.Printf("✓ Active wallet: %s", b)
	if address != "" {
		fmt.Printf(" (%s)", util.FormatAddressShort(address))
	}
	fmt.Println()
	return nil
}

func runListOrigins(config *util.BridgeConfig) error {
	origins, err := permission.LoadTrustedOrigins(config.TrustedOriginsFile)
	if err != nil {
		return err
	}
	list := origins.List()
	if len(list) == 0 {
		fmt.Println("No trusted origins")
		return nil
	}
	for _, o := range list {
		name := o.WebsiteName
		if name == "" {
			name = "-"
		}
		fmt.Printf("%-40s %-24s %s\n", o.Domain, name, o.GrantedAt.Format(time.RFC3339))
	}
	return nil
}

// runRevokeOrigin removes one origin, or every origin for "all".
// Revocations are recorded in the audit log.
func runRevokeOrigin(config *util.BridgeConfig, domain string) error {
	origins, err := permission.LoadTrustedOrigins(config.TrustedOriginsFile)
	if err != nil {
		return err
	}
	auditLog, err := bridge.NewAuditLogger(config.AuditLog)
	if err != nil {
		auditLog = nil
	}
	defer func() { _ = auditLog.Close() }()

	if domain == "all" {
		list := origins.List()
		if err := origins.RevokeAll(); err != nil {
			return err
		}
		for _, o := range list {
			auditLog.LogOriginRevoked(o.Domain)
		}
		fmt.Printf("✓ Revoked %d origin(s)\n", len(list))
		return nil
	}

	removed, err := origins.Revoke(domain)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not a trusted origin", domain)
	}
	auditLog.LogOriginRevoked(domain)
	fmt.Printf("✓ Revoked %s\n", domain)
	return nil
}
