// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aplane-algo/apbridge/internal/auth"
	"github.com/aplane-algo/apbridge/internal/balance"
	"github.com/aplane-algo/apbridge/internal/bridge"
	"github.com/aplane-algo/apbridge/internal/chain"
	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/permission"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/security"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/version"
	"github.com/aplane-algo/apbridge/internal/wallet"
)

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("d", "", "Data directory (required, or set APBRIDGE_DATA)")
	stdio := flag.Bool("stdio", false, "Serve the page channel as browser native messaging on stdin/stdout")
	selectWallet := flag.String("select-wallet", "", "Set the active wallet backend (embedded|external) and exit")
	selectAddress := flag.String("address", "", "With -select-wallet: pin the expected wallet address")
	selectLabel := flag.String("label", "", "With -select-wallet: label shown in the confirmation UI")
	listOrigins := flag.Bool("list-origins", false, "List trusted origins and exit")
	revokeOrigin := flag.String("revoke-origin", "", "Revoke a trusted origin and exit (\"all\" revokes every origin)")
	flag.Parse()
	if *printVersion {
		fmt.Printf("apbridge %s\n", version.String())
		os.Exit(0)
	}

	resolvedDataDir := util.RequireBridgeDataDir(*dataDir)
	config, err := util.LoadBridgeConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// One-shot admin commands
	switch {
	case *selectWallet != "":
		exitOn(runSelectWallet(&config, *selectWallet, *selectAddress, *selectLabel))
		return
	case *listOrigins:
		exitOn(runListOrigins(&config))
		return
	case *revokeOrigin != "":
		exitOn(runRevokeOrigin(&config, *revokeOrigin))
		return
	}

	util.InitLogger()
	defer util.SyncLogger()

	// stdout carries native messaging frames in -stdio mode
	var console io.Writer = os.Stdout
	if *stdio {
		console = os.Stderr
	}

	_, _ = fmt.Fprintln(console, "apbridge - DApp Bridge")
	_, _ = fmt.Fprintln(console, "============================================")
	_, _ = fmt.Fprintf(console, "Data directory: %s\n", resolvedDataDir)

	if err := run(&config, *stdio, console); err != nil {
		util.Logger.Errorw("bridge stopped", "error", err)
		util.SyncLogger()
		os.Exit(1)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(config *util.BridgeConfig, stdio bool, console io.Writer) error {
	grace, err := config.ConfirmationGrace()
	if err != nil {
		return err
	}
	externalTimeout, err := config.ExternalTimeout()
	if err != nil {
		return err
	}
	cacheTTL, err := config.AssetCacheDuration()
	if err != nil {
		return err
	}

	// Memory hardening before any key material is read
	hardening := security.Harden(os.Getenv("DISABLE_MEMORY_LOCK") == "")
	if hardening.CoreDumpsDisabled {
		_, _ = fmt.Fprintln(console, "✓ Core dumps disabled")
	}
	if hardening.MemoryLocked {
		_, _ = fmt.Fprintln(console, "✓ Memory locked (embedded key will not swap to disk)")
	}
	for _, herr := range hardening.Errors {
		util.Logger.Warnw("process hardening incomplete", "error", herr)
	}

	secret, created, err := util.LoadOrCreateSecret(config.SecretFile)
	if err != nil {
		return fmt.Errorf("failed to load page secret: %w", err)
	}
	if created {
		_, _ = fmt.Fprintf(console, "✓ Generated page secret at %s\n", config.SecretFile)
	} else {
		_, _ = fmt.Fprintf(console, "✓ Page secret loaded from %s\n", config.SecretFile)
	}

	ipcToken, _, err := util.LoadOrCreateSecret(config.IPCTokenFile)
	if err != nil {
		return fmt.Errorf("failed to load IPC token: %w", err)
	}

	activeFile, err := wallet.OpenActiveWallet(config.ActiveWalletFile)
	if err != nil {
		return err
	}
	selection, _ := activeFile.Current()
	_, _ = fmt.Fprintf(console, "Active wallet: %s %s\n", selection.Backend, util.FormatAddressShort(selection.Address))

	// The passphrase is only prompted for when the embedded backend is selected;
	// switching to it later requires APBRIDGE_PASSPHRASE.
	prompt := !stdio && (selection.Backend == wallet.BackendEmbedded || selection.Backend == "")
	passphrase, passSource, err := loadPassphrase(config.EmbeddedKeyFile, prompt, console)
	if err != nil {
		return err
	}
	defer passphrase.Destroy()

	factory := wallet.NewFactory(wallet.FactoryConfig{
		EmbeddedKeyFile: config.EmbeddedKeyFile,
		Passphrase:      passphraseSource(passphrase),
		ExternalURL:     config.ExternalWalletURL,
		Identity: wallet.AppIdentity{
			Name: config.AppIdentity.Name,
			URI:  config.AppIdentity.URI,
			Icon: config.AppIdentity.Icon,
		},
		ExternalTimeout: externalTimeout,
	})
	adapter := wallet.NewAdapter(activeFile, factory)

	// Chain access is optional: without algod, asset transfers cannot be
	// described and signAndSendTransaction fails.
	var (
		assets      balance.AssetLookup
		broadcaster wallet.Broadcaster
	)
	if config.AlgodURL != "" {
		algodClient, err := chain.NewAlgodClient(config.AlgodURL, config.AlgodToken)
		if err != nil {
			return err
		}
		assets = balance.NewCachedLookup(algodClient, cacheTTL)
		broadcaster = algodClient
		_, _ = fmt.Fprintf(console, "✓ Algod: %s\n", config.AlgodURL)
	} else {
		_, _ = fmt.Fprintln(console, "⚠ No algod_url configured: asset lookup and broadcast disabled")
	}
	analyzer := balance.NewAnalyzer(balance.Config{
		NativeDecimals: config.NativeDecimals,
		WrappedNative:  config.WrappedNativeAssets,
		NativeLogoURL:  config.NativeLogoURL,
	}, assets)

	gate, ignored := permission.NewGate(config.AutoApproveMethods)
	for _, m := range ignored {
		util.Logger.Warnw("auto_approve_methods entry ignored: method always requires confirmation", "method", m)
	}
	origins, err := permission.LoadTrustedOrigins(config.TrustedOriginsFile)
	if err != nil {
		return err
	}

	auditLog, err := bridge.NewAuditLogger(config.AuditLog)
	if err != nil {
		util.Logger.Warnw("audit log disabled", "error", err)
		auditLog = nil
	} else {
		_, _ = fmt.Fprintf(console, "✓ Audit logging enabled (%s)\n", config.AuditLog)
	}
	defer func() { _ = auditLog.Close() }()

	metrics := bridge.NewMetrics()
	limiter := bridge.NewRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)

	// Confirmation broker and the UI socket
	broker := confirm.NewBroker(nil, grace)
	ipcServer := confirm.NewIPCServer(config.IPCPath, ipcToken, broker, func() protocol.StatusMessage {
		h := adapter.Handle()
		return protocol.StatusMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.MsgTypeStatus},
			Wallet:      h.PublicKey,
			Backend:     string(h.Backend),
			Connected:   h.Connected,
		}
	})
	if err := ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start confirmation IPC: %w", err)
	}
	defer ipcServer.Stop()
	_, _ = fmt.Fprintf(console, "✓ Confirmation UI: IPC (%s), token in %s\n", config.IPCPath, config.IPCTokenFile)

	unsubscribe := adapter.Subscribe(func(ev wallet.Event) {
		if ev.Type == wallet.EventError {
			util.Logger.Warnw("wallet error", "kind", wallet.KindOf(ev.Err), "error", ev.Err)
		}
		ipcServer.NotifyStatus()
	})
	defer unsubscribe()

	dispatcher, err := bridge.NewDispatcher(bridge.Options{
		Authenticator: auth.NewHMACAuthenticator(secret),
		Gate:          gate,
		Origins:       origins,
		Broker:        broker,
		Adapter:       adapter,
		Analyzer:      analyzer,
		Broadcaster:   broadcaster,
		WaitRounds:    config.WaitForConfirmations,
		Limiter:       limiter,
		Audit:         auditLog,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := activeFile.Watch(ctx, func(w wallet.ActiveWallet) {
		auditLog.LogActiveWalletChanged(w.Address, string(w.Backend))
		adapter.OnActiveWalletChanged(w)
	}); err != nil {
		util.Logger.Warnw("active wallet changes will not be picked up until restart", "error", err)
	}

	limiter.StartCleanup(time.Minute, ctx.Done())

	printSecurityAudit(console, config, passSource, hardening, gate)
	auditLog.LogBridgeStart(selection.Address, string(selection.Backend))
	defer auditLog.LogBridgeStop()

	if stdio {
		util.Logger.Infow("serving native messaging on stdio")
		err = bridge.ServeNativeMessaging(ctx, dispatcher, os.Stdin, os.Stdout)
	} else {
		server := bridge.NewServer(bridge.ServerConfig{
			AllowedOrigins: config.AllowedOrigins,
			LoopbackOnly:   isLoopbackBind(config.BindAddress),
			ExposeMetrics:  config.ShouldExposeMetrics(),
		}, dispatcher, metrics)

		addr := net.JoinHostPort(config.BindAddress, fmt.Sprintf("%d", config.BridgePort))
		_, _ = fmt.Fprintf(console, "\n>> Page channel on %s\n", addr)
		_, _ = fmt.Fprintf(console, "\nEndpoints:\n")
		_, _ = fmt.Fprintf(console, "  GET    /bridge/ws   - WebSocket page channel\n")
		_, _ = fmt.Fprintf(console, "  POST   /bridge      - One request per POST\n")
		_, _ = fmt.Fprintf(console, "  GET    /health      - Health check\n")
		if config.ShouldExposeMetrics() {
			_, _ = fmt.Fprintf(console, "  GET    /metrics     - Prometheus metrics\n")
		}
		_, _ = fmt.Fprintln(console, strings.Repeat("=", 50))
		err = server.ListenAndServe(ctx, addr)
	}

	_, _ = fmt.Fprintln(console, "\n[*] Shutting down...")
	broker.AbandonAll("bridge shutting down")
	if derr := adapter.Disconnect(context.Background()); derr != nil {
		util.Logger.Warnw("wallet disconnect on shutdown failed", "error", derr)
	}
	_, _ = fmt.Fprintln(console, "[✓] Shutdown complete")
	return err
}

func isLoopbackBind(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func printSecurityAudit(w io.Writer, config *util.BridgeConfig, passSource string, h security.Hardening, gate *permission.Gate) {
	_, _ = fmt.Fprintln(w, "--------------------------------------------")
	_, _ = fmt.Fprintln(w, "Security settings:")
	_, _ = fmt.Fprintf(w, "  passphrase source:     %s\n", passSource)
	_, _ = fmt.Fprintf(w, "  core dumps disabled:   %v\n", h.CoreDumpsDisabled)
	_, _ = fmt.Fprintf(w, "  memory locked:         %v\n", h.MemoryLocked)
	_, _ = fmt.Fprintf(w, "  auto-approved methods: %v\n", gate.AutoApproved())
	_, _ = fmt.Fprintf(w, "  confirmation timeout:  %s\n", config.ConfirmationTimeout)
	if config.RateLimit.RequestsPerSecond > 0 {
		_, _ = fmt.Fprintf(w, "  rate limit:            %d/s per origin (burst %d)\n", config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	} else {
		_, _ = fmt.Fprintln(w, "  rate limit:            off")
	}
	if !isLoopbackBind(config.BindAddress) {
		_, _ = fmt.Fprintf(w, "  ⚠ page channel bound to %s (not loopback)\n", config.BindAddress)
	}
	if passSource == "none" {
		_, _ = fmt.Fprintln(w, "  ⚠ embedded wallet locked: connects fail until restarted with a passphrase")
	}
}
