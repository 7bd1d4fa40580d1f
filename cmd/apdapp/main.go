// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// apdapp is a scriptable stand-in for a DApp page. It signs requests with the
// page secret, sends them to apbridge and exposes the bridge methods to
// JavaScript, either interactively or from a script file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/aplane-algo/apbridge/internal/jsapi"
	"github.com/aplane-algo/apbridge/internal/pageclient"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/scripting"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/version"
)

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("d", "", "Data directory holding the page secret (required, or set APBRIDGE_DATA)")
	url := flag.String("url", "", "Bridge URL (default derived from the bridge config)")
	useHTTP := flag.Bool("http", false, "Use one POST per request instead of the WebSocket channel")
	domain := flag.String("origin", "localhost", "Origin domain claimed by requests")
	siteName := flag.String("name", "", "Website name claimed by requests")
	browserOrigin := flag.String("browser-origin", "", "Origin header sent on the WebSocket handshake")
	scriptFile := flag.String("script", "", "Run a JavaScript file and exit")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-call timeout (covers the time spent in the confirmation UI)")
	verbose := flag.Bool("v", false, "Print each bridge call")
	flag.Parse()
	if *printVersion {
		fmt.Printf("apdapp %s\n", version.String())
		os.Exit(0)
	}

	resolvedDataDir := util.RequireBridgeDataDir(*dataDir)
	config, err := util.LoadBridgeConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	secret, err := util.ReadSecret(config.SecretFile)
	if err != nil || secret == "" {
		fmt.Fprintf(os.Stderr, "Error: cannot read page secret from %s: %v\n", config.SecretFile, err)
		os.Exit(1)
	}

	origin := protocol.Origin{Domain: *domain, WebsiteName: *siteName}
	target := *url
	if target == "" {
		target = defaultURL(config, *useHTTP)
	}

	bridge, closer, err := dial(target, secret, origin, *useHTTP, *browserOrigin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	runner := scripting.NewGojaRunner(bridge)
	runner.SetOutput(func(s string) { fmt.Println(s) })
	runner.SetVerbose(*verbose)
	runner.SetCallTimeout(*timeout)

	if *scriptFile != "" {
		if err := runFile(runner, *scriptFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("apdapp %s - connected to %s as %s\n", version.String(), target, origin.Domain)
	fmt.Println("Type .help for commands")
	startREPL(runner, bridge)
}

// defaultURL points at the bridge's page channel from its config.
func defaultURL(config util.BridgeConfig, useHTTP bool) string {
	host := config.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(config.BridgePort))
	if useHTTP {
		return "http://" + hostPort + "/bridge"
	}
	return "ws://" + hostPort + "/bridge/ws"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func dial(url, secret string, origin protocol.Origin, useHTTP bool, browserOrigin string) (jsapi.Bridge, io.Closer, error) {
	if useHTTP {
		return pageclient.NewHTTPClient(url, secret, origin), nopCloser{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := pageclient.DialWS(ctx, url, secret, origin, browserOrigin)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func runFile(runner *scripting.GojaRunner, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	res, err := runInterruptible(runner, string(code))
	if err != nil {
		return err
	}
	if !res.IsEmpty {
		fmt.Println(formatValue(res.Value))
	}
	return nil
}
