// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// apconfirm is the confirmation UI for apbridge. It connects to the bridge's
// IPC socket and shows one modal per ticket awaiting the user's decision.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aplane-algo/apbridge/cmd/apconfirm/internal/tui"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/transport"
	"github.com/aplane-algo/apbridge/internal/util"
	"github.com/aplane-algo/apbridge/internal/version"
)

const handshakeTimeout = 10 * time.Second

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("d", "", "Data directory (required, or set APBRIDGE_DATA)")
	displace := flag.Bool("displace", false, "Take over the session if another confirmation UI is connected")
	flag.Parse()
	if *printVersion {
		fmt.Printf("apconfirm %s\n", version.String())
		os.Exit(0)
	}

	resolvedDataDir := util.RequireBridgeDataDir(*dataDir)
	config, err := util.LoadBridgeConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	token, err := util.ReadSecret(config.IPCTokenFile)
	if err != nil || token == "" {
		fmt.Fprintf(os.Stderr, "Error: cannot read IPC token from %s: %v\n", config.IPCTokenFile, err)
		fmt.Fprintln(os.Stderr, "Start apbridge once to create it.")
		os.Exit(1)
	}

	fmt.Printf("Connecting to apbridge via IPC (%s)...\n", config.IPCPath)

	// Later reconnects from inside the TUI always displace: the user asked for it.
	first := true
	dial := func() (tui.Conn, *protocol.StatusMessage, error) {
		takeOver := *displace || !first
		first = false
		return connect(config.IPCPath, token, takeOver)
	}

	conn, status, err := dial()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, transport.ErrAlreadyConnected) {
			fmt.Fprintln(os.Stderr, "Run with -displace to take over the session.")
		}
		os.Exit(1)
	}

	model := tui.NewModel(conn, status, dial)
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if c, ok := final.(tui.Model); ok {
		c.Close()
	}
	if err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the socket and completes the auth handshake.
func connect(path, token string, displace bool) (tui.Conn, *protocol.StatusMessage, error) {
	client := transport.NewIPC(path)
	if err := client.Dial(); err != nil {
		return nil, nil, err
	}
	if err := client.Authenticate(token, displace, handshakeTimeout); err != nil {
		client.Close()
		return nil, nil, err
	}
	status, err := client.WaitForStatus(handshakeTimeout)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, status, nil
}
