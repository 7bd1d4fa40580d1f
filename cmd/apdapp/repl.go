// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/aplane-algo/apbridge/internal/jsapi"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/scripting"
)

const replHelp = `Enter JavaScript. Bridge functions:
  connect()  disconnect()  isConnected()
  signMessage(msg[, encoding])  signTransaction(txn[, simulate])
  signAllTransactions([txns][, simulate])  signAndSend(txn[, simulate])
  request(method[, params])  origin([domain, name])
Builders: payment({...})  assetTransfer({...})  group([txns])  decodeSigned(stx)
Helpers: algo(n)  microalgos(n)  print(...)  sleep(ms)
Commands:
  .origin <domain> [name]  change the claimed origin
  .load <file.js>          run a script file
  .verbose on|off          print each bridge call
  { ... }                  multi-line input, closed by a line with }
  .exit                    quit`

func prompt(b jsapi.Bridge) string {
	return fmt.Sprintf("\033[32m%s>\033[0m ", b.Origin().Domain)
}

func startREPL(runner *scripting.GojaRunner, bridge jsapi.Bridge) {
	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(bridge),
		HistoryFile:       filepath.Join(homeDir, ".apdapp_history"),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Failed to create readline instance: %v\n", err)
		return
	}
	defer func() { _ = rl.Close() }()

	for {
		rl.SetPrompt(prompt(bridge))
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					fmt.Println("Use .exit to exit")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		code := strings.TrimSpace(line)
		if code == "" {
			continue
		}
		if strings.HasPrefix(code, ".") {
			quit, err := dotCommand(runner, bridge, code)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			if quit {
				return
			}
			continue
		}
		if code == "{" {
			block, ok := readBlock(rl)
			if !ok {
				continue
			}
			code = block
		}

		res, err := runInterruptible(runner, code)
		if errors.Is(err, scripting.ErrInterrupted) {
			fmt.Println("Interrupted")
			continue
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if !res.IsEmpty {
			fmt.Println(formatValue(res.Value))
		}
	}
}

// readBlock collects lines until a closing brace. ok is false when cancelled.
func readBlock(rl *readline.Instance) (string, bool) {
	rl.SetPrompt("... ")
	var lines []string
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				fmt.Println("Cancelled.")
				return "", false
			}
			break
		}
		if strings.TrimSpace(line) == "}" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), true
}

// dotCommand handles REPL commands. quit reports whether to leave the REPL.
func dotCommand(runner *scripting.GojaRunner, bridge jsapi.Bridge, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".exit", ".quit":
		return true, nil
	case ".help":
		fmt.Println(replHelp)
	case ".origin":
		if len(fields) < 2 {
			o := bridge.Origin()
			fmt.Printf("%s %s\n", o.Domain, o.WebsiteName)
			return false, nil
		}
		bridge.SetOrigin(protocol.Origin{Domain: fields[1], WebsiteName: strings.Join(fields[2:], " ")})
	case ".load":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: .load <file.js>")
		}
		return false, runFile(runner, fields[1])
	case ".verbose":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, fmt.Errorf("usage: .verbose on|off")
		}
		runner.SetVerbose(fields[1] == "on")
	default:
		return false, fmt.Errorf("unknown command %s (try .help)", fields[0])
	}
	return false, nil
}

// runInterruptible runs code with Ctrl+C wired to the runner's interrupt.
// A pending bridge call still waits for its own timeout.
func runInterruptible(runner scripting.Runner, code string) (scripting.Result, error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sigs)
		close(done)
	}()
	go func() {
		select {
		case <-sigs:
			runner.Interrupt()
		case <-done:
		}
	}()
	return runner.Run(code)
}

// formatValue renders a script result. Objects and arrays print as indented JSON.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case map[string]any, []any, []string:
		out, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(out)
	}
	return fmt.Sprint(v)
}
