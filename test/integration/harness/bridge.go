// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeHarness runs an apbridge process against a throwaway data directory
// with the embedded wallet selected.
type BridgeHarness struct {
	t          *testing.T
	cmd        *exec.Cmd
	dataDir    string
	buildDir   string
	port       int
	ipcPath    string
	passphrase string
	logFile    *os.File
	cancelFunc context.CancelFunc
}

// bridgeConfig is the subset of config.yaml the harness writes
type bridgeConfig struct {
	BridgePort          int    `yaml:"bridge_port"`
	BindAddress         string `yaml:"bind_address"`
	IPCPath             string `yaml:"ipc_path"`
	AlgodURL            string `yaml:"algod_url"`
	ConfirmationTimeout string `yaml:"confirmation_timeout"`
}

// NewBridgeHarness prepares a data directory. The bridge is not started.
func NewBridgeHarness(t *testing.T) *BridgeHarness {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	buildDir := filepath.Join(root, "build")
	for _, dir := range []string{dataDir, buildDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	port, err := freePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}

	cfg := bridgeConfig{
		BridgePort:          port,
		BindAddress:         "127.0.0.1",
		IPCPath:             filepath.Join(root, "apbridge.sock"),
		AlgodURL:            "",
		ConfirmationTimeout: "30s",
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to encode config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("Failed to write config.yaml: %v", err)
	}

	return &BridgeHarness{
		t:          t,
		dataDir:    dataDir,
		buildDir:   buildDir,
		port:       port,
		ipcPath:    cfg.IPCPath,
		passphrase: "integration-test-passphrase",
	}
}

// Build compiles apbridge if needed
func (b *BridgeHarness) Build() error {
	binaryPath := filepath.Join(b.buildDir, "apbridge")
	if _, err := os.Stat(binaryPath); err == nil {
		return nil
	}
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/apbridge")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to build apbridge: %w\nOutput: %s", err, output)
	}
	return nil
}

// Start launches apbridge and waits for /health
func (b *BridgeHarness) Start() error {
	if err := b.Build(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancelFunc = cancel

	logFile, err := os.Create(filepath.Join(b.buildDir, "apbridge.log"))
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	b.logFile = logFile

	b.cmd = exec.CommandContext(ctx, filepath.Join(b.buildDir, "apbridge"), "-d", b.dataDir)
	b.cmd.Env = append(os.Environ(),
		"APBRIDGE_PASSPHRASE="+b.passphrase,
		"APBRIDGE_DEBUG=1",
		"DISABLE_MEMORY_LOCK=1",
	)
	stdout, err := b.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := b.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	go b.captureOutput(stdout, "[STDOUT]")
	go b.captureOutput(stderr, "[STDERR]")

	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start apbridge: %w", err)
	}
	if err := b.WaitForReady(10 * time.Second); err != nil {
		_ = b.Stop()
		return fmt.Errorf("apbridge failed to start: %w", err)
	}
	b.t.Logf("apbridge started on port %d", b.port)
	return nil
}

// Stop terminates apbridge
func (b *BridgeHarness) Stop() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	if b.cancelFunc != nil {
		b.cancelFunc()
	}

	done := make(chan error, 1)
	go func() {
		done <- b.cmd.Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if err := b.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill apbridge: %w", err)
		}
		<-done
	}

	if b.logFile != nil {
		_ = b.logFile.Close()
	}
	b.t.Logf("apbridge stopped")
	return nil
}

// WaitForReady polls the health endpoint
func (b *BridgeHarness) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/health", b.port)
	for time.Now().Before(deadline) {
		if b.cmd.ProcessState != nil && b.cmd.ProcessState.Exited() {
			return fmt.Errorf("apbridge process exited unexpectedly")
		}
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for apbridge to be ready")
}

// WebSocketURL is the page channel endpoint
func (b *BridgeHarness) WebSocketURL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/bridge/ws", b.port)
}

// PostURL is the one-shot HTTP endpoint
func (b *BridgeHarness) PostURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/bridge", b.port)
}

// IPCPath is the confirmation UI socket
func (b *BridgeHarness) IPCPath() string {
	return b.ipcPath
}

// DataDir is the bridge data directory
func (b *BridgeHarness) DataDir() string {
	return b.dataDir
}

// PageSecret reads the secret the bridge generated on first start
func (b *BridgeHarness) PageSecret() (string, error) {
	return readTrimmed(filepath.Join(b.dataDir, "bridge.secret"))
}

// IPCToken reads the confirmation UI token
func (b *BridgeHarness) IPCToken() (string, error) {
	return readTrimmed(filepath.Join(b.dataDir, "ipc.token"))
}

// GetLogs returns the captured process output
func (b *BridgeHarness) GetLogs() (string, error) {
	data, err := os.ReadFile(filepath.Join(b.buildDir, "apbridge.log"))
	if err != nil {
		return "", fmt.Errorf("failed to read log file: %w", err)
	}
	return string(data), nil
}

func (b *BridgeHarness) captureOutput(r io.Reader, prefix string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logLine := fmt.Sprintf("%s %s %s\n", time.Now().Format("15:04:05.000"), prefix, scanner.Text())
		if b.logFile != nil {
			_, _ = b.logFile.WriteString(logLine)
		}
		if testing.Verbose() {
			b.t.Log(strings.TrimSpace(logLine))
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
