// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default port constants for bridge services
const (
	// DefaultBridgePort is the default port for the page channel (HTTP + WebSocket)
	DefaultBridgePort = 11280

	// DefaultNativeDecimals is the decimal exponent of ALGO (microAlgos)
	DefaultNativeDecimals = 6
)

// AppIdentityConfig is the application identity declared to external wallet apps
type AppIdentityConfig struct {
	Name string `yaml:"name" description:"Application name shown by the external wallet" default:"aPlane Bridge"`
	URI  string `yaml:"uri" description:"Application URI" default:"https://aplane.app"`
	Icon string `yaml:"icon" description:"Icon path relative to uri" default:"favicon.ico"`
}

// RateLimitConfig controls per-origin request throttling on the page channel
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" description:"Sustained requests per second per origin (0=unlimited)" default:"10"`
	Burst             int `yaml:"burst" description:"Burst size per origin" default:"20"`
}

// BridgeConfig represents the bridge configuration file
type BridgeConfig struct {
	BridgePort   int    `yaml:"bridge_port" description:"Page channel port (HTTP + WebSocket)" default:"11280"`
	BindAddress  string `yaml:"bind_address" description:"Interface for the page channel" default:"127.0.0.1"`
	IPCPath      string `yaml:"ipc_path" description:"Unix socket path for the confirmation UI" default:"$XDG_RUNTIME_DIR/apbridge.sock"`
	SecretFile   string `yaml:"secret_file" description:"Shared page secret (hex), generated on first start" default:"bridge.secret"`
	IPCTokenFile string `yaml:"ipc_token_file" description:"Token the confirmation UI presents on the IPC socket" default:"ipc.token"`
	AuditLog     string `yaml:"audit_log" description:"Append-only audit log path" default:"audit.log"`

	// Wallet settings
	ActiveWalletFile      string            `yaml:"active_wallet_file" description:"Persisted active wallet selection" default:"active_wallet.yaml"`
	EmbeddedKeyFile       string            `yaml:"embedded_key_file" description:"Encrypted embedded signer key" default:"wallet/embedded.key"`
	ExternalWalletURL     string            `yaml:"external_wallet_url" description:"WebSocket URL of the external wallet app" default:"ws://127.0.0.1:11290/wallet"`
	ExternalWalletTimeout string            `yaml:"external_wallet_timeout" description:"Timeout for one external wallet round trip" default:"2m"`
	AppIdentity           AppIdentityConfig `yaml:"app_identity" description:"Identity declared to external wallets"`

	// Confirmation settings
	ConfirmationTimeout string   `yaml:"confirmation_timeout" description:"Grace period before an unanswered ticket is abandoned" default:"5m"`
	AutoApproveMethods  []string `yaml:"auto_approve_methods" description:"Methods executed without confirmation (isConnected, disconnect, connect)" default:"[isConnected, disconnect]"`
	TrustedOriginsFile  string   `yaml:"trusted_origins_file" description:"Origins that completed a connect" default:"trusted_origins.json"`

	// Chain settings
	AlgodURL             string   `yaml:"algod_url" description:"Algod URL for asset lookup and broadcast" default:"https://testnet-api.4160.nodely.dev"`
	AlgodToken           string   `yaml:"algod_token" description:"Algod API token"`
	NativeDecimals       int      `yaml:"native_decimals" description:"Decimal exponent of the native asset family" default:"6"`
	WrappedNativeAssets  []uint64 `yaml:"wrapped_native_assets" description:"Asset ids that represent wrapped ALGO"`
	NativeLogoURL        string   `yaml:"native_logo_url" description:"Logo shown for the native asset"`
	AssetCacheTTL        string   `yaml:"asset_cache_ttl" description:"How long resolved asset params are cached" default:"10m"`
	WaitForConfirmations uint64   `yaml:"wait_for_confirmation_rounds" description:"Rounds to wait when a page asks for confirmation" default:"4"`

	// Page channel hardening
	AllowedOrigins []string        `yaml:"allowed_origins" description:"WebSocket Origin header allowlist (empty=any loopback page)"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" description:"Per-origin rate limit"`
	MetricsEnabled *bool           `yaml:"metrics_enabled" description:"Expose Prometheus metrics on /metrics" default:"true"`
}

// ResolvePath resolves a path relative to baseDir if not absolute.
// Returns path unchanged if empty or already absolute.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// GetDefaultIPCPath returns the default confirmation socket path.
// Prefers $XDG_RUNTIME_DIR (per-user, 0700) over /tmp.
func GetDefaultIPCPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "apbridge.sock")
	}
	return "/tmp/apbridge.sock"
}

// DefaultBridgeConfig returns the default bridge configuration.
// Relative paths are resolved against the data directory by LoadBridgeConfig.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		BridgePort:            DefaultBridgePort,
		BindAddress:           "127.0.0.1",
		IPCPath:               GetDefaultIPCPath(),
		SecretFile:            "bridge.secret",
		IPCTokenFile:          "ipc.token",
		AuditLog:              "audit.log",
		ActiveWalletFile:      "active_wallet.yaml",
		EmbeddedKeyFile:       filepath.Join("wallet", "embedded.key"),
		ExternalWalletURL:     "ws://127.0.0.1:11290/wallet",
		ExternalWalletTimeout: "2m",
		AppIdentity: AppIdentityConfig{
			Name: "aPlane Bridge",
			URI:  "https://aplane.app",
			Icon: "favicon.ico",
		},
		ConfirmationTimeout:  "5m",
		AutoApproveMethods:   []string{"isConnected", "disconnect"},
		TrustedOriginsFile:   "trusted_origins.json",
		AlgodURL:             "https://testnet-api.4160.nodely.dev",
		NativeDecimals:       DefaultNativeDecimals,
		AssetCacheTTL:        "10m",
		WaitForConfirmations: 4,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// GetBridgeDataDir returns the data directory for apbridge.
// It checks the -d flag value first, then the APBRIDGE_DATA env var.
// Returns empty string if neither is set.
func GetBridgeDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("APBRIDGE_DATA")
}

// RequireBridgeDataDir resolves the data directory from the flag value
// or APBRIDGE_DATA environment variable. Exits if neither is set.
func RequireBridgeDataDir(flagValue string) string {
	dir := GetBridgeDataDir(flagValue)
	if dir == "" {
		fmt.Fprintln(os.Stderr, "Error: Data directory not specified")
		fmt.Fprintln(os.Stderr, "Use -d <path> or set APBRIDGE_DATA environment variable")
		os.Exit(1)
	}
	return dir
}

// LoadBridgeConfig loads configuration from <dataDir>/config.yaml.
// Returns the default config (with paths resolved) if the file doesn't exist.
// A file that exists but fails to parse is an error: running a wallet bridge
// on silently-defaulted settings is worse than not starting.
func LoadBridgeConfig(dataDir string) (BridgeConfig, error) {
	config := DefaultBridgeConfig()

	if dataDir != "" {
		path := filepath.Join(dataDir, "config.yaml")
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return BridgeConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return BridgeConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config.fillDefaults()
	config.resolvePaths(dataDir)
	return config, nil
}

// fillDefaults restores defaults for fields that a partial config file zeroed out.
func (c *BridgeConfig) fillDefaults() {
	defaults := DefaultBridgeConfig()
	if c.BridgePort == 0 {
		c.BridgePort = defaults.BridgePort
	}
	if c.BindAddress == "" {
		c.BindAddress = defaults.BindAddress
	}
	if c.IPCPath == "" {
		c.IPCPath = defaults.IPCPath
	}
	if c.SecretFile == "" {
		c.SecretFile = defaults.SecretFile
	}
	if c.IPCTokenFile == "" {
		c.IPCTokenFile = defaults.IPCTokenFile
	}
	if c.AuditLog == "" {
		c.AuditLog = defaults.AuditLog
	}
	if c.ActiveWalletFile == "" {
		c.ActiveWalletFile = defaults.ActiveWalletFile
	}
	if c.EmbeddedKeyFile == "" {
		c.EmbeddedKeyFile = defaults.EmbeddedKeyFile
	}
	if c.ExternalWalletTimeout == "" {
		c.ExternalWalletTimeout = defaults.ExternalWalletTimeout
	}
	if c.AppIdentity.Name == "" {
		c.AppIdentity = defaults.AppIdentity
	}
	if c.ConfirmationTimeout == "" {
		c.ConfirmationTimeout = defaults.ConfirmationTimeout
	}
	if c.TrustedOriginsFile == "" {
		c.TrustedOriginsFile = defaults.TrustedOriginsFile
	}
	if c.NativeDecimals <= 0 {
		c.NativeDecimals = defaults.NativeDecimals
	}
	if c.AssetCacheTTL == "" {
		c.AssetCacheTTL = defaults.AssetCacheTTL
	}
	if c.WaitForConfirmations == 0 {
		c.WaitForConfirmations = defaults.WaitForConfirmations
	}
}

func (c *BridgeConfig) resolvePaths(dataDir string) {
	c.SecretFile = ResolvePath(c.SecretFile, dataDir)
	c.IPCTokenFile = ResolvePath(c.IPCTokenFile, dataDir)
	c.AuditLog = ResolvePath(c.AuditLog, dataDir)
	c.ActiveWalletFile = ResolvePath(c.ActiveWalletFile, dataDir)
	c.EmbeddedKeyFile = ResolvePath(c.EmbeddedKeyFile, dataDir)
	c.TrustedOriginsFile = ResolvePath(c.TrustedOriginsFile, dataDir)
}

// ConfirmationGrace returns the parsed confirmation timeout.
// "0" disables the grace period (tickets wait until resolved or cancelled).
func (c *BridgeConfig) ConfirmationGrace() (time.Duration, error) {
	return parseDurationSetting("confirmation_timeout", c.ConfirmationTimeout)
}

// ExternalTimeout returns the parsed external wallet round-trip timeout.
func (c *BridgeConfig) ExternalTimeout() (time.Duration, error) {
	return parseDurationSetting("external_wallet_timeout", c.ExternalWalletTimeout)
}

// AssetCacheDuration returns the parsed asset cache TTL.
func (c *BridgeConfig) AssetCacheDuration() (time.Duration, error) {
	return parseDurationSetting("asset_cache_ttl", c.AssetCacheTTL)
}

// ShouldExposeMetrics returns whether /metrics is served. Defaults to true.
func (c *BridgeConfig) ShouldExposeMetrics() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func parseDurationSetting(name, value string) (time.Duration, error) {
	if value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, value)
	}
	return d, nil
}
