// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide structured logger. It is a no-op logger until
// InitLogger is called so packages can log from tests without setup.
var Logger = zap.NewNop().Sugar()

// InitLogger initializes the global logger with appropriate log level
// Set APBRIDGE_DEBUG=1 environment variable to enable debug logging
func InitLogger() {
	level := zapcore.InfoLevel
	if os.Getenv("APBRIDGE_DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	Logger = zap.New(core).Sugar()
}

// Debug logs a debug message (only shown when APBRIDGE_DEBUG is set)
func Debug(msg string, keysAndValues ...any) {
	Logger.Debugw(msg, keysAndValues...)
}

// SyncLogger flushes buffered log entries. Call before exit.
func SyncLogger() {
	_ = Logger.Sync()
}
