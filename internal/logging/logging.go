// Package logging builds the structured *zap.Logger injected into every
// component, replacing plain stdlib log.Printf calls (disruptor
// batcher/processor, cmd/server/main.go) and the process-wide singleton
// the source language used (avoiding global mutable singletons →
// injected sinks), grounded on abdoElHodaky-tradSys's BaseEngine pattern
// of a *zap.Logger field set at construction.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap.Logger at the given level
// ("debug", "info", "warn", "error"). An unknown level defaults to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything, used in tests that don't
// care about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
