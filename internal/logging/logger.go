// Package logging builds the process zap logger and the per-worker error
// log files that sit beside it.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the process logger's encoding and threshold.
type Options struct {
	// Development switches to colored console output at debug level.
	Development bool
	// Level overrides the preset threshold when set.
	Level string
	// Service is attached to every entry when set.
	Service string
}

// New builds the process logger. Both presets use "ts" as the time key so
// console and JSON output line up with the worker error log files.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if opts.Service != "" {
		cfg.InitialFields = map[string]any{"service": opts.Service}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ParseLevel converts a config string such as "warn" into a zap level.
// Empty input maps to WarnLevel, the error log default.
func ParseLevel(raw string) (zapcore.Level, error) {
	if raw == "" {
		return zapcore.WarnLevel, nil
	}
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.WarnLevel, fmt.Errorf("parse log level %q: %w", raw, err)
	}
	return lvl, nil
}
