// Package logger builds the process zap logger from CLI/config settings.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger writing to stderr.
// encoding: "json" or "console" ("text" and "plain" are accepted as console).
// level: "debug", "info", "warn", "error"; "fatal" and "panic" map to error.
// includeTime: if false, entries carry no timestamp.
func New(level, encoding string, includeTime bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	enc, err := ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if enc == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if !includeTime {
		encoderConfig.TimeKey = zapcore.OmitKey
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding:         enc,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zapcore.InfoLevel, nil
	case "fatal", "panic":
		return zapcore.ErrorLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// ParseEncoding maps a format name to a zap encoding.
func ParseEncoding(encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "json":
		return "json", nil
	case "console", "text", "plain":
		return "console", nil
	default:
		return "", fmt.Errorf("invalid log format %q (valid: json, console)", encoding)
	}
}
