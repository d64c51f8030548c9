package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerWithFile creates a logger that writes to both console and a
// file at the given level ("debug", "info", "warn", or "error"; an
// unrecognized value falls back to info).
func NewLoggerWithFile(logPath string, level string) (*zap.Logger, error) {
	// Ensure log directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Open log file
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zap.InfoLevel
	}

	// Encoder config
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	// Console encoder (JSON for structured logs)
	consoleEncoder := zapcore.NewJSONEncoder(encoderCfg)

	// File encoder (JSON as well)
	fileEncoder := zapcore.NewJSONEncoder(encoderCfg)

	// Create multi-writer core
	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), lvl),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), lvl),
	)

	return zap.New(core), nil
}
