// Package logging configures the structured logger used throughout the
// flowgraph runtime: the *zap.SugaredLogger obtained here is handed to the
// supervisor and every block executor, which logs block failures on it.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config controls the logging subsystem.
type Config struct {
	// Level is the minimum logged severity.
	Level zapcore.Level `yaml:"level"`
}

// DefaultConfig returns an info-level logging configuration.
func DefaultConfig() Config {
	return Config{Level: zapcore.InfoLevel}
}

// Init builds a logger. Color output is enabled when stderr is a terminal,
// matching how operators run a flowgraph interactively versus under a
// supervisor that captures plain logs.
func Init(cfg Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), zapCfg.Level, nil
}

// Nop returns a logger that discards everything, for callers (such as
// tests driving an executor directly) that do not want flowgraph
// diagnostics.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
