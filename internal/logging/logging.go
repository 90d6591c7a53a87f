// Package logging provides structured logging with zap.
package logging

import (
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console; empty picks console on a terminal
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	format := cfg.Format
	if format == "" {
		format = DefaultFormat()
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}

	globalLogger.Store(logger)
	return nil
}

// DefaultFormat returns "console" when stderr is a terminal and "json"
// otherwise.
func DefaultFormat() string {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return "console"
	}
	return "json"
}

// initDefault installs a production logger when Init was never called.
func initDefault() {
	config := zap.NewProductionConfig()
	config.Level = globalLevel
	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	globalLogger.CompareAndSwap(nil, logger)
}

// Sync flushes any buffered log entries.
func Sync() error {
	if logger := globalLogger.Load(); logger != nil {
		return logger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger.
func L() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	initDefault()
	return globalLogger.Load()
}

// Named returns the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Field helpers for common fields.
func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, val time.Duration) zap.Field {
	return zap.Duration(key, val)
}
