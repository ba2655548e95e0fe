// Package dlogger exposes a simple zap logger, with log levels
package dlogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelInfo sets the log level to info
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug
	LogLevelDebug = "debug"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"
)

// Option tunes the logger configuration
type Option func(*zap.Config)

// Console renders human-readable lines on stderr instead of JSON, for interactive sessions
func Console(enabled bool) Option {
	return func(c *zap.Config) {
		if !enabled {
			return
		}
		c.Encoding = "console"
		c.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		c.DisableStacktrace = true
		c.DisableCaller = true
	}
}

// OutputPaths redirects the logs, e.g. to a file
func OutputPaths(paths ...string) Option {
	return func(c *zap.Config) {
		if len(paths) > 0 {
			c.OutputPaths = paths
		}
	}
}

// GetLogger returns a zap logger with the specified level
func GetLogger(logLevel string, opts ...Option) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stderr"}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	for _, apply := range opts {
		apply(&zapConfig)
	}
	return zapConfig.Build()
}

// MustGetLogger returns a zap logger with the specified level or panics
func MustGetLogger(logLevel string, opts ...Option) *zap.Logger {
	l, err := GetLogger(logLevel, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
