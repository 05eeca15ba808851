// Package logging builds zap loggers and adapts them to core.Logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// ParseLevel maps debug|info|warn|error to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds a zap logger writing to stdout. JSON is the default format;
// console selects the development encoder.
func New(level string, format Format, service string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	switch format {
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
	case "", FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		logger = logger.With(zap.String("hostname", host))
	}
	return logger, nil
}

// Adapter exposes a zap logger through the key/value Logger interface used
// by the service layer.
type Adapter struct {
	sugar *zap.SugaredLogger
}

// NewAdapter wraps logger. A nil logger yields a no-op adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *Adapter) Debug(msg string, args ...any) { a.sugar.Debugw(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.sugar.Infow(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.sugar.Warnw(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (a *Adapter) Sync() error { return a.sugar.Sync() }
