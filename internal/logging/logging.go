// Package logging builds the zap logger shared by every component.
package logging

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and the encoder of the logger.
type Config struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("log.format: must be console or json, got %q", c.Format)
	}
}

// New creates a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         strings.ToLower(cfg.Format),
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if zcfg.Encoding == "console" {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zcfg.Build()
}

// Sync flushes the logger, ignoring the harmless errors returned when stderr
// is a terminal.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
