// Package logging builds the process-wide logger.
package logging

import (
	"fmt"

	"github.com/dargueta/volumefs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a human-readable console logger writing to stderr at the given
// level ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid log level %q", level))
	}

	c := zap.NewProductionConfig()
	c.Level = atomicLevel
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.Sampling = nil

	logger, err := c.Build(
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.FatalLevel)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return logger, nil
}
