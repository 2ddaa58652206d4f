// Package logging builds the zap loggers used by the pipeline and splits them
// into the status and audit channels.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger at level ("debug", "info", ...) writing
// format ("json" or "console") to outputPaths, or stderr when none are given.
func New(level, format string, outputPaths ...string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	switch format {
	case "", "console":
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	config.Sampling = nil
	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Channels are the named loggers a run writes to. Status carries progress and
// counts; the other three carry one line per inserted, updated or deleted row.
type Channels struct {
	Status   *zap.Logger
	Inserted *zap.Logger
	Updated  *zap.Logger
	Deleted  *zap.Logger
}

// NewChannels derives the named channels from root. A nil root yields no-op loggers.
func NewChannels(root *zap.Logger) Channels {
	if root == nil {
		root = zap.NewNop()
	}
	return Channels{
		Status:   root.Named("status"),
		Inserted: root.Named("inserted"),
		Updated:  root.Named("updated"),
		Deleted:  root.Named("deleted"),
	}
}

// Sync flushes every channel. Errors from syncing stderr are ignored.
func (c Channels) Sync() {
	for _, l := range []*zap.Logger{c.Status, c.Inserted, c.Updated, c.Deleted} {
		if l != nil {
			_ = l.Sync()
		}
	}
}
