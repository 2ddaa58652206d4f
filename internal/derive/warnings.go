package derive

import (
	"sync"

	"go.uber.org/zap"
)

// Warnings emits each distinct warning text at most once per run.
type Warnings struct {
	logger *zap.Logger
	seen   sync.Map
}

// NewWarnings returns a deduplicating warning sink.
func NewWarnings(logger *zap.Logger) *Warnings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warnings{logger: logger}
}

// Warn logs msg unless the same text was already logged; it reports whether it was emitted.
func (w *Warnings) Warn(msg string, fields ...zap.Field) bool {
	if _, loaded := w.seen.LoadOrStore(msg, struct{}{}); loaded {
		return false
	}
	w.logger.Warn(msg, fields...)
	return true
}

// Count returns the number of distinct warnings emitted.
func (w *Warnings) Count() int {
	n := 0
	w.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
