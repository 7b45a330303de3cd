package eventlog

import (
	"context"
	"strings"
)

// LogHandler writes every event to a structured logger. Faults and backend
// errors are logged at error level, everything else at info.
type LogHandler struct {
	logger Logger
}

// NewLogHandler creates a handler that logs through l.
func NewLogHandler(l Logger) *LogHandler {
	if l == nil {
		l = noopLogger{}
	}
	return &LogHandler{logger: l}
}

// HandleEvent logs e.
func (h *LogHandler) HandleEvent(_ context.Context, e Event) error {
	args := []any{"event", e.Name, "event_id", e.ID, "message", e.Message}
	switch {
	case strings.HasPrefix(e.Name, "fault."), e.Name == EventBackendError, e.Name == EventRoutineFaulted:
		h.logger.Error("robot event", args...)
	case e.Name == EventLoopOverrun:
		h.logger.Warn("robot event", args...)
	default:
		h.logger.Info("robot event", args...)
	}
	return nil
}
