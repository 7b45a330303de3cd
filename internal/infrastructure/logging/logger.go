package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/infrastructure/config"
)

// ServiceName is attached to every entry as "service".
const ServiceName = "robocore"

// Logger is a slog.Logger whose level can be changed while the robot runs.
// Loggers derived with With or Throttle share the level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds the process logger from the logging section of the config.
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, version)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	if l, ok := parseLevel(cfg.Level); ok {
		level.Set(l)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h), level: level}
}

// Default logs JSON at info to stdout. It is used until the config is read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info"}, "dev")
}

// parseLevel reports false for anything it does not recognise.
func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// With returns a Logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Level is the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// ToggleDebug flips between debug and the configured level and returns the
// new level. It lets a bench operator look at loop-rate detail without a
// restart.
func (l *Logger) ToggleDebug(configured string) slog.Level {
	next := slog.LevelDebug
	if l.level.Level() == slog.LevelDebug {
		next, _ = parseLevel(configured)
	}
	l.level.Set(next)
	return next
}

// Throttle returns a Logger that writes a given message at most once per
// interval. Repeats inside the window are counted and reported as
// "suppressed" on the next entry that gets through. Components that can
// fail on every tick log through a throttled Logger.
func (l *Logger) Throttle(interval time.Duration) *Logger {
	h := &throttleHandler{
		next:     l.Logger.Handler(),
		interval: interval,
		state:    &throttleState{seen: make(map[string]*window)},
	}
	return &Logger{Logger: slog.New(h), level: l.level}
}

type window struct {
	last       time.Time
	suppressed int
}

type throttleState struct {
	mu   sync.Mutex
	seen map[string]*window
}

// throttleHandler keys on level and message. Derived handlers share state
// so the same message from two components still counts once per window.
type throttleHandler struct {
	next     slog.Handler
	interval time.Duration
	state    *throttleState
}

func (h *throttleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *throttleHandler) Handle(ctx context.Context, r slog.Record) error {
	key := r.Level.String() + "\x00" + r.Message

	h.state.mu.Lock()
	w, ok := h.state.seen[key]
	if !ok {
		w = &window{}
		h.state.seen[key] = w
	}
	if ok && r.Time.Sub(w.last) < h.interval {
		w.suppressed++
		h.state.mu.Unlock()
		return nil
	}
	suppressed := w.suppressed
	w.last, w.suppressed = r.Time, 0
	h.state.mu.Unlock()

	if suppressed > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("suppressed", suppressed))
	}
	return h.next.Handle(ctx, r)
}

func (h *throttleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &throttleHandler{next: h.next.WithAttrs(attrs), interval: h.interval, state: h.state}
}

func (h *throttleHandler) WithGroup(name string) slog.Handler {
	return &throttleHandler{next: h.next.WithGroup(name), interval: h.interval, state: h.state}
}
