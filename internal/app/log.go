package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"pinnit-go/internal/config"
	"pinnit-go/internal/pinnit"
)

// pinnitHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Records at or above level go to w; records at WARN and above are also
// echoed to console when it is set.
type pinnitHandler struct {
	w       io.Writer
	console io.Writer
	level   slog.Level
	opID    string
	attrs   []slog.Attr
}

func (h *pinnitHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.console != nil && level >= slog.LevelWarn {
		return true
	}
	return level >= h.level
}

func (h *pinnitHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')
	line := b.String()

	if r.Level >= h.level {
		if _, err := io.WriteString(h.w, line); err != nil {
			return err
		}
	}
	if h.console != nil && r.Level >= slog.LevelWarn {
		if _, err := io.WriteString(h.console, line); err != nil {
			return err
		}
	}
	return nil
}

func (h *pinnitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &pinnitHandler{
		w:       h.w,
		console: h.console,
		level:   h.level,
		opID:    h.opID,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *pinnitHandler) WithGroup(string) slog.Handler { return h }

// parseLevel maps a config level name to a slog level. Empty means info.
func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// newLogger creates a structured logger writing to logDir/pinnit.log,
// rotated by size, with warnings also echoed to stderr. The returned closer
// releases the log file.
func newLogger(cfg config.LogConfig, logDir, opID string) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "pinnit.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	handler := &pinnitHandler{w: rotator, console: os.Stderr, level: level, opID: opID}
	return slog.New(handler), rotator, nil
}

// slogAdapter wraps *slog.Logger to satisfy the pinnit.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// NewLogger builds the file logger for long-running processes that do not
// go through PinnitApp, such as pinnit-server.
func NewLogger(cfg config.LogConfig, logDir, name string) (pinnit.Logger, io.Closer, error) {
	l, closer, err := newLogger(cfg, logDir, name)
	if err != nil {
		return nil, nil, err
	}
	return &slogAdapter{l: l}, closer, nil
}
