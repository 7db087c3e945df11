// Package log wraps log/slog with nil-safe helpers and error-attribute
// extraction, used throughout the core instead of calling slog directly.
package log

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/nimblerpc/core/internal/wallclock"
)

type (
	// Logger is a wrapper around an slog.Logger with additional helpers and
	// nil checking so components can always hold a Logger value, even when
	// the caller configured none.
	Logger struct{ wrapped *slog.Logger }

	// Attrs lets an error expose extra structured attributes when logged.
	Attrs interface {
		Attrs() []slog.Attr
	}
)

// Wrap builds a Logger, falling back to def if logger is nil.
func Wrap(logger, def *slog.Logger) Logger {
	if logger == nil {
		logger = def
	}
	return Logger{logger}
}

// log is designed to build logging wrappers; see log/slog's note on
// wrapping output methods for why the call depth is threaded through pcs.
func (l Logger) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if !l.Enabled(ctx, level) {
		return
	}

	now := wallclock.Instance.Now()
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(now, level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.wrapped.Handler().Handle(ctx, r)
}

// Enabled indicates that the logger is enabled for the given level.
func (l Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.wrapped != nil && l.wrapped.Enabled(ctx, level)
}

// Debug logs a message at debug level.
func (l Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs...)
}

// Warn logs an error at warning level (the error was handled, but worth
// surfacing).
func (l Logger) Warn(ctx context.Context, err error, attrs ...slog.Attr) {
	l.errAt(ctx, slog.LevelWarn, err, attrs...)
}

// Err logs an error at error level.
func (l Logger) Err(ctx context.Context, err error, attrs ...slog.Attr) {
	l.errAt(ctx, slog.LevelError, err, attrs...)
}

func (l Logger) errAt(ctx context.Context, level slog.Level, err error, attrs ...slog.Attr) {
	if a, ok := err.(Attrs); ok {
		l.log(ctx, level, err.Error(), append(a.Attrs(), attrs...)...)
	} else {
		l.log(ctx, level, err.Error(), attrs...)
	}
}
