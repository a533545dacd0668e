// Package logger wraps zerolog with context carried fields so request, user
// and cart identifiers follow a call chain without being threaded by hand.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/storefront-backend/pkg/env"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	// frames kept from runtime/debug.Stack in stack fields
	maxStackLines = 40
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	// Format is json or console; empty reads STOREFRONT_LOG_FORMAT, then LOG_FORMAT.
	Format string
	Output io.Writer
}

type Logger struct {
	base      *zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.First(FormatJSON, "STOREFRONT_LOG_FORMAT", "LOG_FORMAT")
	}
	if strings.EqualFold(format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(out).
		Level(opts.Level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: &base, warnStack: opts.WarnStack}
}

// ParseLevel defaults to info for empty or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) entry(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if scoped, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return scoped
		}
	}
	return l.base
}

func (l *Logger) with(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	scoped := build(l.entry(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &scoped)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Fields(fields)
	})
}

// Field keys shared by every service so log queries can join across them.
const (
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"
	FieldRole      = "actor_role"
	FieldOrderID   = "order_id"
	FieldCartID    = "cart_id"
)

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldRequestID, id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldUserID, id)
}

// WithSessionID keeps the first 8 characters. A full guest session id opens
// the guest cart, so it never reaches the logs.
func (l *Logger) WithSessionID(ctx context.Context, id string) context.Context {
	const keep = 8
	if len(id) > keep {
		id = id[:keep]
	}
	return l.WithField(ctx, FieldSessionID, id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, FieldRole, role)
}

func (l *Logger) WithOrderID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldOrderID, id)
}

func (l *Logger) WithCartID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldCartID, id)
}

func (l *Logger) Debug(ctx context.Context, msg string) { l.entry(ctx).Debug().Msg(msg) }

func (l *Logger) Info(ctx context.Context, msg string) { l.entry(ctx).Info().Msg(msg) }

// Warn attaches a stack only when Options.WarnStack is set.
func (l *Logger) Warn(ctx context.Context, msg string) {
	l.entry(ctx).Warn().Func(func(e *zerolog.Event) {
		if l.warnStack {
			e.Str("stack", stackTrace())
		}
	}).Msg(msg)
}

// Error always carries a stack, plus error_code when err is a typed API error.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.entry(ctx).Error().Err(err).Func(func(e *zerolog.Event) {
		if typed := pkgerrors.As(err); typed != nil {
			e.Str("error_code", string(typed.Code()))
		}
		e.Str("stack", stackTrace())
	}).Msg(msg)
}

func stackTrace() string {
	lines := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
	if len(lines) > maxStackLines {
		lines = lines[:maxStackLines]
	}
	return strings.Join(lines, "\n")
}
