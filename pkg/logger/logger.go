package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New. Zero value logs JSON at info level to stdout.
type Options struct {
	Env string
	// Level overrides the env-derived level when it parses.
	Level  string
	Writer io.Writer
}

// New returns the service's JSON logger. Debug level outside production-like environments.
func New(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(o)})
	return slog.New(h).With("service", "callcenter")
}

func levelFor(o Options) slog.Level {
	if o.Level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(o.Level)); err == nil {
			return l
		}
	}
	switch strings.ToLower(o.Env) {
	case "local", "dev", "test":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
