// Package logger configures the process-wide slog logger and derives
// request- and agent-scoped loggers from a context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// Options selects the handler and its destination.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	// Dir, when set, tees output into a dated file under the directory.
	Dir string
	// Out overrides stderr; used by tests.
	Out io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// InitSlog builds the logger described by opts and installs it as the default.
func InitSlog(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	var writer io.Writer = os.Stderr
	if opts.Out != nil {
		writer = opts.Out
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(opts.Dir, "agentd-"+time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		logFile = f
		writer = io.MultiWriter(writer, f)
	}

	ho := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(writer, ho)
	} else {
		handler = slog.NewTextHandler(writer, ho)
	}
	slogger = slog.New(handler)
	slog.SetDefault(slogger)
	return slogger, nil
}

// CloseSlog closes the log file, if one was opened.
func CloseSlog() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the configured logger, or slog.Default before InitSlog.
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyAgent     contextKey = "agent"
)

// WithRequestID stores a request id for WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// WithAgent stores an agent name for WithContext.
func WithAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyAgent, name)
}

// WithContext returns a logger carrying the request id and agent from ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	if v := ctx.Value(ContextKeyRequestID); v != nil {
		l = l.With("request_id", v)
	}
	if v := ctx.Value(ContextKeyAgent); v != nil {
		l = l.With("agent", v)
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
