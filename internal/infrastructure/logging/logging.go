package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Service    string
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Init installs the default slog logger for a binary. Output always goes to
// stdout and, when File is set, to a size-rotated file as well. The returned
// writer is nil when no file is configured.
func Init(cfg Config) (*RotatingWriter, error) {
	level := parseLevel(cfg.Level)
	writers := []io.Writer{os.Stdout}

	var rotating *RotatingWriter
	if strings.TrimSpace(cfg.File) != "" {
		writer, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		rotating = writer
		writers = append(writers, writer)
	}

	handler := newHandler(io.MultiWriter(writers...), cfg.Format, level)
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)

	stdLogger := slog.NewLogLogger(logger.Handler(), level)
	log.SetFlags(0)
	log.SetOutput(stdLogger.Writer())

	return rotating, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return traceHandler{slog.NewJSONHandler(w, opts)}
	}
	return traceHandler{slog.NewTextHandler(w, opts)}
}

// traceHandler stamps records logged with a *Context call with the active
// trace id, so log lines can be joined with spans.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
		record.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
