package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
)

type ctxLoggerKey struct{}

var (
	current   *slog.Logger
	currentMu sync.RWMutex
)

func init() {
	current = New("info", os.Stdout)
}

// Format selects the handler. Console output is colored for terminals and
// JSON emits one record per line for the server.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat converts a flag value to Format. Unknown values fall back to
// console.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}

type Option func(*options)

type options struct {
	format Format
}

// WithFormat sets the output format
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func parseLevel(level string) slog.Level {
	if lv, ok := levels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lv
	}
	if l := Default(); l != nil {
		l.Warn("unknown log level, using info", "level", level)
	}
	return slog.LevelInfo
}

// New creates a logger writing to w. level is one of debug, info, warn,
// warning or error, case-insensitive.
func New(level string, w io.Writer, opts ...Option) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	o := options{format: FormatConsole}
	for _, opt := range opts {
		opt(&o)
	}
	lv := parseLevel(level)

	if o.format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv}))
	}

	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(lv),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	))
}

// Default returns the process-wide logger
func Default() *slog.Logger {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// SetDefault replaces the process-wide logger
func SetDefault(logger *slog.Logger) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = logger
}

// With returns ctx carrying logger
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// Attach returns ctx whose logger carries the given attributes in addition
// to the ones already set.
func Attach(ctx context.Context, args ...any) context.Context {
	return With(ctx, From(ctx).With(args...))
}

// From returns the logger attached to ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
