// Package xlog wraps log/slog with filtering and formatting conventions:
// third-party library logs are suppressed below DEBUG, output can be
// plain text for a terminal or structured JSON for a service deployment,
// and a small set of context helpers thread correlation_id/tenant_id
// through every record without every call site having to remember to
// attach them.
package xlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const corePackagePrefix = "github.com/aideny-kr/chatcore"

// ParseLevel converts a string log level to slog.Level. Unknown values fall
// back to Info rather than erroring, since a bad env var should degrade
// gracefully rather than take down startup.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
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

// filteringHandler suppresses third-party library log records unless the
// configured level is DEBUG, so that noisy dependency logging doesn't drown
// out the core's own turn/billing/audit lines in production.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel > slog.LevelDebug && !h.isCorePackage(record.PC) {
		return nil
	}
	return h.handler.Handle(ctx, record)
}

func (h *filteringHandler) isCorePackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	// CallersFrames resolves inlined frames, so a slog.Logger method inlined
	// into its caller still reports the caller rather than log/slog itself.
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return strings.Contains(frame.Function, corePackagePrefix) || strings.Contains(frame.File, "chatcore/")
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// Options configures New.
type Options struct {
	Level  slog.Level
	Format string // "json" or "text"; defaults to "json"
	Output io.Writer
}

// New builds a *slog.Logger per Options. It does not call slog.SetDefault —
// callers that want a process-wide default do that explicitly, keeping this
// package safe to use from tests that construct their own loggers.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if a.Value.String() == "WARNING" {
					return slog.String(slog.LevelKey, "WARN")
				}
			}
			return a
		},
	}

	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(out, handlerOpts)
	} else {
		base = slog.NewJSONHandler(out, handlerOpts)
	}

	return slog.New(&filteringHandler{handler: base, minLevel: opts.Level})
}

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	tenantIDKey
)

// WithCorrelationID returns a context carrying the per-turn correlation id
// used to stitch audit events, billing lines, and orchestration logs together.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id stored in ctx, or "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// WithTenantID returns a context carrying the resolved tenant id.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// TenantID returns the tenant id stored in ctx, or "" if absent.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// FromContext returns a logger derived from base with correlation_id and
// tenant_id attributes attached whenever present in ctx. Call sites should
// use this instead of passing the raw logger down the call stack so that
// every log line tied to a turn carries both ids automatically.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if cid := CorrelationID(ctx); cid != "" {
		l = l.With("correlation_id", cid)
	}
	if tid := TenantID(ctx); tid != "" {
		l = l.With("tenant_id", tid)
	}
	return l
}
