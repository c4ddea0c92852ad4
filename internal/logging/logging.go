package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent     = "component"
	KeyCorrelationID = "id"
	KeyPackage       = "package"
	KeyCatalog       = "catalog"
	KeyMode          = "mode"
	KeyDurationMs    = "durationMs"
	KeyError         = "error"
	KeyURL           = "url"
	KeyLink          = "link"
)

// lateHandler forwards to whatever handler Init installed last. Loggers made
// by L at package init time hold one of these, so they follow Init.
type lateHandler struct {
	target *atomic.Pointer[slog.Handler]
	// derive replays With/WithGroup calls, in call order, on the target.
	derive []func(slog.Handler) slog.Handler
}

func (h *lateHandler) resolve() slog.Handler {
	handler := *h.target.Load()
	for _, fn := range h.derive {
		handler = fn(handler)
	}
	return handler
}

func (h *lateHandler) with(fn func(slog.Handler) slog.Handler) *lateHandler {
	derive := make([]func(slog.Handler) slog.Handler, len(h.derive), len(h.derive)+1)
	copy(derive, h.derive)
	return &lateHandler{target: h.target, derive: append(derive, fn)}
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.target.Load()).Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

var (
	current atomic.Pointer[slog.Handler]
	root    = slog.New(&lateHandler{target: &current})
)

func init() {
	install(newHandler("text", slog.LevelWarn, os.Stderr))
	slog.SetDefault(root)
}

func install(h slog.Handler) {
	current.Store(&h)
}

func newHandler(format string, level slog.Level, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// Init switches every logger to format ("json" or "text") at level, writing
// to output. A nil output means stderr; stdout carries command output.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	install(newHandler(format, parseLevel(level), output))
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return root.With(slog.String(KeyComponent, component))
}

// WithAttempt returns a child logger carrying the install correlation fields.
func WithAttempt(logger *slog.Logger, id int, packageName string) *slog.Logger {
	return logger.With(
		slog.Int(KeyCorrelationID, id),
		slog.String(KeyPackage, packageName),
	)
}

// redact drops query strings from download locations. Catalog links often
// carry signed tokens there.
func redact(groups []string, a slog.Attr) slog.Attr {
	if a.Key != KeyURL && a.Key != KeyLink {
		return a
	}
	var s string
	switch v := a.Value.Any().(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		return a
	}
	return slog.String(a.Key, StripQuery(s))
}

// StripQuery removes the query and fragment from every URL in s.
func StripQuery(s string) string {
	fields := strings.Fields(s)
	changed := false
	for i, f := range fields {
		if !strings.Contains(f, "://") {
			continue
		}
		if cut := strings.IndexAny(f, "?#"); cut >= 0 {
			fields[i] = f[:cut]
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(fields, " ")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
