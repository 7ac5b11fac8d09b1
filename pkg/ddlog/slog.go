package ddlog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	TraceIDKey = "dd.trace_id"
	SpanIDKey  = "dd.span_id"
)

type HandlerOptions struct {
	// Level is the minimum level forwarded. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// Handler adapts a Logger to log/slog. Attributes are appended to the
// message as key=value pairs, except TraceIDKey and SpanIDKey which fill the
// record's trace fields.
type Handler struct {
	logger *Logger
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func NewHandler(l *Logger, opts *HandlerOptions) *Handler {
	h := &Handler{logger: l, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var (
		b       strings.Builder
		traceID string
		spanID  string
	)
	b.WriteString(r.Message)

	add := func(prefix string, a slog.Attr) {
		switch a.Key {
		case TraceIDKey:
			traceID = a.Value.String()
			return
		case SpanIDKey:
			spanID = a.Value.String()
			return
		}
		writeAttr(&b, prefix, a)
	}

	for _, a := range h.attrs {
		add("", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		add(prefix, a)
		return true
	})

	h.logger.LogWithTrace(b.String(), levelFromSlog(r.Level), traceID, spanID)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := groupPrefix(h.groups)
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if prefix != "" && a.Key != TraceIDKey && a.Key != SpanIDKey {
			a.Key = prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}

	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"=") {
		val = strconv.Quote(val)
	}
	fmt.Fprintf(b, " %s%s=%s", prefix, a.Key, val)
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError+4:
		return LevelCritical
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}
