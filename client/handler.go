package client

import (
	"context"
	"log/slog"
	"strings"

	"github.com/scribelog/scribec/internal"
)

// Handler plugs the client into log/slog as a sink. Records are formatted to
// one line and submitted under a fixed category. Submission failures are
// reported as diagnostics and never propagate; a logging sink must not take
// down its host application.
type Handler struct {
	client   *Client
	category string
	prefix   string
	level    slog.Leveler
	attrs    []slog.Attr
	groups   []string
}

// HandlerOpts configures a Handler.
type HandlerOpts struct {
	// Category is the collector category. Defaults to the client config's
	// category.
	Category string

	// Prefix is prepended to every formatted record.
	Prefix string

	// Level is the minimum record level. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// NewHandler returns a slog.Handler that forwards records through c.
func NewHandler(c *Client, opts *HandlerOpts) *Handler {
	if opts == nil {
		opts = &HandlerOpts{}
	}
	category := opts.Category
	if category == "" {
		category = c.conf.Category
	}
	return &Handler{
		client:   c,
		category: category,
		prefix:   opts.Prefix,
		level:    opts.Level,
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

// Handle implements slog.Handler. The record rides an async call; Handle
// never blocks on the collector and never returns an error.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	var sb strings.Builder
	if h.prefix != "" {
		sb.WriteString(h.prefix)
		sb.WriteByte(' ')
	}
	sb.WriteString(rec.Time.Format("2006/01/02 15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(rec.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(rec.Message)

	for _, a := range h.attrs {
		appendAttr(&sb, a, nil)
	}
	rec.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, a, h.groups)
		return true
	})

	call := h.client.LogAsync(h.category, []string{sb.String()})
	go func() {
		if _, err := call.Wait(); err != nil {
			internal.Logf("dropped log record: %v", err)
		}
	}()
	return nil
}

func appendAttr(sb *strings.Builder, a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	if len(groups) > 0 {
		sb.WriteString(strings.Join(groups, "."))
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(a.Value.String())
}

// WithAttrs implements slog.Handler. Attr keys are qualified with the open
// groups at the time they are added.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if len(h.groups) > 0 {
			a.Key = strings.Join(h.groups, ".") + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}
