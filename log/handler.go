// Package log routes slog records across the guest boundary. Records pass
// to the host's log function as structured requests, so extension logs land
// in the host's logger with extension attribution instead of being lost to
// a sandboxed stdout.
package log

import (
	"context"
	"log/slog"

	"github.com/gantry-dev/gantry/domain/entities"
	"github.com/gantry-dev/gantry/internal/wasmcontext"
)

// Handler implements slog.Handler over the host log function. Attribute
// sets and group prefixes accumulate guest side; the host receives one flat
// key/value map per record.
type Handler struct {
	level  slog.Leveler
	source bool
	prefix string
	attrs  map[string]string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLevel sets the minimum level forwarded to the host. Records below it
// never cross the boundary.
func WithLevel(level slog.Leveler) HandlerOption {
	return func(h *Handler) {
		if level != nil {
			h.level = level
		}
	}
}

// WithSource attaches the file:line of the log call to each record.
func WithSource(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.source = enabled
	}
}

// NewHandler creates a handler forwarding at info and above by default.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		level: slog.LevelInfo,
		attrs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Install replaces the process default logger with one backed by the host
// log function. Call it once from the extension's init path.
func Install(opts ...HandlerOption) {
	slog.SetDefault(slog.New(NewHandler(opts...)))
}

// Enabled reports whether records at the given level are forwarded.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle flattens the record and sends it to the host. The host stamps its
// own arrival time, so record time does not travel.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs()+1)
	for k, v := range h.attrs {
		attrs[k] = v
	}
	record.Attrs(func(a slog.Attr) bool {
		flattenAttr(attrs, h.prefix, a)
		return true
	})
	if h.source {
		if src := sourceLocation(record.PC); src != "" {
			attrs["source"] = src
		}
	}

	emit(entities.LogRequest{
		Level:   levelString(record.Level),
		Message: record.Message,
		Attrs:   attrs,
		Context: wasmcontext.ToWire(ctx),
	})
	return nil
}

// WithAttrs returns a handler whose records carry the given attributes,
// qualified by the current group prefix.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := h.clone()
	for _, a := range attrs {
		flattenAttr(nh.attrs, nh.prefix, a)
	}
	return nh
}

// WithGroup returns a handler qualifying subsequent keys with the group
// name, dotted.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.prefix = joinKey(nh.prefix, name)
	return nh
}

func (h *Handler) clone() *Handler {
	attrs := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &Handler{level: h.level, source: h.source, prefix: h.prefix, attrs: attrs}
}
