// Package logging builds the slog handlers used by the weaver tools: a
// console handler that adapts to the terminal, a JSON log file per run and a
// fan-out handler tying them together.
package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler fans a weaver run's records out to the console and to the run
// log file. Each sink keeps its own level, so the file can record Debug
// rewrites while the console shows only Info and above.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler returns a handler writing to every non-nil sink. A nil sink
// stands for an output that was not configured, such as a missing log
// directory.
func NewMultiHandler(sinks ...slog.Handler) *MultiHandler {
	h := &MultiHandler{handlers: make([]slog.Handler, 0, len(sinks))}
	for _, sink := range sinks {
		if sink != nil {
			h.handlers = append(h.handlers, sink)
		}
	}
	return h
}

// Enabled reports whether any sink wants records at level.
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.handlers {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives each interested sink its own copy of r. A failing sink does
// not stop the others; all failures are returned together.
func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sink := range h.handlers {
		if sink.Enabled(ctx, r.Level) {
			errs = append(errs, sink.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

// Handlers returns the sinks.
func (h *MultiHandler) Handlers() []slog.Handler {
	return append([]slog.Handler(nil), h.handlers...)
}

// WithAttrs attaches attrs, such as the run ID, to every sink.
func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(sink slog.Handler) slog.Handler { return sink.WithAttrs(attrs) })
}

// WithGroup opens group name on every sink.
func (h *MultiHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(sink slog.Handler) slog.Handler { return sink.WithGroup(name) })
}

func (h *MultiHandler) derive(f func(slog.Handler) slog.Handler) *MultiHandler {
	out := &MultiHandler{handlers: make([]slog.Handler, len(h.handlers))}
	for i, sink := range h.handlers {
		out.handlers[i] = f(sink)
	}
	return out
}
