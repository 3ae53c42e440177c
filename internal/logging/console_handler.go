package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// ErrConsoleWriterRequired is returned when ConsoleHandlerOptions has no Writer.
var ErrConsoleWriterRequired = errors.New("console handler requires a writer")

// ConsoleHandlerOptions configures a ConsoleHandler.
type ConsoleHandlerOptions struct {
	Level        slog.Leveler
	Writer       io.Writer
	Capabilities terminal.Capabilities
	// LogFilePath is mentioned after error records in interactive mode.
	LogFilePath string
}

// ConsoleHandler writes short colored lines to an interactive terminal and
// plain slog text lines otherwise.
type ConsoleHandler struct {
	opts    ConsoleHandlerOptions
	palette *terminal.Palette
	text    slog.Handler
	attrs   []slog.Attr
	groups  []string
	mu      *sync.Mutex
}

// NewConsoleHandler creates a console handler.
func NewConsoleHandler(opts ConsoleHandlerOptions) (*ConsoleHandler, error) {
	if opts.Writer == nil {
		return nil, ErrConsoleWriterRequired
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &ConsoleHandler{
		opts:    opts,
		palette: terminal.NewPalette(opts.Capabilities),
		text:    slog.NewTextHandler(opts.Writer, &slog.HandlerOptions{Level: opts.Level}),
		mu:      &sync.Mutex{},
	}, nil
}

func (h *ConsoleHandler) interactive() bool {
	return h.opts.Capabilities != nil && h.opts.Capabilities.IsInteractive()
}

// Enabled reports whether level reaches the configured minimum.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle formats and writes r.
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.interactive() {
		return h.text.Handle(ctx, r)
	}

	var sb strings.Builder
	sb.WriteString(h.palette.Muted(r.Time.Format(time.TimeOnly)))
	sb.WriteByte(' ')
	sb.WriteString(h.palette.Level(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		h.appendAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&sb, prefix, a)
		return true
	})
	sb.WriteByte('\n')

	if r.Level >= slog.LevelError && h.opts.LogFilePath != "" {
		sb.WriteString(h.palette.Muted(fmt.Sprintf("  details: %s", h.opts.LogFilePath)))
		sb.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.opts.Writer, sb.String())
	return err
}

func (h *ConsoleHandler) appendAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(sb, prefix, ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(h.palette.Muted(prefix + a.Key + "="))
	sb.WriteString(a.Value.String())
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.text = h.text.WithAttrs(attrs)
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &clone
}

// WithGroup returns a handler that qualifies later attributes with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.text = h.text.WithGroup(name)
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
