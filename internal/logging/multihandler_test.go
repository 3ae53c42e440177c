package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test errors
var (
	errHandler1 = errors.New("handler1 error")
	errHandler2 = errors.New("handler2 error")
)

// mockHandler is a test implementation of slog.Handler
type mockHandler struct {
	mu          *sync.Mutex
	enabled     bool
	records     *[]slog.Record
	attrs       []slog.Attr
	groups      []string
	handleError error
}

func newMockHandler(enabled bool) *mockHandler {
	return &mockHandler{
		mu:      &sync.Mutex{},
		enabled: enabled,
		records: &[]slog.Record{},
	}
}

func (m *mockHandler) Enabled(context.Context, slog.Level) bool {
	return m.enabled
}

func (m *mockHandler) Handle(_ context.Context, r slog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handleError != nil {
		return m.handleError
	}
	*m.records = append(*m.records, r.Clone())
	return nil
}

func (m *mockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *m
	clone.attrs = append(append([]slog.Attr(nil), m.attrs...), attrs...)
	return &clone
}

func (m *mockHandler) WithGroup(name string) slog.Handler {
	clone := *m
	clone.groups = append(append([]string(nil), m.groups...), name)
	return &clone
}

func (m *mockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(*m.records)
}

func newRecord(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestMultiHandler_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		handlers []slog.Handler
		want     bool
	}{
		{"no handlers", nil, false},
		{"all disabled", []slog.Handler{newMockHandler(false), newMockHandler(false)}, false},
		{"one enabled", []slog.Handler{newMockHandler(false), newMockHandler(true)}, true},
		{"nil handlers are dropped", []slog.Handler{nil, newMockHandler(true)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMultiHandler(tt.handlers...)
			assert.Equal(t, tt.want, h.Enabled(context.Background(), slog.LevelInfo))
		})
	}
}

func TestMultiHandler_Handle(t *testing.T) {
	enabled := newMockHandler(true)
	disabled := newMockHandler(false)
	h := NewMultiHandler(enabled, disabled)

	require.NoError(t, h.Handle(context.Background(), newRecord(slog.LevelInfo, "Method instrumented")))
	assert.Equal(t, 1, enabled.count())
	assert.Equal(t, 0, disabled.count())
	assert.Len(t, h.Handlers(), 2)
}

func TestMultiHandler_HandleJoinsErrors(t *testing.T) {
	first := newMockHandler(true)
	first.handleError = errHandler1
	second := newMockHandler(true)
	second.handleError = errHandler2
	ok := newMockHandler(true)

	err := NewMultiHandler(first, ok, second).Handle(context.Background(), newRecord(slog.LevelWarn, "x"))
	assert.ErrorIs(t, err, errHandler1)
	assert.ErrorIs(t, err, errHandler2)
	assert.Equal(t, 1, ok.count())
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	inner := newMockHandler(true)
	h := NewMultiHandler(inner).
		WithAttrs([]slog.Attr{slog.String("module", "App")}).
		WithGroup("method")

	multi, ok := h.(*MultiHandler)
	require.True(t, ok)
	derived, ok := multi.Handlers()[0].(*mockHandler)
	require.True(t, ok)
	assert.Equal(t, []string{"method"}, derived.groups)
	require.Len(t, derived.attrs, 1)
	assert.Equal(t, "module", derived.attrs[0].Key)
	assert.Empty(t, inner.attrs, "original handler must not change")
}
