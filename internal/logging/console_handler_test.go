package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapabilities struct {
	interactive bool
	color       bool
}

func (f fakeCapabilities) IsInteractive() bool             { return f.interactive }
func (f fakeCapabilities) SupportsColor() bool             { return f.color }
func (f fakeCapabilities) HasExplicitUserPreference() bool { return false }

func TestNewConsoleHandler_RequiresWriter(t *testing.T) {
	_, err := NewConsoleHandler(ConsoleHandlerOptions{})
	assert.ErrorIs(t, err, ErrConsoleWriterRequired)
}

func TestConsoleHandler(t *testing.T) {
	tests := []struct {
		name        string
		caps        fakeCapabilities
		logFile     string
		log         func(l *slog.Logger)
		contains    []string
		notContains []string
	}{
		{
			name: "non-interactive uses text format",
			caps: fakeCapabilities{interactive: false},
			log: func(l *slog.Logger) {
				l.Info("Method instrumented", "method", "App.Program::Main")
			},
			contains: []string{"level=INFO", `msg="Method instrumented"`, "method=App.Program::Main"},
		},
		{
			name: "interactive uses short format",
			caps: fakeCapabilities{interactive: true},
			log: func(l *slog.Logger) {
				l.Info("Aspects loaded", "count", 3)
			},
			contains:    []string{"INFO Aspects loaded", "count=3"},
			notContains: []string{"level="},
		},
		{
			name: "interactive groups qualify keys",
			caps: fakeCapabilities{interactive: true},
			log: func(l *slog.Logger) {
				l.With("module", "App").WithGroup("rewrite").Warn("Failed", "offset", 4)
			},
			contains: []string{"WARN Failed", "module=App", "rewrite.offset=4"},
		},
		{
			name:    "interactive errors mention the log file",
			caps:    fakeCapabilities{interactive: true},
			logFile: "/var/log/weaver/run.json",
			log: func(l *slog.Logger) {
				l.Error("Rewritten method rejected")
			},
			contains: []string{"ERROR Rewritten method rejected", "details: /var/log/weaver/run.json"},
		},
		{
			name: "below level is dropped",
			caps: fakeCapabilities{interactive: true},
			log: func(l *slog.Logger) {
				l.Debug("Module aspects bound")
			},
			notContains: []string{"Module aspects bound"},
		},
		{
			name: "colors when supported",
			caps: fakeCapabilities{interactive: true, color: true},
			log: func(l *slog.Logger) {
				l.Warn("x")
			},
			contains: []string{"\x1b["},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewConsoleHandler(ConsoleHandlerOptions{
				Writer:       &buf,
				Capabilities: tt.caps,
				LogFilePath:  tt.logFile,
			})
			require.NoError(t, err)

			tt.log(slog.New(h))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestConsoleHandler_Enabled(t *testing.T) {
	h, err := NewConsoleHandler(ConsoleHandlerOptions{Writer: &bytes.Buffer{}, Level: slog.LevelWarn})
	require.NoError(t, err)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
