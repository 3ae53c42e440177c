package terminal

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCleanEnv controls every variable the detection reads and sets only
// the specified ones.
func setupCleanEnv(t *testing.T, envVars map[string]string) {
	t.Helper()

	t.Setenv("NO_COLOR", "")
	if value, ok := envVars["NO_COLOR"]; ok {
		t.Setenv("NO_COLOR", value)
	} else {
		require.NoError(t, os.Unsetenv("NO_COLOR"))
	}

	valueChecked := append([]string{"CLICOLOR", "CLICOLOR_FORCE", "TERM"}, ciEnvVars...)
	for _, v := range valueChecked {
		t.Setenv(v, envVars[v])
	}
}

func newTestCapabilities(options Options, isTerminal bool) *DefaultCapabilities {
	c := NewCapabilities(options)
	c.isTerminal = func() bool { return isTerminal }
	return c
}

func TestCapabilities_IsInteractive(t *testing.T) {
	tests := []struct {
		name       string
		options    Options
		env        map[string]string
		isTerminal bool
		want       bool
	}{
		{
			name:       "terminal without CI",
			isTerminal: true,
			want:       true,
		},
		{
			name:       "not a terminal",
			isTerminal: false,
			want:       false,
		},
		{
			name:       "CI overrides terminal",
			env:        map[string]string{"CI": "true"},
			isTerminal: true,
			want:       false,
		},
		{
			name:       "CI=false is not CI",
			env:        map[string]string{"CI": "false"},
			isTerminal: true,
			want:       true,
		},
		{
			name:       "GitHub Actions",
			env:        map[string]string{"GITHUB_ACTIONS": "true"},
			isTerminal: true,
			want:       false,
		},
		{
			name:       "force interactive beats CI",
			options:    Options{ForceInteractive: true},
			env:        map[string]string{"CI": "1"},
			isTerminal: false,
			want:       true,
		},
		{
			name:       "force non-interactive",
			options:    Options{ForceNonInteractive: true},
			isTerminal: true,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCleanEnv(t, tt.env)
			c := newTestCapabilities(tt.options, tt.isTerminal)
			assert.Equal(t, tt.want, c.IsInteractive())
		})
	}
}

func TestCapabilities_SupportsColor(t *testing.T) {
	tests := []struct {
		name         string
		options      Options
		env          map[string]string
		isTerminal   bool
		want         bool
		wantExplicit bool
	}{
		{
			name:       "interactive color terminal",
			env:        map[string]string{"TERM": "xterm-256color"},
			isTerminal: true,
			want:       true,
		},
		{
			name:       "dumb terminal",
			env:        map[string]string{"TERM": "dumb"},
			isTerminal: true,
			want:       false,
		},
		{
			name:       "unknown terminal",
			env:        map[string]string{"TERM": "mystery"},
			isTerminal: true,
			want:       false,
		},
		{
			name:       "non-interactive never colors by default",
			env:        map[string]string{"TERM": "xterm"},
			isTerminal: false,
			want:       false,
		},
		{
			name:         "NO_COLOR with empty value",
			env:          map[string]string{"TERM": "xterm", "NO_COLOR": ""},
			isTerminal:   true,
			want:         false,
			wantExplicit: true,
		},
		{
			name:         "CLICOLOR_FORCE beats NO_COLOR",
			env:          map[string]string{"CLICOLOR_FORCE": "1", "NO_COLOR": "1"},
			isTerminal:   false,
			want:         true,
			wantExplicit: true,
		},
		{
			name:       "CLICOLOR=0 in interactive mode",
			env:        map[string]string{"TERM": "xterm", "CLICOLOR": "0"},
			isTerminal: true,
			want:       false,
		},
		{
			name:         "disable flag beats CLICOLOR_FORCE",
			options:      Options{DisableColor: true},
			env:          map[string]string{"CLICOLOR_FORCE": "1"},
			isTerminal:   true,
			want:         false,
			wantExplicit: true,
		},
		{
			name:         "force flag",
			options:      Options{ForceColor: true},
			isTerminal:   false,
			want:         true,
			wantExplicit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCleanEnv(t, tt.env)
			c := newTestCapabilities(tt.options, tt.isTerminal)
			assert.Equal(t, tt.want, c.SupportsColor())
			assert.Equal(t, tt.wantExplicit, c.HasExplicitUserPreference())
		})
	}
}

func TestPalette(t *testing.T) {
	setupCleanEnv(t, nil)

	plain := NewPalette(newTestCapabilities(Options{DisableColor: true}, true))
	assert.Equal(t, "WARN", plain.Level(slog.LevelWarn))
	assert.Equal(t, "+ ret", plain.Added("+ ret"))

	colored := NewPalette(newTestCapabilities(Options{ForceColor: true}, false))
	got := colored.Level(slog.LevelError)
	assert.Contains(t, got, "ERROR")
	assert.Contains(t, got, "\x1b[")

	assert.Equal(t, "INFO", NewPalette(nil).Level(slog.LevelInfo))
}
