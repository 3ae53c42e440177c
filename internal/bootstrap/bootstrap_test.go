package bootstrap

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/config"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/logging"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

const rulesText = `[AspectClass("mscorlib,netstandard,System.Runtime",[],PROPAGATION,[])] Datadog.Trace.Iast.Aspects.StringAspects
  [AspectMethodReplace("System.String::Concat(System.String,System.String)","",[0],[False],[],DEFAULT,[])] Concat(System.String,System.String)
  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[]);V99.0.0] Trim(System.String)
  [AspectMethodWrap("System.String::Trim()","",[0],[False],[],DEFAULT,[])] Trim(System.String)
`

func newConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.NewLoaderWithFS(nil, nil).LoadConfig([]byte(content))
	require.NoError(t, err)
	return cfg
}

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name        string
		level       slog.Level
		withLogDir  bool
		wantConsole string
	}{
		{
			name:        "console only",
			level:       slog.LevelInfo,
			wantConsole: "Logger initialized",
		},
		{
			name:        "console and log file",
			level:       slog.LevelDebug,
			withLogDir:  true,
			wantConsole: "Logger initialized",
		},
		{
			name:  "warn level hides start-up message",
			level: slog.LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreDefaultLogger(t)
			var console bytes.Buffer
			cfg := LoggerConfig{
				Level:         tt.level,
				RunID:         "run-" + strings.ReplaceAll(tt.name, " ", "-"),
				ConsoleWriter: &console,
				Terminal:      terminal.Options{ForceNonInteractive: true},
			}
			if tt.withLogDir {
				cfg.LogDir = filepath.Join(t.TempDir(), "logs")
			}

			logFile, err := SetupLogger(cfg)
			require.NoError(t, err)
			slog.Warn("Rewritten method rejected, keeping original body")

			if tt.wantConsole != "" {
				assert.Contains(t, console.String(), tt.wantConsole)
			} else {
				assert.NotContains(t, console.String(), "Logger initialized")
			}
			assert.Contains(t, console.String(), "Rewritten method rejected")

			if !tt.withLogDir {
				assert.Nil(t, logFile)
				return
			}
			require.NotNil(t, logFile)
			require.NoError(t, logFile.Close())

			content, err := os.ReadFile(logFile.Path)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(string(content)), "\n")
			require.Len(t, lines, 2)
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
			assert.Equal(t, "WARN", entry["level"])
			assert.Equal(t, cfg.RunID, entry["run_id"])
		})
	}
}

func TestSetupLogger_LogDirFailure(t *testing.T) {
	restoreDefaultLogger(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := SetupLogger(LoggerConfig{LogDir: filepath.Join(blocker, "logs"), RunID: "r"})
	var runErr *logging.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, logging.ErrorTypeLogFileOpen, runErr.Type)
}

func TestEngineOptions(t *testing.T) {
	cfg := newConfig(t, `
[engine]
apply_on_jit = true
verify_rewrites = false
method_cache_size = 16

[exclusions]
assembly_includes = ["System.Web"]
method_excludes = ["App.Generated*"]
`)
	opts := EngineOptions(cfg)
	assert.True(t, opts.ApplyOnJIT)
	assert.False(t, opts.Verify)
	assert.False(t, opts.DumpIL)
	assert.Equal(t, 16, opts.MethodCacheSize)
	assert.Equal(t, []string{"System.Web"}, opts.Exclusions.AssemblyIncludes)
	assert.Equal(t, []string{"App.Generated*"}, opts.Exclusions.MethodExcludes)
}

func TestLoadRules(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "aspects.txt")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesText), 0o600))

	tests := []struct {
		name        string
		content     string
		wantAspects int
		wantDropped int
		wantSkipped int
	}{
		{
			name:        "rules file with version gate",
			content:     "[engine]\nengine_version = \"3.0.0\"\nrules_file = \"" + rulesPath + "\"\n",
			wantAspects: 1,
			wantDropped: 1,
			wantSkipped: 1,
		},
		{
			name:        "without engine version every gate passes",
			content:     "[engine]\nrules_file = \"" + rulesPath + "\"\n",
			wantAspects: 2,
			wantDropped: 1,
		},
		{
			name:        "security controls only",
			content:     "[engine]\nsecurity_controls = \"SANITIZER:XSS:App:App.Encoder:Encode(System.String);INPUT_VALIDATOR:XSS:App:App.V:Check(System.String)\"\n",
			wantAspects: 2,
		},
		{
			name:    "disabled engine",
			content: "[engine]\nenabled = false\nrules_file = \"" + rulesPath + "\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := LoadRules(newConfig(t, tt.content))
			require.NoError(t, err)
			assert.Len(t, rules.Aspects, tt.wantAspects)
			assert.Len(t, rules.Dropped, tt.wantDropped)
			assert.Equal(t, tt.wantSkipped, rules.Skipped)
		})
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	cfg := newConfig(t, "[engine]\nrules_file = \""+filepath.Join(t.TempDir(), "missing.txt")+"\"\n")
	_, err := LoadRules(cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewEngine(t *testing.T) {
	h, err := host.NewMemoryHost(&host.Image{})
	require.NoError(t, err)

	cfg := newConfig(t, "[engine]\nsecurity_controls = \"SANITIZER:XSS:App:App.Encoder:Encode(System.String)\"\n")
	engine, err := NewEngine(h, cfg)
	require.NoError(t, err)

	rules := engine.Rules()
	require.Len(t, rules.Aspects, 1)
	assert.Equal(t, aspects.BehaviorInsertAfter, rules.Aspects[0].Behavior)
	assert.Equal(t, aspects.SecurityControlHelperMethod, rules.Aspects[0].HelperName)
}
