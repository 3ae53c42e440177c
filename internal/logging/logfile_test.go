package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFileName(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "build01_20240309T140507Z_run-1.json", LogFileName("build01", now, "run-1"))
	assert.Equal(t, "unknown_20240309T140507Z_run-1.json", LogFileName("", now, "run-1"))
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	lf, err := OpenLogFile(dir, "run-42", slog.LevelDebug)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(lf.Path, "_run-42.json"))

	slog.New(lf.Handler).Info("Method instrumented", "method", "App.Program::Main")
	require.NoError(t, lf.Close())

	content, err := os.ReadFile(lf.Path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(content, &entry))
	assert.Equal(t, "Method instrumented", entry["msg"])
	assert.Equal(t, "run-42", entry["run_id"])
	assert.Equal(t, "App.Program::Main", entry["method"])
	assert.Contains(t, entry, "hostname")
	assert.Contains(t, entry, "pid")
}

func TestOpenLogFile_EmptyDir(t *testing.T) {
	_, err := OpenLogFile("", "run", slog.LevelInfo)
	assert.ErrorIs(t, err, ErrEmptyLogDirectory)

	var lf *LogFile
	assert.NoError(t, lf.Close())
}

func TestHandleRunError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cause := errors.New("line 3: unexpected token")

	HandleRunError(&stdout, &stderr, &RunError{
		Type:      ErrorTypeRulesLoading,
		Message:   "cannot parse aspect rules",
		Component: "aspects",
		RunID:     "run-7",
		Err:       cause,
	})

	assert.Contains(t, stderr.String(), "Error: rules_loading_failed")
	assert.Contains(t, stderr.String(), "Component: aspects")
	assert.Contains(t, stderr.String(), "Cause: line 3: unexpected token")
	assert.Equal(t, "RUN_SUMMARY run_id=run-7 exit_code=1 status=failed duration_ms=0 modules=0 methods=0 instrumented=0 failed=0 errors=1\n", stdout.String())
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&RunError{Type: ErrorTypeImageLoading, Message: "decode", Component: "host", RunID: "r", Err: cause})

	assert.ErrorIs(t, err, cause)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, ErrorTypeImageLoading, runErr.Type)
	assert.Equal(t, "image_loading_failed: decode: boom (component: host, run_id: r)", err.Error())
}
