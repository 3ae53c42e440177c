package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/isseis/go-iast-weaver/internal/safefileio"
)

const (
	logDirPerm  = 0o750
	logFilePerm = 0o600
)

// ErrEmptyLogDirectory is returned when no log directory is configured.
var ErrEmptyLogDirectory = errors.New("log directory is empty")

// LogFile is a JSON log file opened for one run.
type LogFile struct {
	Path    string
	file    safefileio.File
	Handler slog.Handler
}

// GenerateRunID generates a new UUID v4 for run identification
func GenerateRunID() string {
	return uuid.New().String()
}

// LogFileName returns the file name used for a run:
// {hostname}_{timestamp}_{runID}.json.
func LogFileName(hostname string, now time.Time, runID string) string {
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s.json", hostname, now.UTC().Format("20060102T150405Z"), runID)
}

// OpenLogFile creates dir if needed and opens a new JSON log file in it.
// Every record written through the returned handler carries hostname, pid
// and run_id.
func OpenLogFile(dir, runID string, level slog.Leveler) (*LogFile, error) {
	if dir == "" {
		return nil, ErrEmptyLogDirectory
	}
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, fmt.Errorf("cannot create log directory %s: %w", dir, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	path := filepath.Join(dir, LogFileName(hostname, time.Now(), runID))
	f, err := safefileio.SafeOpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL|os.O_APPEND, logFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	h := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}).WithAttrs([]slog.Attr{
		slog.String("hostname", hostname),
		slog.Int("pid", os.Getpid()),
		slog.Int("schema_version", 1),
		slog.String("run_id", runID),
	})
	return &LogFile{Path: path, file: f, Handler: h}, nil
}

// Close closes the underlying file.
func (l *LogFile) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
