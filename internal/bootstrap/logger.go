// Package bootstrap turns a loaded configuration into a ready process: the
// default slog logger, the parsed rule set and a configured engine.
package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/isseis/go-iast-weaver/internal/logging"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// LoggerConfig holds all configuration for logger setup
type LoggerConfig struct {
	Level  slog.Level
	LogDir string
	RunID  string
	// ConsoleWriter receives console output. Defaults to os.Stderr.
	ConsoleWriter io.Writer
	Terminal      terminal.Options
}

// SetupLogger builds the console handler and, when LogDir is set, the JSON
// log file handler, and installs them as the default logger. The caller
// closes the returned log file, which is nil without a LogDir.
//
// It must be called once during start-up, before any goroutine logs.
func SetupLogger(config LoggerConfig) (*logging.LogFile, error) {
	consoleWriter := config.ConsoleWriter
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}

	var logFile *logging.LogFile
	if config.LogDir != "" {
		var err error
		logFile, err = logging.OpenLogFile(config.LogDir, config.RunID, config.Level)
		if err != nil {
			return nil, &logging.RunError{
				Type:      logging.ErrorTypeLogFileOpen,
				Message:   "failed to open log file",
				Component: "logging",
				RunID:     config.RunID,
				Err:       err,
			}
		}
	}

	capabilities := terminal.NewCapabilities(config.Terminal)
	consoleOpts := logging.ConsoleHandlerOptions{
		Level:        config.Level,
		Writer:       consoleWriter,
		Capabilities: capabilities,
	}
	handlers := []slog.Handler{}
	if logFile != nil {
		consoleOpts.LogFilePath = logFile.Path
		handlers = append(handlers, logFile.Handler)
	}
	console, err := logging.NewConsoleHandler(consoleOpts)
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("failed to create console handler: %w", err)
	}
	handlers = append(handlers, console)

	slog.SetDefault(slog.New(logging.NewMultiHandler(handlers...)))
	slog.Info("Logger initialized",
		slog.String("run_id", config.RunID),
		slog.String("level", config.Level.String()),
		slog.Bool("interactive", capabilities.IsInteractive()),
		slog.Bool("log_file", logFile != nil))
	return logFile, nil
}
