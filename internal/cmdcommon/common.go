// Package cmdcommon provides common functionality for command-line tools.
package cmdcommon

import (
	"io"
	"log/slog"

	"github.com/isseis/go-iast-weaver/internal/logging"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// SetupConsole installs a console-only default logger writing to w at level
// and returns the palette matching the terminal options. Tools that keep no
// per-run log file use it instead of bootstrap.SetupLogger.
func SetupConsole(w io.Writer, level slog.Level, opts terminal.Options) (*terminal.Palette, error) {
	caps := terminal.NewCapabilities(opts)
	handler, err := logging.NewConsoleHandler(logging.ConsoleHandlerOptions{
		Level:        level,
		Writer:       w,
		Capabilities: caps,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return terminal.NewPalette(caps), nil
}
