// Package main implements iastweave, which instruments every method of a
// module image with the configured taint tracking aspects and writes the
// rewritten image.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/isseis/go-iast-weaver/internal/bootstrap"
	"github.com/isseis/go-iast-weaver/internal/config"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/logging"
	"github.com/isseis/go-iast-weaver/internal/safefileio"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

const outputFilePerm = 0o644

// Error definitions
var (
	ErrImagePathRequired = errors.New("module image path is required")
)

var (
	configPath = flag.String("config", "", "path to TOML config file")
	envFile    = flag.String("env-file", "", "path to .env file with DD_IAST_* overrides")
	imagePath  = flag.String("image", "", "module image to instrument (YAML)")
	outPath    = flag.String("out", "", "write the instrumented image to this path")
	force      = flag.Bool("force", false, "overwrite -out if it exists")
	rulesPath  = flag.String("rules", "", "aspect rules file. Overrides engine.rules_file")
	logLevel   = flag.String("log-level", "", "log level (debug, info, warn, error). Overrides TOML/env if set")
	logDir     = flag.String("log-dir", "", "directory to place per-run JSON log (auto-named). Overrides TOML/env if set")
	showDiff   = flag.Bool("diff", false, "print a unified diff of every rewritten method")
	noColor    = flag.Bool("no-color", false, "disable colored output")
	quiet      = flag.Bool("quiet", false, "force non-interactive console output")
)

func main() {
	runID := logging.GenerateRunID()

	if err := run(runID); err != nil {
		var runErr *logging.RunError
		if !errors.As(err, &runErr) {
			runErr = &logging.RunError{
				Type:      logging.ErrorTypeInstrumentation,
				Message:   err.Error(),
				Component: "main",
			}
		}
		runErr.RunID = runID
		logging.HandleRunError(os.Stdout, os.Stderr, runErr)
		os.Exit(1)
	}
}

func run(runID string) error {
	flag.Parse()
	start := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *imagePath == "" {
		return &logging.RunError{
			Type:      logging.ErrorTypeRequiredArgumentMissing,
			Message:   "-image is required",
			Component: "main",
			Err:       ErrImagePathRequired,
		}
	}

	cfg, err := config.NewLoader().Load(*configPath, *envFile)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeConfigParsing, Message: "failed to load configuration", Component: "config", Err: err}
	}
	if *rulesPath != "" {
		cfg.Engine.RulesFile = *rulesPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logDir != "" {
		cfg.Logging.Dir = *logDir
	}
	level, err := config.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeConfigParsing, Message: "invalid log level", Component: "config", Err: err}
	}

	termOpts := terminal.Options{DisableColor: *noColor, ForceNonInteractive: *quiet}
	logFile, err := bootstrap.SetupLogger(bootstrap.LoggerConfig{
		Level:    level,
		LogDir:   cfg.Logging.Dir,
		RunID:    runID,
		Terminal: termOpts,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()

	img, err := host.LoadImage(*imagePath)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeImageLoading, Message: "failed to load module image", Component: "host", Err: err}
	}
	h, err := host.NewMemoryHost(img)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeImageLoading, Message: "invalid module image", Component: "host", Err: err}
	}

	engine, err := bootstrap.NewEngine(h, cfg)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeRulesLoading, Message: "failed to load aspect rules", Component: "aspects", Err: err}
	}

	w := newWeaver(engine, h, img)
	if err := w.load(); err != nil {
		return &logging.RunError{Type: logging.ErrorTypeImageLoading, Message: "failed to load modules", Component: "dataflow", Err: err}
	}
	st, err := w.instrument(ctx)
	if err != nil {
		return &logging.RunError{Type: logging.ErrorTypeInstrumentation, Message: "instrumentation interrupted", Component: "dataflow", Err: err}
	}
	slog.Info("Instrumentation finished",
		slog.Int("modules", st.Modules),
		slog.Int("methods", st.Methods),
		slog.Int("instrumented", st.Instrumented),
		slog.Int("failed", st.Failed),
		slog.String("il_before", humanize.Bytes(uint64(st.BytesBefore))),
		slog.String("il_after", humanize.Bytes(uint64(st.BytesAfter))))

	if *showDiff {
		if err := w.writeDiffs(os.Stdout, terminal.NewPalette(terminal.NewCapabilities(termOpts))); err != nil {
			return &logging.RunError{Type: logging.ErrorTypeOutput, Message: "failed to render diff", Component: "main", Err: err}
		}
	}

	if *outPath != "" {
		if err := writeImage(*outPath, img, *force); err != nil {
			return &logging.RunError{Type: logging.ErrorTypeOutput, Message: "failed to write module image", Component: "host", Err: err}
		}
	}

	fmt.Print(logging.Summary{
		RunID:        runID,
		Status:       "success",
		DurationMS:   time.Since(start).Milliseconds(),
		Modules:      st.Modules,
		Methods:      st.Methods,
		Instrumented: st.Instrumented,
		Failed:       st.Failed,
	})
	return nil
}

func writeImage(path string, img *host.Image, overwrite bool) error {
	var buf bytes.Buffer
	if err := host.WriteImage(&buf, img); err != nil {
		return err
	}
	write := safefileio.SafeWriteFile
	if overwrite {
		write = safefileio.SafeOverwriteFile
	}
	if err := write(path, buf.Bytes(), outputFilePerm); err != nil {
		return err
	}
	slog.Info("Module image written",
		slog.String("path", path),
		slog.String("size", humanize.Bytes(uint64(buf.Len()))))
	return nil
}
