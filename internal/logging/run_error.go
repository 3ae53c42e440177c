package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrorType classifies failures that stop a weaver run.
type ErrorType string

const (
	// ErrorTypeConfigParsing represents configuration parsing failures
	ErrorTypeConfigParsing ErrorType = "config_parsing_failed"
	// ErrorTypeLogFileOpen represents log file opening failures
	ErrorTypeLogFileOpen ErrorType = "log_file_open_failed"
	// ErrorTypeRulesLoading represents aspect rule file failures
	ErrorTypeRulesLoading ErrorType = "rules_loading_failed"
	// ErrorTypeImageLoading represents module image read or decode failures
	ErrorTypeImageLoading ErrorType = "image_loading_failed"
	// ErrorTypeInstrumentation represents failures while rewriting methods
	ErrorTypeInstrumentation ErrorType = "instrumentation_failed"
	// ErrorTypeOutput represents failures while writing results
	ErrorTypeOutput ErrorType = "output_failed"
	// ErrorTypeRequiredArgumentMissing represents missing required argument errors
	ErrorTypeRequiredArgumentMissing ErrorType = "required_argument_missing"
)

// RunError is a failure that ends a run before it completes.
type RunError struct {
	Type      ErrorType
	Message   string
	Component string
	RunID     string
	Err       error
}

// Error implements the error interface
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v (component: %s, run_id: %s)", e.Type, e.Message, e.Err, e.Component, e.RunID)
	}
	return fmt.Sprintf("%s: %s (component: %s, run_id: %s)", e.Type, e.Message, e.Component, e.RunID)
}

// Unwrap implements error wrapping for errors.Unwrap
func (e *RunError) Unwrap() error {
	return e.Err
}

// HandleRunError reports e on stderr and through slog, then prints the
// machine readable summary line to stdout.
func HandleRunError(stdout, stderr io.Writer, e *RunError) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", e.Type)
	if e.Component != "" {
		fmt.Fprintf(&sb, "  Component: %s\n", e.Component)
	}
	fmt.Fprintf(&sb, "  Details: %s\n", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&sb, "  Cause: %v\n", e.Err)
	}
	if e.RunID != "" {
		fmt.Fprintf(&sb, "  Run ID: %s\n", e.RunID)
	}
	_, _ = io.WriteString(stderr, sb.String())

	slog.Error("Run failed",
		slog.String("error_type", string(e.Type)),
		slog.String("error_message", e.Message),
		slog.String("component", e.Component),
		slog.String("run_id", e.RunID),
		slog.Any("error", e.Err),
	)

	_, _ = fmt.Fprint(stdout, Summary{RunID: e.RunID, Status: "failed", ExitCode: 1, Errors: 1})
}

// Summary is the final RUN_SUMMARY line of a run.
type Summary struct {
	RunID        string
	Status       string
	ExitCode     int
	DurationMS   int64
	Modules      int
	Methods      int
	Instrumented int
	Failed       int
	Errors       int
}

// String renders the summary as a single key=value line.
func (s Summary) String() string {
	return fmt.Sprintf("RUN_SUMMARY run_id=%s exit_code=%d status=%s duration_ms=%d modules=%d methods=%d instrumented=%d failed=%d errors=%d\n",
		s.RunID, s.ExitCode, s.Status, s.DurationMS, s.Modules, s.Methods, s.Instrumented, s.Failed, s.Errors)
}
