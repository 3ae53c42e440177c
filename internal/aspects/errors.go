package aspects

import (
	"errors"
	"fmt"
)

// ErrRuleParse is the root of every rule parsing error. A line failing with it
// is dropped; the remaining lines still load.
var ErrRuleParse = errors.New("aspect rule parse error")

// Rule parsing errors
var (
	// ErrMissingDelimiter is returned when a rule line lacks its attribute opening or closing delimiter
	ErrMissingDelimiter = fmt.Errorf("%w: missing delimiter", ErrRuleParse)

	// ErrUnknownBehavior is returned for an aspect attribute that is not a known insertion behavior
	ErrUnknownBehavior = fmt.Errorf("%w: unknown aspect behavior", ErrRuleParse)

	// ErrUnknownFilter is returned for a filter name that is not recognized
	ErrUnknownFilter = fmt.Errorf("%w: unknown aspect filter", ErrRuleParse)

	// ErrInvalidVersion is returned when a version gate does not parse
	ErrInvalidVersion = fmt.Errorf("%w: invalid version gate", ErrRuleParse)

	// ErrInvalidMask is returned when a trailing category mask is not an unsigned integer
	ErrInvalidMask = fmt.Errorf("%w: invalid category mask", ErrRuleParse)

	// ErrInvalidShift is returned when a parameter shift entry is not an integer
	ErrInvalidShift = fmt.Errorf("%w: invalid parameter shift", ErrRuleParse)

	// ErrMissingHelper is returned when a rule names no helper type or method
	ErrMissingHelper = fmt.Errorf("%w: missing helper", ErrRuleParse)

	// ErrMissingTarget is returned when a method rule names no target method
	ErrMissingTarget = fmt.Errorf("%w: missing target method", ErrRuleParse)

	// ErrOrphanAspect is returned for a method rule that appears before any class rule
	ErrOrphanAspect = fmt.Errorf("%w: aspect without enclosing class", ErrRuleParse)

	// ErrInvalidSecurityControl is returned for a malformed security control entry
	ErrInvalidSecurityControl = fmt.Errorf("%w: invalid security control", ErrRuleParse)
)

// ParseError reports a dropped rule line.
type ParseError struct {
	// Line is the 1-based line number, or 0 for security control entries.
	Line int
	Text string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("%v: %q", e.Err, e.Text)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
