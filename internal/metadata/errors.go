package metadata

import (
	"errors"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// ErrMetadataResolution is the root of every failed metadata lookup or
// definition. The rule or target that needed the entry is treated as
// unavailable.
var ErrMetadataResolution = errors.New("metadata resolution error")

// Static errors
var (
	// ErrNotFound indicates the catalog has no entry with the requested name
	// or token.
	ErrNotFound = fmt.Errorf("%w: not found", ErrMetadataResolution)

	// ErrUnexpectedTable indicates a token from a table the operation does not
	// accept, such as a field token passed where a method is expected.
	ErrUnexpectedTable = fmt.Errorf("%w: unexpected token table", ErrMetadataResolution)

	// ErrAmbiguous indicates several methods match a name and none matches the
	// requested parameter list.
	ErrAmbiguous = fmt.Errorf("%w: ambiguous member", ErrMetadataResolution)

	// ErrHelperModuleNotLoaded indicates the module defining an aspect helper
	// is not loaded in the app domain of the module importing it.
	ErrHelperModuleNotLoaded = fmt.Errorf("%w: helper module not loaded", ErrMetadataResolution)
)

// Method state errors
var (
	// ErrNothingToApply indicates ApplyFinalInstrumentation was called on a
	// method with no committed rewrite.
	ErrNothingToApply = errors.New("method has no rewritten body to apply")

	// ErrAlreadyWritten indicates the rewritten body was already handed to the
	// host and a second application was refused.
	ErrAlreadyWritten = errors.New("method body already written")
)

// ResolutionError names the token or name a lookup failed on.
type ResolutionError struct {
	Module string
	Token  cil.Token
	Name   string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %v", e.Module, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Module, e.Token, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ErrRewriteVerification is the root of every rejected rewrite. The original
// body stays in effect.
var ErrRewriteVerification = errors.New("rewrite verification error")

// VerificationError reports a rewritten body that failed to decode or whose
// stack analysis failed.
type VerificationError struct {
	Method string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("rewritten body of %s rejected: %v", e.Method, e.Err)
}

func (e *VerificationError) Unwrap() []error {
	return []error{ErrRewriteVerification, e.Err}
}
