package il

import (
	"errors"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Static errors
var (
	// ErrTruncatedBody indicates the method body ends inside a header, an
	// instruction or an exception section.
	ErrTruncatedBody = fmt.Errorf("%w: truncated method body", cil.ErrBinaryFormat)

	// ErrInvalidHeader indicates the method header format bits are not tiny or fat.
	ErrInvalidHeader = fmt.Errorf("%w: invalid method header", cil.ErrBinaryFormat)

	// ErrUnknownOpcode indicates an opcode byte sequence not defined by the
	// instruction set.
	ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", cil.ErrBinaryFormat)

	// ErrInvalidBranchTarget indicates a branch, switch or exception clause
	// points between instructions or outside the body.
	ErrInvalidBranchTarget = fmt.Errorf("%w: invalid branch target", cil.ErrBinaryFormat)

	// ErrInvalidExceptionSection indicates a malformed exception handling section.
	ErrInvalidExceptionSection = fmt.Errorf("%w: invalid exception section", cil.ErrBinaryFormat)

	// ErrInvalidHandle indicates an instruction handle that does not belong to
	// the store.
	ErrInvalidHandle = errors.New("invalid instruction handle")

	// ErrNoLocals indicates the body declares no local variable signature.
	ErrNoLocals = errors.New("method body has no locals signature")
)

// FormatError reports where in a method body decoding failed.
type FormatError struct {
	Offset int
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("IL_%04x: %v", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
