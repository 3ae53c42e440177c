package analysis

import (
	"errors"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil/il"
)

// Static errors
var (
	// ErrStackAnalysis is the root of every stack interpretation failure.
	// A method that fails analysis is left uninstrumented.
	ErrStackAnalysis = errors.New("stack analysis failed")

	// ErrStackUnderflow indicates an instruction popped from an empty stack.
	ErrStackUnderflow = fmt.Errorf("%w: stack underflow", ErrStackAnalysis)

	// ErrStackExcess indicates values left on the stack after every path merged.
	ErrStackExcess = fmt.Errorf("%w: stack excess", ErrStackAnalysis)

	// ErrMissingSignature indicates a call or field operand whose signature
	// could not be resolved.
	ErrMissingSignature = fmt.Errorf("%w: missing operand signature", ErrStackAnalysis)

	// ErrEmptyBody indicates a method body without instructions.
	ErrEmptyBody = fmt.Errorf("%w: empty method body", ErrStackAnalysis)
)

// StackError records the instruction at which interpretation failed.
type StackError struct {
	Offset int
	Op     il.Opcode
	Err    error
}

func (e *StackError) Error() string {
	return fmt.Sprintf("IL_%04x %s: %v", e.Offset, e.Op, e.Err)
}

func (e *StackError) Unwrap() error {
	return e.Err
}
