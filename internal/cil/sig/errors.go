package sig

import (
	"errors"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Error definitions
var (
	// ErrTruncated is returned when a signature ends before a complete value was read
	ErrTruncated = fmt.Errorf("%w: signature truncated", cil.ErrBinaryFormat)

	// ErrUnexpectedElement is returned for an element type that is not valid at its position
	ErrUnexpectedElement = fmt.Errorf("%w: unexpected element type", cil.ErrBinaryFormat)

	// ErrInvalidCompressedInt is returned for a compressed integer with an invalid prefix
	ErrInvalidCompressedInt = fmt.Errorf("%w: invalid compressed integer", cil.ErrBinaryFormat)

	// ErrTooDeep is returned when nesting exceeds the supported depth
	ErrTooDeep = fmt.Errorf("%w: signature nesting too deep", cil.ErrBinaryFormat)

	// ErrValueTooLarge is returned when a value cannot be encoded in compressed form
	ErrValueTooLarge = errors.New("value too large for compressed encoding")

	// ErrUnknownTypeName is returned when a textual type name cannot be resolved
	ErrUnknownTypeName = errors.New("unknown type name")
)

// FormatError reports where in a signature blob parsing failed.
type FormatError struct {
	Offset int
	Elem   ElementType
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("signature offset %d (element %s): %v", e.Offset, e.Elem, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
