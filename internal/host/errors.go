package host

import (
	"errors"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Static errors
var (
	// ErrUnknownModule indicates a module id the host never loaded.
	ErrUnknownModule = errors.New("unknown module")

	// ErrInvalidImage indicates a module image that cannot be loaded.
	ErrInvalidImage = errors.New("invalid module image")

	// ErrInvalidBlob indicates a blob that is not a hex byte string.
	ErrInvalidBlob = errors.New("invalid blob")
)

// RowError reports a module image row the host could not index.
type RowError struct {
	Module string
	Token  cil.Token
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: row %s: %s", e.Module, e.Token, e.Reason)
}

func (e *RowError) Unwrap() error {
	return ErrInvalidImage
}

func notFound(module string, tok cil.Token) error {
	return fmt.Errorf("%s: %s: %w", module, tok, metadata.ErrNotFound)
}
