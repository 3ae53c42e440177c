package dataflow

import (
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Static errors
var (
	// ErrUnknownModule indicates a notification for a module the engine was
	// never told about.
	ErrUnknownModule = fmt.Errorf("%w: unknown module", metadata.ErrMetadataResolution)

	// ErrUnknownMethod indicates a notification for a token that is not a
	// method definition of the module.
	ErrUnknownMethod = fmt.Errorf("%w: unknown method", metadata.ErrMetadataResolution)
)
