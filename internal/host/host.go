// Package host defines the profiling host the engine is attached to and
// provides an in-memory host that serves modules from a YAML image.
package host

import (
	"sync"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Host supplies the metadata service and method bodies of loaded modules and
// accepts recompilation requests.
type Host interface {
	Catalog(id metadata.ModuleID) (metadata.Catalog, error)
	Bodies(id metadata.ModuleID) (metadata.Bodies, error)
	RequestReJIT(id metadata.ModuleID, methods []cil.Token) error
}

// FunctionControl collects the body handed over during a recompilation.
type FunctionControl struct {
	mu   sync.Mutex
	body []byte
}

// SetILFunctionBody implements metadata.FunctionControl.
func (fc *FunctionControl) SetILFunctionBody(body []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.body = append([]byte(nil), body...)
	return nil
}

// Body returns the body received, or nil.
func (fc *FunctionControl) Body() []byte {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.body
}
