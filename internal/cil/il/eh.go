package il

import "github.com/isseis/go-iast-weaver/internal/cil"

// RegionKind is the exception clause discriminator.
type RegionKind uint32

// Exception clause kinds
const (
	RegionCatch   RegionKind = 0x0
	RegionFilter  RegionKind = 0x1
	RegionFinally RegionKind = 0x2
	RegionFault   RegionKind = 0x4
)

func (k RegionKind) String() string {
	switch k {
	case RegionCatch:
		return "catch"
	case RegionFilter:
		return "filter"
	case RegionFinally:
		return "finally"
	case RegionFault:
		return "fault"
	default:
		return "unknown"
	}
}

// ExceptionRegion is one exception handling clause. The Last fields are
// inclusive: they name the final instruction inside the block.
type ExceptionRegion struct {
	Kind         RegionKind
	TryBegin     Handle
	TryLast      Handle
	HandlerBegin Handle
	HandlerLast  Handle
	// Filter is the first instruction of the filter block for RegionFilter.
	Filter Handle
	// ClassToken is the caught type for RegionCatch.
	ClassToken cil.Token
}

// PushesException reports whether the handler (and filter) starts with the
// exception object on the stack.
func (r *ExceptionRegion) PushesException() bool {
	return r.Kind == RegionCatch || r.Kind == RegionFilter
}

// Section header bits
const (
	sectEHTable   = 0x01
	sectFatFormat = 0x40
	sectMoreSects = 0x80

	smallClauseSize = 12
	fatClauseSize   = 24
)

type rawClause struct {
	flags, tryOffset, tryLength, handlerOffset, handlerLength, extra uint32
}
