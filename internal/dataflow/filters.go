package dataflow

import (
	"log/slog"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/analysis"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Filter vetoes a matched call site.
type Filter interface {
	// Allow reports whether the call at h may be instrumented.
	Allow(s *il.Store, a *analysis.Analysis, h il.Handle) bool
}

// filterTarget names methods of one type that a filter looks through.
type filterTarget struct {
	typeName string
	methods  []string
}

// resolve returns the module's member references to the target methods.
// Only types resolved from the core library count.
func (t filterTarget) resolve(m *metadata.Module) map[cil.Token]bool {
	out := make(map[cil.Token]bool)
	typeRefs, err := m.CoreTypeRefs(t.typeName)
	if err != nil {
		slog.Debug("Filter type not resolved",
			slog.String("module", m.Name),
			slog.String("type", t.typeName),
			slog.String("error", err.Error()))
		return out
	}
	for _, typeRef := range typeRefs {
		for _, name := range t.methods {
			members, err := m.FindMemberRefsByName(typeRef, name)
			if err != nil {
				slog.Debug("Filter target not resolved",
					slog.String("module", m.Name),
					slog.String("method", t.typeName+"::"+name),
					slog.String("error", err.Error()))
				continue
			}
			for _, member := range members {
				out[member.Token] = true
			}
		}
	}
	return out
}

var (
	// literalPassThrough are calls that keep a literal a literal.
	literalPassThrough = filterTarget{
		typeName: "System.String",
		methods:  []string{"ToUpper", "ToLower", "Trim", "TrimEnd", "TrimStart"},
	}

	// stringOptimizations are side-effect free string calls whose result is
	// usually fed straight into another one.
	stringOptimizations = filterTarget{
		typeName: "System.String",
		methods:  []string{"Concat", "Trim", "TrimEnd", "TrimStart", "ToUpper", "ToLower", "Substring"},
	}
)

// stringLiteralsFilter skips calls whose arguments trace back to string
// literals. With any set a single literal argument is enough; otherwise
// every argument must be one. Indexes select the operands inspected; empty
// means all of them.
type stringLiteralsFilter struct {
	targets map[cil.Token]bool
	any     bool
	indexes []int
}

func newStringLiteralsFilter(m *metadata.Module, any bool, indexes []int) *stringLiteralsFilter {
	return &stringLiteralsFilter{
		targets: literalPassThrough.resolve(m),
		any:     any,
		indexes: indexes,
	}
}

// ComesFromStringLiteral reports whether the value pushed by h is a string
// literal, possibly passed through calls such as ToUpper.
func (f *stringLiteralsFilter) ComesFromStringLiteral(s *il.Store, a *analysis.Analysis, h il.Handle) bool {
	for h != il.Nil {
		in := s.At(h)
		if in == nil {
			return false
		}
		if in.Op == il.Ldstr {
			return true
		}
		if !in.Op.IsCall() || !f.targets[in.Token()] {
			return false
		}
		params := a.LocateCallParamInstructions(h, 0)
		if len(params) != 1 {
			return false
		}
		h = params[0]
	}
	return false
}

func (f *stringLiteralsFilter) Allow(s *il.Store, a *analysis.Analysis, h il.Handle) bool {
	params := f.indexes
	if len(params) == 0 {
		cs, err := a.CallSignature(h)
		if err != nil {
			return true
		}
		for i := 0; i < cs.EffectiveParamCount(); i++ {
			params = append(params, i)
		}
	}

	allow := true
	for _, param := range params {
		for _, load := range a.LocateCallParamInstructions(h, param) {
			literal := f.ComesFromStringLiteral(s, a, load)
			if literal && f.any {
				return false
			}
			if !literal && !f.any {
				return true
			}
			allow = !literal
		}
	}
	return allow
}

// stringOptimizationFilter skips string calls whose result is consumed
// directly by another string call; the outer call is instrumented instead.
type stringOptimizationFilter struct {
	targets map[cil.Token]bool
}

func newStringOptimizationFilter(m *metadata.Module) *stringOptimizationFilter {
	return &stringOptimizationFilter{targets: stringOptimizations.resolve(m)}
}

func (f *stringOptimizationFilter) Allow(s *il.Store, a *analysis.Analysis, h il.Handle) bool {
	in := s.At(h)
	if in == nil || !f.targets[in.Token()] {
		return true
	}
	n := a.Node(h)
	if n == nil || n.Consumer == h || n.Consumer == il.Nil {
		return true
	}
	next := s.At(n.Consumer)
	return next == nil || !next.Op.IsCall() || !f.targets[next.Token()]
}
