package dataflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// ModuleAspects is the binding of a rule set to one module: the aspect
// references whose target the module calls, in rule order.
type ModuleAspects struct {
	module     *metadata.Module
	references []*AspectReference
	// targets indexes references by target token.
	targets map[cil.Token][]*AspectReference

	mu      sync.Mutex
	filters map[aspects.Filter]Filter
	helpers map[cil.Token]bool
}

// bindModule resolves every enabled aspect of rules against m. Aspects whose
// target m never references are left out. Callers hold the module guard.
func bindModule(ctx context.Context, m *metadata.Module, rules *aspects.RuleSet) *ModuleAspects {
	ma := &ModuleAspects{
		module:  m,
		targets: make(map[cil.Token][]*AspectReference),
		filters: make(map[aspects.Filter]Filter),
		helpers: make(map[cil.Token]bool),
	}
	if rules == nil {
		return ma
	}
	for _, a := range rules.Aspects {
		if !a.IsEnabled() {
			continue
		}
		ref, err := ma.bind(a)
		if err != nil {
			slog.Debug("Aspect not bound",
				slog.String("module", m.Name),
				slog.String("aspect", a.String()),
				slog.String("error", err.Error()))
			continue
		}
		if ref == nil {
			continue
		}
		ma.references = append(ma.references, ref)
		ma.targets[ref.target] = append(ma.targets[ref.target], ref)
	}
	if len(ma.references) > 0 {
		slog.DebugContext(ctx, "Module aspects bound",
			slog.String("module", m.Name),
			slog.Int("references", len(ma.references)))
	}
	return ma
}

// bind resolves the target of a: first among the module's member
// references, then among its own definitions when the module is the
// target's assembly. The candidate whose parameter list matches wins. It
// returns nil when the module never calls the target.
func (ma *ModuleAspects) bind(a *aspects.Aspect) (*AspectReference, error) {
	m := ma.module
	var candidates []*metadata.Member
	if typeRef, err := m.FindTypeRefByName(a.TargetMethodType); err == nil {
		if candidates, err = m.FindMemberRefsByName(typeRef, a.TargetMethodName); err != nil {
			return nil, err
		}
	} else if a.IsTargetModule(m.AssemblyName) {
		td, err := m.TypeDef(a.TargetMethodType)
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		methods, err := m.Methods(td, a.TargetMethodName)
		if err != nil {
			return nil, err
		}
		for _, method := range methods {
			candidates = append(candidates, method.Member)
		}
	}

	for _, c := range candidates {
		s, err := c.Signature()
		if err != nil || c.ParamsRepresentation() != a.TargetMethodParams {
			continue
		}
		ref := &AspectReference{
			owner:  ma,
			aspect: a,
			target: c.Token,
		}
		if a.IsVirtual() {
			if ref.targetType, err = m.FindTypeRefByName(a.TargetType); err != nil {
				return nil, nil
			}
		}
		if ref.boxTypes, err = ma.boxTypes(a, s); err != nil {
			return nil, err
		}
		return ref, nil
	}
	return nil, nil
}

// boxTypes returns, per parameter shift, the type used to box the operand
// the shift selects, or the nil token when no boxing is wanted.
func (ma *ModuleAspects) boxTypes(a *aspects.Aspect, s *sig.Signature) ([]cil.Token, error) {
	out := make([]cil.Token, len(a.ParamShift))
	for i, shift := range a.ParamShift {
		if i >= len(a.BoxParam) || !a.BoxParam[i] {
			continue
		}
		t := s.Param(len(s.Params) - shift - 1)
		if t == nil {
			continue
		}
		if tok := sig.TokenOf(t); !tok.IsNil() {
			out[i] = tok
			continue
		}
		tok, err := ma.module.PrimitiveTypeRef(sig.Unwrap(t).Element())
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

// References returns the bound references in rule order.
func (ma *ModuleAspects) References() []*AspectReference {
	return ma.references
}

// candidates returns, in rule order, the references that may match a call
// to tok. Method-specs also yield the references of their generic method.
func (ma *ModuleAspects) candidates(tok cil.Token) []*AspectReference {
	refs := ma.targets[tok]
	if !tok.Is(cil.TableMethodSpec) {
		return refs
	}
	spec, err := ma.module.MethodSpec(tok)
	if err != nil || spec.Generic == nil {
		return refs
	}
	return append(refs[:len(refs):len(refs)], ma.targets[spec.Generic.Token]...)
}

// filter returns the module's instance of f, creating it on first use.
func (ma *ModuleAspects) filter(f aspects.Filter) Filter {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	if existing, ok := ma.filters[f]; ok {
		return existing
	}
	var created Filter
	switch f {
	case aspects.FilterStringOptimization:
		created = newStringOptimizationFilter(ma.module)
	case aspects.FilterStringLiterals:
		created = newStringLiteralsFilter(ma.module, false, nil)
	case aspects.FilterStringLiteralsAny:
		created = newStringLiteralsFilter(ma.module, true, nil)
	case aspects.FilterStringLiteral0:
		created = newStringLiteralsFilter(ma.module, false, []int{0})
	case aspects.FilterStringLiteral1:
		created = newStringLiteralsFilter(ma.module, false, []int{1})
	}
	ma.filters[f] = created
	return created
}

func (ma *ModuleAspects) addHelper(tok cil.Token) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.helpers[tok] = true
}

// isHelper reports whether tok is a helper imported by one of the module's
// references. Method-specs count through their generic method.
func (ma *ModuleAspects) isHelper(tok cil.Token) bool {
	if tok.Is(cil.TableMethodSpec) {
		spec, err := ma.module.MethodSpec(tok)
		if err != nil || spec.Generic == nil {
			return false
		}
		tok = spec.Generic.Token
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.helpers[tok]
}
