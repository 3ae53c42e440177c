package dataflow

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/analysis"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// AspectReference is an aspect bound to the tokens of one module.
type AspectReference struct {
	owner  *ModuleAspects
	aspect *aspects.Aspect
	// target is the MemberRef or MethodDef the aspect intercepts.
	target cil.Token
	// targetType is the receiver type reference of a virtual aspect.
	targetType cil.Token
	// boxTypes parallels the aspect's parameter shifts.
	boxTypes []cil.Token

	helperOnce sync.Once
	helper     cil.Token
	helperErr  error
}

// Aspect returns the bound rule.
func (r *AspectReference) Aspect() *aspects.Aspect {
	return r.aspect
}

// Target returns the intercepted method token.
func (r *AspectReference) Target() cil.Token {
	return r.target
}

func (r *AspectReference) String() string {
	return fmt.Sprintf("%s -> %s [%s]", r.aspect.TargetFullName(), r.aspect.HelperFullName(), r.target)
}

// Helper returns the module-local reference to the helper method, importing
// it on first use.
func (r *AspectReference) Helper() (cil.Token, error) {
	r.helperOnce.Do(func() {
		a := r.aspect
		r.helper, r.helperErr = r.owner.module.DefineMemberRef(a.Class.Assembly, a.Class.TypeName, a.HelperName, a.HelperParams)
		if r.helperErr == nil {
			r.owner.addHelper(r.helper)
		}
	})
	return r.helper, r.helperErr
}

// helperFor returns the helper token to call in place of operand. Generic
// targets called through a method-spec get a helper instantiated the same
// way.
func (r *AspectReference) helperFor(operand cil.Token) (cil.Token, error) {
	helper, err := r.Helper()
	if err != nil {
		return 0, err
	}
	if !r.aspect.IsGeneric() || !operand.Is(cil.TableMethodSpec) {
		return helper, nil
	}
	spec, err := r.owner.module.MethodSpec(operand)
	if err != nil {
		return 0, err
	}
	return r.owner.module.DefineMethodSpec(helper, spec.Instantiation)
}

// matches reports whether operand invokes the target, directly or through a
// generic instantiation.
func (r *AspectReference) matches(operand cil.Token) bool {
	if operand == r.target {
		return true
	}
	if !operand.Is(cil.TableMethodSpec) {
		return false
	}
	spec, err := r.owner.module.MethodSpec(operand)
	return err == nil && spec.Generic != nil && spec.Generic.Token == r.target
}

// site is one place a helper call is emitted.
type site struct {
	at       il.Handle
	shift    int
	behavior aspects.Behavior
}

// Apply instruments the call at h when it matches. It returns the handle the
// caller resumes scanning after and whether the body changed.
func (r *AspectReference) Apply(method *metadata.Method, s *il.Store, h il.Handle) (il.Handle, bool, error) {
	in := s.At(h)
	operand := in.Token()
	if !r.matches(operand) {
		return h, false, nil
	}
	if in.Op == il.Callvirt {
		if prev := s.At(s.Prev(h)); prev != nil && prev.Op == il.Constrained {
			return h, false, nil
		}
	}

	a := r.aspect
	var an *analysis.Analysis
	needsAnalysis := a.IsVirtual() || len(a.AllFilters()) > 0
	for _, shift := range a.ParamShift {
		needsAnalysis = needsAnalysis || (!a.Behavior.IsReplace() && shift > 0)
	}
	if needsAnalysis {
		var err error
		if an, err = method.Analysis(); err != nil {
			return h, false, err
		}
		if !an.IsValid() {
			return h, false, an.Err()
		}
	}

	if a.IsVirtual() && !r.receiverMatches(an, h) {
		return h, false, nil
	}
	for _, f := range a.AllFilters() {
		if !r.owner.filter(f).Allow(s, an, h) {
			slog.Debug("Call site filtered",
				slog.String("method", method.FullName()),
				slog.String("filter", f.String()),
				slog.String("target", a.TargetFullName()))
			return h, false, nil
		}
	}

	var sites []site
	for i, shift := range a.ParamShift {
		if a.Behavior.IsReplace() || shift == 0 {
			sites = append(sites, site{at: h, shift: i, behavior: a.Behavior})
			continue
		}
		cs, err := an.CallSignature(h)
		if err != nil {
			slog.Debug("Call signature not parsed, skipping call",
				slog.String("method", method.FullName()),
				slog.String("error", err.Error()))
			return h, false, nil
		}
		loads := an.LocateCallParamInstructions(h, cs.EffectiveParamCount()-shift-1)
		if len(loads) == 0 {
			slog.Debug("Parameter load not found",
				slog.String("method", method.FullName()),
				slog.Int("shift", shift))
		}
		for _, load := range loads {
			sites = append(sites, site{at: load, shift: i, behavior: aspects.BehaviorInsertAfter})
		}
	}
	if len(sites) == 0 {
		return h, false, nil
	}

	helper, err := r.helperFor(operand)
	if err != nil {
		return h, false, err
	}

	next := h
	for _, st := range sites {
		var e *il.Emitter
		switch st.behavior {
		case aspects.BehaviorInsertBefore:
			e = s.EmitBefore(st.at)
			r.emitMarks(e)
			e.Call(helper)
		case aspects.BehaviorInsertAfter:
			e = s.EmitAfter(st.at)
			box := r.boxType(st.shift)
			if !box.IsNil() {
				e.Box(box)
			}
			r.emitMarks(e)
			e.Call(helper)
			if !box.IsNil() {
				e.UnboxAny(box)
			}
			if st.at == h {
				next = e.Last()
			}
		default:
			target := s.At(st.at)
			target.Op = il.Call
			target.Arg = uint64(uint32(helper))
			continue
		}
		if err := e.Err(); err != nil {
			return h, false, err
		}
	}
	return next, true, nil
}

func (r *AspectReference) emitMarks(e *il.Emitter) {
	if r.aspect.HasSecurityMarks {
		e.LdcI4(int32(r.aspect.SecurityMarks))
	}
}

func (r *AspectReference) boxType(shift int) cil.Token {
	if shift < len(r.boxTypes) {
		return r.boxTypes[shift]
	}
	return 0
}

// receiverMatches reports whether the static type of the receiver of the call
// at h is the aspect's target type. Primitive receivers such as string
// literals are compared by name.
func (r *AspectReference) receiverMatches(an *analysis.Analysis, h il.Handle) bool {
	loads := an.LocateCallParamInstructions(h, 0)
	if len(loads) == 0 {
		return false
	}
	t, err := an.InferType(loads[0])
	if err != nil {
		return false
	}
	if tok := sig.TokenOf(t); !tok.IsNil() {
		return r.owner.module.AreSameTypes(tok, r.targetType)
	}
	name := sig.Unwrap(t).Element().PrimitiveName()
	return name != "" && name == r.aspect.TargetType
}
