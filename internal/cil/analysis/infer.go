package analysis

import (
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

func (a *Analysis) callSignature(in *il.Instr) (*sig.Signature, error) {
	if in.Op == il.Calli {
		blob, err := a.env.SignatureBlob(in.Token())
		if err != nil {
			return nil, err
		}
		return sig.Parse(blob)
	}
	return a.env.MemberSignature(in.Token())
}

// CallSignature returns the signature of the method the call at h invokes.
func (a *Analysis) CallSignature(h il.Handle) (*sig.Signature, error) {
	in := a.store.At(h)
	if in == nil || !in.Op.IsCall() {
		return nil, fmt.Errorf("%w: %d", il.ErrInvalidHandle, h)
	}
	return a.callSignature(in)
}

// InferType returns the static type of the value h pushes. Receivers of
// instance methods yield a TokenType naming the declaring type.
func (a *Analysis) InferType(h il.Handle) (sig.Type, error) {
	in := a.store.At(h)
	if in == nil {
		return nil, fmt.Errorf("%w: %d", il.ErrInvalidHandle, h)
	}
	op := in.Op.ValueLoad()

	switch {
	case op.IsLocalAccess():
		locals, err := a.store.Locals(a.env.SignatureBlob)
		if err != nil {
			return nil, err
		}
		t := locals.Param(int(in.Arg))
		if t == nil {
			return nil, fmt.Errorf("local %d out of range", in.Arg)
		}
		return t, nil

	case op.IsArgAccess():
		ms := a.env.MethodSignature()
		if ms == nil {
			return nil, ErrMissingSignature
		}
		idx := int(in.Arg)
		if ms.HasThis() {
			if idx == 0 {
				return sig.TokenType{Elem: sig.ElemClass, Token: a.env.DeclaringType()}, nil
			}
			idx--
		}
		t := ms.Param(idx)
		if t == nil {
			return nil, fmt.Errorf("argument %d out of range", in.Arg)
		}
		return t, nil

	case op.IsCall(), op.Info().Operand == il.InlineField:
		s, err := a.callSignature(in)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, ErrMissingSignature
		}
		return s.Return, nil

	case op == il.Ldstr:
		return sig.Simple{Elem: sig.ElemString}, nil

	case op == il.Ldnull:
		return sig.Simple{Elem: sig.ElemObject}, nil
	}
	return nil, fmt.Errorf("no static type for %s", in.Op)
}

// InferTypeToken returns the type token of the value h pushes, or the nil
// token for primitive and generic parameter types.
func (a *Analysis) InferTypeToken(h il.Handle) (cil.Token, error) {
	t, err := a.InferType(h)
	if err != nil {
		return 0, err
	}
	return sig.TokenOf(t), nil
}
