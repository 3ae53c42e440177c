package sig

import (
	"github.com/isseis/go-iast-weaver/internal/cil"
)

// maxDepth bounds recursion on hostile blobs.
const maxDepth = 64

type reader struct {
	b     []byte
	pos   int
	depth int
}

func (r *reader) fail(elem ElementType, err error) error {
	return &FormatError{Offset: r.pos, Elem: elem, Err: err}
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, r.fail(ElemEnd, ErrTruncated)
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) peek() (byte, bool) {
	if r.pos >= len(r.b) {
		return 0, false
	}
	return r.b[r.pos], true
}

func (r *reader) uint(elem ElementType) (uint32, error) {
	v, n, err := ReadUint(r.b[r.pos:])
	if err != nil {
		return 0, r.fail(elem, err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) int(elem ElementType) (int32, error) {
	v, n, err := ReadInt(r.b[r.pos:])
	if err != nil {
		return 0, r.fail(elem, err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) token(elem ElementType) (cil.Token, error) {
	v, n, err := ReadToken(r.b[r.pos:])
	if err != nil {
		return 0, r.fail(elem, err)
	}
	r.pos += n
	return v, nil
}

// Parse decodes a method, field, locals, property or method-spec signature.
func Parse(b []byte) (*Signature, error) {
	r := &reader{b: b}
	s, err := r.signature()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ParseTypeSpec decodes a type-spec blob, which holds a single type.
func ParseTypeSpec(b []byte) (*Signature, error) {
	r := &reader{b: b}
	t, err := r.typ()
	if err != nil {
		return nil, err
	}
	return &Signature{Kind: KindTypeSpec, Return: t, SentinelIndex: -1}, nil
}

func (r *reader) signature() (*Signature, error) {
	conv, err := r.byte()
	if err != nil {
		return nil, err
	}
	s := &Signature{CallConv: conv, SentinelIndex: -1}

	switch conv & CallConvMask {
	case CallConvField:
		s.Kind = KindField
		if s.Return, err = r.typ(); err != nil {
			return nil, err
		}
		return s, nil

	case CallConvLocalSig:
		s.Kind = KindLocals
		return s, r.typeList(s, false)

	case CallConvGenericInst:
		s.Kind = KindMethodSpec
		return s, r.typeList(s, false)

	case CallConvProperty:
		s.Kind = KindProperty
		return s, r.methodTail(s)

	default:
		s.Kind = KindMethod
		if conv&CallConvGeneric != 0 {
			if s.GenericParamCount, err = r.uint(ElemEnd); err != nil {
				return nil, err
			}
		}
		return s, r.methodTail(s)
	}
}

func (r *reader) methodTail(s *Signature) error {
	count, err := r.uint(ElemEnd)
	if err != nil {
		return err
	}
	if s.Return, err = r.typ(); err != nil {
		return err
	}
	return r.params(s, count, true)
}

func (r *reader) typeList(s *Signature, allowSentinel bool) error {
	count, err := r.uint(ElemEnd)
	if err != nil {
		return err
	}
	return r.params(s, count, allowSentinel)
}

func (r *reader) params(s *Signature, count uint32, allowSentinel bool) error {
	if int(count) > len(r.b)-r.pos {
		// every parameter takes at least one byte
		return r.fail(ElemEnd, ErrTruncated)
	}
	s.Params = make([]Type, 0, count)
	for i := uint32(0); i < count; i++ {
		if c, ok := r.peek(); ok && ElementType(c) == ElemSentinel && allowSentinel {
			r.pos++
			if s.SentinelIndex < 0 {
				s.SentinelIndex = int(i)
			}
		}
		t, err := r.typ()
		if err != nil {
			return err
		}
		s.Params = append(s.Params, t)
	}
	return nil
}

func (r *reader) typ() (Type, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return nil, r.fail(ElemEnd, ErrTooDeep)
	}

	c, err := r.byte()
	if err != nil {
		return nil, err
	}
	elem := ElementType(c)
	if elem.IsPrimitive() {
		return Simple{Elem: elem}, nil
	}

	switch elem {
	case ElemClass, ElemValueType:
		tok, err := r.token(elem)
		if err != nil {
			return nil, err
		}
		return TokenType{Elem: elem, Token: tok}, nil

	case ElemPtr, ElemByRef, ElemSZArray:
		inner, err := r.typ()
		if err != nil {
			return nil, err
		}
		return Composite{Elem: elem, Inner: inner}, nil

	case ElemPinned:
		inner, err := r.typ()
		if err != nil {
			return nil, err
		}
		return Modified{Elem: elem, Inner: inner}, nil

	case ElemCModReqd, ElemCModOpt:
		tok, err := r.token(elem)
		if err != nil {
			return nil, err
		}
		inner, err := r.typ()
		if err != nil {
			return nil, err
		}
		return Modified{Elem: elem, Token: tok, Inner: inner}, nil

	case ElemVar, ElemMVar:
		idx, err := r.uint(elem)
		if err != nil {
			return nil, err
		}
		return GenericParam{Elem: elem, Index: idx}, nil

	case ElemArray:
		return r.array()

	case ElemGenericInst:
		return r.genericInst()

	case ElemFnPtr:
		s, err := r.signature()
		if err != nil {
			return nil, err
		}
		return FnPtr{Method: s}, nil

	default:
		r.pos--
		return nil, r.fail(elem, ErrUnexpectedElement)
	}
}

func (r *reader) array() (Type, error) {
	inner, err := r.typ()
	if err != nil {
		return nil, err
	}
	a := Array{Inner: inner}
	if a.Rank, err = r.uint(ElemArray); err != nil {
		return nil, err
	}
	numSizes, err := r.uint(ElemArray)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numSizes; i++ {
		size, err := r.uint(ElemArray)
		if err != nil {
			return nil, err
		}
		a.Sizes = append(a.Sizes, size)
	}
	numLo, err := r.uint(ElemArray)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numLo; i++ {
		lo, err := r.int(ElemArray)
		if err != nil {
			return nil, err
		}
		a.LoBounds = append(a.LoBounds, lo)
	}
	return a, nil
}

func (r *reader) genericInst() (Type, error) {
	base, err := r.typ()
	if err != nil {
		return nil, err
	}
	tt, ok := base.(TokenType)
	if !ok {
		return nil, r.fail(ElemGenericInst, ErrUnexpectedElement)
	}
	count, err := r.uint(ElemGenericInst)
	if err != nil {
		return nil, err
	}
	if int(count) > len(r.b)-r.pos {
		return nil, r.fail(ElemGenericInst, ErrTruncated)
	}
	g := GenericInst{Base: tt, Args: make([]Type, 0, count)}
	for i := uint32(0); i < count; i++ {
		arg, err := r.typ()
		if err != nil {
			return nil, err
		}
		g.Args = append(g.Args, arg)
	}
	return g, nil
}
