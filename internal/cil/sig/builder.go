package sig

import (
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Builder serializes signatures. The zero value is ready to use; the first
// error sticks and is returned by Bytes.
type Builder struct {
	buf []byte
	err error
}

// Byte appends a raw byte (calling convention or element type).
func (b *Builder) Byte(c byte) *Builder {
	b.buf = append(b.buf, c)
	return b
}

// Uint appends a compressed unsigned integer.
func (b *Builder) Uint(v uint32) *Builder {
	if b.err != nil {
		return b
	}
	b.buf, b.err = AppendUint(b.buf, v)
	return b
}

// Int appends a compressed signed integer.
func (b *Builder) Int(v int32) *Builder {
	if b.err != nil {
		return b
	}
	b.buf, b.err = AppendInt(b.buf, v)
	return b
}

// Token appends a TypeDefOrRefOrSpec coded token.
func (b *Builder) Token(tok cil.Token) *Builder {
	if b.err != nil {
		return b
	}
	b.buf, b.err = AppendToken(b.buf, tok)
	return b
}

// Type appends a type tree.
func (b *Builder) Type(t Type) *Builder {
	if b.err != nil {
		return b
	}
	switch v := t.(type) {
	case Simple:
		b.Byte(byte(v.Elem))
	case TokenType:
		b.Byte(byte(v.Elem)).Token(v.Token)
	case Composite:
		b.Byte(byte(v.Elem)).Type(v.Inner)
	case Array:
		b.Byte(byte(ElemArray)).Type(v.Inner).Uint(v.Rank).Uint(uint32(len(v.Sizes)))
		for _, s := range v.Sizes {
			b.Uint(s)
		}
		b.Uint(uint32(len(v.LoBounds)))
		for _, lo := range v.LoBounds {
			b.Int(lo)
		}
	case FnPtr:
		b.Byte(byte(ElemFnPtr)).Signature(v.Method)
	case GenericParam:
		b.Byte(byte(v.Elem)).Uint(v.Index)
	case GenericInst:
		b.Byte(byte(ElemGenericInst)).Type(v.Base).Uint(uint32(len(v.Args)))
		for _, a := range v.Args {
			b.Type(a)
		}
	case Modified:
		b.Byte(byte(v.Elem))
		if v.Elem == ElemCModReqd || v.Elem == ElemCModOpt {
			b.Token(v.Token)
		}
		b.Type(v.Inner)
	default:
		b.err = fmt.Errorf("cannot encode type %T", t)
	}
	return b
}

// Signature appends a complete signature.
func (b *Builder) Signature(s *Signature) *Builder {
	if b.err != nil {
		return b
	}
	if s.Kind == KindTypeSpec {
		// type-spec blobs carry no calling convention byte
		return b.Type(s.Return)
	}
	b.Byte(s.CallConv)
	switch s.Kind {
	case KindField:
		return b.Type(s.Return)
	case KindLocals, KindMethodSpec:
		b.Uint(uint32(len(s.Params)))
		for _, p := range s.Params {
			b.Type(p)
		}
		return b
	default:
		if s.CallConv&CallConvGeneric != 0 {
			b.Uint(s.GenericParamCount)
		}
		b.Uint(uint32(len(s.Params)))
		ret := s.Return
		if ret == nil {
			ret = Simple{Elem: ElemVoid}
		}
		b.Type(ret)
		for i, p := range s.Params {
			if i == s.SentinelIndex {
				b.Byte(byte(ElemSentinel))
			}
			b.Type(p)
		}
		return b
	}
}

// Bytes returns the accumulated blob.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

// Encode serializes s into a new blob.
func Encode(s *Signature) ([]byte, error) {
	var b Builder
	return b.Signature(s).Bytes()
}
