package sig

import (
	"strconv"
	"strings"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Kind classifies a signature blob.
type Kind int

// Signature kinds
const (
	KindMethod Kind = iota
	KindField
	KindLocals
	KindProperty
	KindTypeSpec
	KindMethodSpec
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	case KindLocals:
		return "locals"
	case KindProperty:
		return "property"
	case KindTypeSpec:
		return "typespec"
	case KindMethodSpec:
		return "methodspec"
	default:
		return "unknown"
	}
}

// Calling convention bytes. The low nibble is the kind, the high bits are flags.
const (
	CallConvDefault      byte = 0x00
	CallConvC            byte = 0x01
	CallConvStdCall      byte = 0x02
	CallConvThisCall     byte = 0x03
	CallConvFastCall     byte = 0x04
	CallConvVarArg       byte = 0x05
	CallConvField        byte = 0x06
	CallConvLocalSig     byte = 0x07
	CallConvProperty     byte = 0x08
	CallConvUnmanaged    byte = 0x09
	CallConvGenericInst  byte = 0x0a
	CallConvNativeVararg byte = 0x0b
	CallConvMask         byte = 0x0f

	CallConvGeneric      byte = 0x10
	CallConvHasThis      byte = 0x20
	CallConvExplicitThis byte = 0x40
)

// Signature is a parsed signature blob.
//
// For methods and properties Return and Params hold the return and parameter
// types. For fields Return holds the field type. For local variable signatures
// Params holds the locals. For method-spec signatures Params holds the generic
// arguments. For type-spec signatures Return holds the single type.
type Signature struct {
	Kind              Kind
	CallConv          byte
	GenericParamCount uint32
	Return            Type
	Params            []Type

	// SentinelIndex is the index of the first vararg parameter, or -1.
	SentinelIndex int
}

// NewMethod creates a method signature.
func NewMethod(callConv byte, ret Type, params ...Type) *Signature {
	return &Signature{
		Kind:          KindMethod,
		CallConv:      callConv,
		Return:        ret,
		Params:        params,
		SentinelIndex: -1,
	}
}

// NewMethodSpec creates a method-spec instantiation signature.
func NewMethodSpec(args ...Type) *Signature {
	return &Signature{
		Kind:          KindMethodSpec,
		CallConv:      CallConvGenericInst,
		Params:        args,
		SentinelIndex: -1,
	}
}

// HasThis reports whether the method takes an implicit receiver.
func (s *Signature) HasThis() bool {
	return s.CallConv&CallConvHasThis != 0
}

// IsGeneric reports whether the method declares generic parameters.
func (s *Signature) IsGeneric() bool {
	return s.CallConv&CallConvGeneric != 0
}

// ParamCount returns the number of declared parameters.
func (s *Signature) ParamCount() int {
	return len(s.Params)
}

// EffectiveParamCount returns the number of stack operands a call consumes,
// counting the implicit receiver.
func (s *Signature) EffectiveParamCount() int {
	if s.HasThis() {
		return len(s.Params) + 1
	}
	return len(s.Params)
}

// ReturnsVoid reports whether the method has no return value.
func (s *Signature) ReturnsVoid() bool {
	return IsVoid(s.Return)
}

// Param returns the declared parameter i, or nil when out of range.
func (s *Signature) Param(i int) Type {
	if i < 0 || i >= len(s.Params) {
		return nil
	}
	return s.Params[i]
}

// EffectiveParam returns the type of stack operand i, where operand 0 is the
// receiver when the method has one. The receiver type is unknown and reported
// as nil.
func (s *Signature) EffectiveParam(i int) Type {
	if s.HasThis() {
		if i == 0 {
			return nil
		}
		i--
	}
	return s.Param(i)
}

// Resolver supplies type names for tokens found in signatures.
type Resolver interface {
	TypeName(token cil.Token) (string, error)
}

// ParamsRepresentation renders the parameter list as the canonical matching
// key, for example "(System.String,System.Object[])".
func (s *Signature) ParamsRepresentation(r Resolver) string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = Name(p, r)
	}
	return "(" + strings.Join(names, ",") + ")"
}

// Name renders a type the way aspect rules spell it.
func Name(t Type, r Resolver) string {
	switch v := t.(type) {
	case nil:
		return ""
	case Simple:
		if name := v.Elem.PrimitiveName(); name != "" {
			return name
		}
		return v.Elem.String()
	case TokenType:
		if r == nil {
			return v.Token.String()
		}
		name, err := r.TypeName(v.Token)
		if err != nil {
			return ""
		}
		return name
	case Composite:
		if v.Elem == ElemSZArray {
			return Name(v.Inner, r) + "[]"
		}
		return Name(v.Inner, r)
	case Array:
		if v.Rank <= 1 {
			return Name(v.Inner, r) + "[]"
		}
		return Name(v.Inner, r) + "[" + strings.Repeat(",", int(v.Rank-1)) + "]"
	case FnPtr:
		return "FNPTR"
	case GenericParam:
		if v.Elem == ElemMVar {
			return "!!" + strconv.FormatUint(uint64(v.Index), 10)
		}
		return "!" + strconv.FormatUint(uint64(v.Index), 10)
	case GenericInst:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = Name(a, r)
		}
		return Name(v.Base, r) + "<" + strings.Join(args, ",") + ">"
	case Modified:
		return Name(v.Inner, r)
	default:
		return ""
	}
}
