// Package sig parses and builds the compressed binary signatures found in
// managed metadata: method, field, local variable, property, type-spec and
// method-spec signatures.
//
// A parsed signature is an immutable tree of Type values. Type is a closed
// union: every variant lives in this package and all consumers switch over the
// concrete types exhaustively. New signatures for emission are produced with
// Builder.
package sig

import (
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// ElementType is the leading byte of every type in a signature.
type ElementType byte

// Element types
const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0a
	ElemU8          ElementType = 0x0b
	ElemR4          ElementType = 0x0c
	ElemR8          ElementType = 0x0d
	ElemString      ElementType = 0x0e
	ElemPtr         ElementType = 0x0f
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1b
	ElemObject      ElementType = 0x1c
	ElemSZArray     ElementType = 0x1d
	ElemMVar        ElementType = 0x1e
	ElemCModReqd    ElementType = 0x1f
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
)

var primitiveNames = map[ElementType]string{
	ElemVoid:       "System.Void",
	ElemBoolean:    "System.Boolean",
	ElemChar:       "System.Char",
	ElemI1:         "System.SByte",
	ElemU1:         "System.Byte",
	ElemI2:         "System.Int16",
	ElemU2:         "System.UInt16",
	ElemI4:         "System.Int32",
	ElemU4:         "System.UInt32",
	ElemI8:         "System.Int64",
	ElemU8:         "System.UInt64",
	ElemR4:         "System.Single",
	ElemR8:         "System.Double",
	ElemString:     "System.String",
	ElemTypedByRef: "System.TypedReference",
	ElemI:          "System.IntPtr",
	ElemU:          "System.UIntPtr",
	ElemObject:     "System.Object",
}

// IsPrimitive reports whether e is encoded as a single byte with no payload.
func (e ElementType) IsPrimitive() bool {
	_, ok := primitiveNames[e]
	return ok
}

// PrimitiveName returns the framework type name of a primitive element type,
// or an empty string.
func (e ElementType) PrimitiveName() string {
	return primitiveNames[e]
}

// PrimitiveByName is the inverse of PrimitiveName.
func PrimitiveByName(name string) (ElementType, bool) {
	for e, n := range primitiveNames {
		if n == name {
			return e, true
		}
	}
	return 0, false
}

func (e ElementType) String() string {
	if name, ok := primitiveNames[e]; ok {
		return name
	}
	switch e {
	case ElemPtr:
		return "PTR"
	case ElemByRef:
		return "BYREF"
	case ElemValueType:
		return "VALUETYPE"
	case ElemClass:
		return "CLASS"
	case ElemVar:
		return "VAR"
	case ElemArray:
		return "ARRAY"
	case ElemGenericInst:
		return "GENERICINST"
	case ElemFnPtr:
		return "FNPTR"
	case ElemSZArray:
		return "SZARRAY"
	case ElemMVar:
		return "MVAR"
	case ElemCModReqd:
		return "CMOD_REQD"
	case ElemCModOpt:
		return "CMOD_OPT"
	case ElemSentinel:
		return "SENTINEL"
	case ElemPinned:
		return "PINNED"
	default:
		return fmt.Sprintf("ELEMENT(0x%02x)", byte(e))
	}
}

// Type is one node of a signature tree. The set of implementations is closed.
type Type interface {
	// Element returns the leading element type of this node.
	Element() ElementType
	isType()
}

// Simple is a primitive type encoded by its element type alone.
type Simple struct {
	Elem ElementType
}

// TokenType is a class or value type referenced by a TypeDef, TypeRef or
// TypeSpec token.
type TokenType struct {
	Elem  ElementType // ElemClass or ElemValueType
	Token cil.Token
}

// Composite wraps a related type: pointer, by-ref or single-dimension array.
type Composite struct {
	Elem  ElementType // ElemPtr, ElemByRef or ElemSZArray
	Inner Type
}

// Array is a multi-dimensional array with optional sizes and lower bounds.
type Array struct {
	Inner    Type
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32
}

// FnPtr is a function pointer carrying a full method signature.
type FnPtr struct {
	Method *Signature
}

// GenericParam is a type (!N) or method (!!N) generic parameter.
type GenericParam struct {
	Elem  ElementType // ElemVar or ElemMVar
	Index uint32
}

// GenericInst is a generic type instantiated with type arguments.
type GenericInst struct {
	Base TokenType
	Args []Type
}

// Modified decorates a type with a custom modifier, the pinned marker, or the
// vararg sentinel. Token is only meaningful for custom modifiers.
type Modified struct {
	Elem  ElementType // ElemCModReqd, ElemCModOpt, ElemPinned or ElemSentinel
	Token cil.Token
	Inner Type
}

func (t Simple) Element() ElementType       { return t.Elem }
func (t TokenType) Element() ElementType    { return t.Elem }
func (t Composite) Element() ElementType    { return t.Elem }
func (t Array) Element() ElementType        { return ElemArray }
func (t FnPtr) Element() ElementType        { return ElemFnPtr }
func (t GenericParam) Element() ElementType { return t.Elem }
func (t GenericInst) Element() ElementType  { return ElemGenericInst }
func (t Modified) Element() ElementType     { return t.Elem }

func (Simple) isType()       {}
func (TokenType) isType()    {}
func (Composite) isType()    {}
func (Array) isType()        {}
func (FnPtr) isType()        {}
func (GenericParam) isType() {}
func (GenericInst) isType()  {}
func (Modified) isType()     {}

// TokenOf returns the type token that identifies t for box/unbox/castclass
// operands. Primitive types and generic parameters yield a nil token.
func TokenOf(t Type) cil.Token {
	switch v := t.(type) {
	case TokenType:
		return v.Token
	case GenericInst:
		return v.Base.Token
	case Modified:
		return TokenOf(v.Inner)
	default:
		return 0
	}
}

// Unwrap strips modifiers and returns the underlying type.
func Unwrap(t Type) Type {
	for {
		m, ok := t.(Modified)
		if !ok {
			return t
		}
		t = m.Inner
	}
}

// IsVoid reports whether t is the void type.
func IsVoid(t Type) bool {
	if t == nil {
		return true
	}
	s, ok := Unwrap(t).(Simple)
	return ok && s.Elem == ElemVoid
}

// IsValueType reports whether t is known to be a value type.
func IsValueType(t Type) bool {
	switch v := Unwrap(t).(type) {
	case Simple:
		return v.Elem != ElemString && v.Elem != ElemObject && v.Elem != ElemVoid
	case TokenType:
		return v.Elem == ElemValueType
	case GenericInst:
		return v.Base.Elem == ElemValueType
	default:
		return false
	}
}
