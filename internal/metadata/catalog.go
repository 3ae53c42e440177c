// Package metadata wraps the host's per-module metadata service with lazy,
// token keyed caches and tracks the instrumentation state of every method the
// engine touches.
package metadata

import (
	"github.com/isseis/go-iast-weaver/internal/cil"
)

// ModuleID identifies a loaded module within the host process.
type ModuleID uint64

// AppDomainID identifies the isolation domain a module was loaded into.
type AppDomainID uint64

// TypeDefProps describes a type defined in the module. Name is namespace
// qualified but excludes enclosing types.
type TypeDefProps struct {
	Name        string
	Extends     cil.Token
	Enclosing   cil.Token
	IsValueType bool
}

// TypeRefProps describes a reference to a type defined elsewhere. Scope is an
// AssemblyRef, a ModuleRef, the Module itself or an enclosing TypeRef.
type TypeRefProps struct {
	Name  string
	Scope cil.Token
}

// MethodProps describes a method definition.
type MethodProps struct {
	Name      string
	Owner     cil.Token
	Signature []byte
}

// MemberRefProps describes a reference to a method or field of another type.
// Parent is a TypeRef, TypeDef, TypeSpec, ModuleRef or MethodDef.
type MemberRefProps struct {
	Name      string
	Parent    cil.Token
	Signature []byte
}

// FieldProps describes a field definition.
type FieldProps struct {
	Name      string
	Owner     cil.Token
	Signature []byte
}

// PropertyProps describes a property and its accessors.
type PropertyProps struct {
	Name      string
	Owner     cil.Token
	Signature []byte
	Getter    cil.Token
	Setter    cil.Token
}

// MethodSpecProps describes a generic method instantiation.
type MethodSpecProps struct {
	Parent        cil.Token
	Instantiation []byte
}

// AssemblyRef is one row of the assembly reference table.
type AssemblyRef struct {
	Token cil.Token
	Name  string
}

// Catalog is the host's metadata query and definition service for one
// module. Lookups that find nothing return an error wrapping ErrNotFound.
type Catalog interface {
	// FindTypeDef finds a type by name. Nested types pass their enclosing
	// type; top level types pass the nil token.
	FindTypeDef(name string, enclosing cil.Token) (cil.Token, error)
	TypeDefProps(tok cil.Token) (TypeDefProps, error)
	TypeRefProps(tok cil.Token) (TypeRefProps, error)
	TypeSpecBlob(tok cil.Token) ([]byte, error)
	MethodProps(tok cil.Token) (MethodProps, error)
	MemberRefProps(tok cil.Token) (MemberRefProps, error)
	FieldProps(tok cil.Token) (FieldProps, error)
	PropertyProps(tok cil.Token) (PropertyProps, error)
	MethodSpecProps(tok cil.Token) (MethodSpecProps, error)
	// StandAloneSig returns the blob of a StandAloneSig token, such as a
	// locals or calli signature.
	StandAloneSig(tok cil.Token) ([]byte, error)
	UserString(tok cil.Token) (string, error)

	EnumMethods(typeDef cil.Token) ([]cil.Token, error)
	EnumProperties(typeDef cil.Token) ([]cil.Token, error)
	EnumTypeRefs() ([]cil.Token, error)
	EnumMemberRefs(parent cil.Token) ([]cil.Token, error)
	EnumAssemblyRefs() ([]AssemblyRef, error)
	// CustomAttributes returns the constructor tokens of the attributes
	// attached to tok.
	CustomAttributes(tok cil.Token) ([]cil.Token, error)

	DefineAssemblyRef(name string) (cil.Token, error)
	DefineTypeRef(scope cil.Token, name string) (cil.Token, error)
	DefineMemberRef(parent cil.Token, name string, signature []byte) (cil.Token, error)
	DefineMethodSpec(parent cil.Token, instantiation []byte) (cil.Token, error)
	DefineUserString(s string) (cil.Token, error)
}

// Bodies reads and replaces method bodies of one module.
type Bodies interface {
	MethodBody(method cil.Token) ([]byte, error)
	SetMethodBody(method cil.Token, body []byte) error
}

// FunctionControl receives the final body of a method being recompiled.
type FunctionControl interface {
	SetILFunctionBody(body []byte) error
}
