package metadata

import (
	"sync"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// Type describes a TypeDef, TypeRef or TypeSpec token.
type Type struct {
	Token cil.Token
	// Name is namespace qualified. Enclosing type names are joined with '.'.
	Name string
	// Scope is the resolution scope of a TypeRef.
	Scope cil.Token
	// Enclosing is the enclosing TypeDef of a nested TypeDef.
	Enclosing   cil.Token
	Extends     cil.Token
	IsValueType bool
	// Spec is the parsed blob of a TypeSpec.
	Spec *sig.Signature
}

// Member describes a method definition, member reference, field or property.
type Member struct {
	Token cil.Token
	Name  string
	// Parent is the declaring type token.
	Parent   cil.Token
	TypeName string

	blob   []byte
	module *Module

	once   sync.Once
	sig    *sig.Signature
	sigErr error
	params string
}

// FullName returns "Type::Name".
func (m *Member) FullName() string {
	return m.TypeName + "::" + m.Name
}

// SignatureBlob returns the raw signature.
func (m *Member) SignatureBlob() []byte {
	return m.blob
}

// Signature returns the parsed signature.
func (m *Member) Signature() (*sig.Signature, error) {
	m.parse()
	return m.sig, m.sigErr
}

// ParamsRepresentation returns the canonical parameter list used to match
// aspect rules, or an empty string when the signature does not parse.
func (m *Member) ParamsRepresentation() string {
	m.parse()
	return m.params
}

func (m *Member) parse() {
	m.once.Do(func() {
		m.sig, m.sigErr = sig.Parse(m.blob)
		if m.sigErr == nil && m.sig.Kind != sig.KindField {
			m.params = m.sig.ParamsRepresentation(m.module)
		}
	})
}

// MethodSpec describes a generic method instantiation.
type MethodSpec struct {
	Token cil.Token
	// Generic is the instantiated MethodDef or MemberRef.
	Generic       *Member
	Instantiation *sig.Signature
}
