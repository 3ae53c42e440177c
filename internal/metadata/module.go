package metadata

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// SelfScope is the resolution scope naming the module itself.
const SelfScope = cil.Token(uint32(cil.TableModule)<<24 | 1)

// coreAssemblies hold the primitive types, in lookup order.
var coreAssemblies = []string{"System.Runtime", "mscorlib", "netstandard", "System.Private.CoreLib"}

// ModuleInfo identifies a loaded module.
type ModuleInfo struct {
	ID           ModuleID
	Name         string
	AssemblyName string
	AppDomain    AppDomainID
}

// Option configures a Module.
type Option func(*Module)

// WithExcluded sets the module exclusion verdict.
func WithExcluded(excluded bool) Option {
	return func(m *Module) { m.excluded = excluded }
}

// WithPeers sets the lookup used to find the module that defines an imported
// helper. It must only return modules of the same app domain.
func WithPeers(peers func(assembly string) *Module) Option {
	return func(m *Module) { m.peers = peers }
}

// WithMethodExclusion sets the predicate deciding, from a method's full name,
// whether the method is left alone.
func WithMethodExclusion(excluded func(fullName string) bool) Option {
	return func(m *Module) { m.methodExcluded = excluded }
}

// WithVerification enables re-analysis of committed bodies and their debug
// listing.
func WithVerification(verify, dump bool) Option {
	return func(m *Module) {
		m.verify = verify
		m.dump = dump
	}
}

// Module is the engine's view of one loaded module. Descriptors are created
// on first use and live as long as the module. A Module is safe for
// concurrent use; callers that need a consistent sequence of lookups and
// definitions hold its Guard.
type Module struct {
	ModuleInfo

	catalog        Catalog
	bodies         Bodies
	excluded       bool
	peers          func(assembly string) *Module
	methodExcluded func(fullName string) bool
	verify         bool
	dump           bool

	guard Guard

	mu         sync.Mutex
	types      map[cil.Token]*Type
	members    map[cil.Token]*Member
	methods    map[cil.Token]*Method
	specs      map[cil.Token]*MethodSpec
	signatures map[cil.Token]*sig.Signature
	typeRefs   map[string]cil.Token

	// defineMu serializes definitions so that concurrent imports of the same
	// helper produce one token.
	defineMu        sync.Mutex
	assemblyImports map[string]cil.Token
	memberImports   map[string]cil.Token
	specImports     map[string]cil.Token
}

// NewModule creates the descriptor of a loaded module.
func NewModule(info ModuleInfo, catalog Catalog, bodies Bodies, opts ...Option) *Module {
	m := &Module{
		ModuleInfo:      info,
		catalog:         catalog,
		bodies:          bodies,
		verify:          true,
		types:           make(map[cil.Token]*Type),
		members:         make(map[cil.Token]*Member),
		methods:         make(map[cil.Token]*Method),
		specs:           make(map[cil.Token]*MethodSpec),
		signatures:      make(map[cil.Token]*sig.Signature),
		assemblyImports: make(map[string]cil.Token),
		memberImports:   make(map[string]cil.Token),
		specImports:     make(map[string]cil.Token),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsExcluded reports whether no method of the module is instrumented.
func (m *Module) IsExcluded() bool {
	return m.excluded
}

// Guard returns the guard serializing work on the module.
func (m *Module) Guard() *Guard {
	return &m.guard
}

// Catalog returns the underlying metadata service.
func (m *Module) Catalog() Catalog {
	return m.catalog
}

func (m *Module) fail(tok cil.Token, name string, err error) error {
	if !errors.Is(err, ErrMetadataResolution) {
		err = fmt.Errorf("%w: %w", ErrMetadataResolution, err)
	}
	return &ResolutionError{Module: m.Name, Token: tok, Name: name, Err: err}
}

// cached returns cache[key], loading and storing it on a miss. The lock is
// not held while loading, so loaders may call other lookups.
func cached[V any](m *Module, cache map[cil.Token]V, key cil.Token, load func() (V, error)) (V, error) {
	m.mu.Lock()
	v, ok := cache[key]
	m.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := cache[key]; ok {
		return existing, nil
	}
	cache[key] = v
	return v, nil
}

// TypeInfo returns the descriptor of a TypeDef, TypeRef or TypeSpec token.
func (m *Module) TypeInfo(tok cil.Token) (*Type, error) {
	return cached(m, m.types, tok, func() (*Type, error) {
		switch tok.Table() {
		case cil.TableTypeDef:
			props, err := m.catalog.TypeDefProps(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name := props.Name
			for enc := props.Enclosing; !enc.IsNil(); {
				outer, err := m.catalog.TypeDefProps(enc)
				if err != nil {
					return nil, m.fail(enc, "", err)
				}
				name = outer.Name + "." + name
				enc = outer.Enclosing
			}
			return &Type{Token: tok, Name: name, Enclosing: props.Enclosing, Extends: props.Extends, IsValueType: props.IsValueType}, nil
		case cil.TableTypeRef:
			props, err := m.catalog.TypeRefProps(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name := props.Name
			if props.Scope.Is(cil.TableTypeRef) {
				outer, err := m.TypeInfo(props.Scope)
				if err != nil {
					return nil, err
				}
				name = outer.Name + "." + name
			}
			return &Type{Token: tok, Name: name, Scope: props.Scope}, nil
		case cil.TableTypeSpec:
			blob, err := m.catalog.TypeSpecBlob(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			spec, err := sig.ParseTypeSpec(blob)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name := sig.Name(spec.Return, m)
			if name == "" {
				name = "TypeSpec"
			}
			return &Type{Token: tok, Name: name, Spec: spec, IsValueType: sig.IsValueType(spec.Return)}, nil
		default:
			return nil, m.fail(tok, "", ErrUnexpectedTable)
		}
	})
}

// TypeName returns the name of a type token.
func (m *Module) TypeName(tok cil.Token) (string, error) {
	t, err := m.TypeInfo(tok)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// MemberInfo returns the descriptor of a MethodDef, MemberRef, Field or
// Property token. MethodSpec tokens yield their generic method.
func (m *Module) MemberInfo(tok cil.Token) (*Member, error) {
	switch tok.Table() {
	case cil.TableMethodDef:
		method, err := m.MethodInfo(tok)
		if err != nil {
			return nil, err
		}
		return method.Member, nil
	case cil.TableMethodSpec:
		spec, err := m.MethodSpec(tok)
		if err != nil {
			return nil, err
		}
		return spec.Generic, nil
	}
	return cached(m, m.members, tok, func() (*Member, error) {
		var name string
		var parent cil.Token
		var blob []byte
		switch tok.Table() {
		case cil.TableMemberRef:
			props, err := m.catalog.MemberRefProps(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name, parent, blob = props.Name, props.Parent, props.Signature
			if parent.Is(cil.TableMethodDef) {
				// vararg call site reference
				def, err := m.MethodInfo(parent)
				if err != nil {
					return nil, err
				}
				parent = def.Parent
			}
		case cil.TableField:
			props, err := m.catalog.FieldProps(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name, parent, blob = props.Name, props.Owner, props.Signature
		case cil.TableProperty:
			props, err := m.catalog.PropertyProps(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			name, parent, blob = props.Name, props.Owner, props.Signature
		default:
			return nil, m.fail(tok, "", ErrUnexpectedTable)
		}
		return m.newMember(tok, name, parent, blob), nil
	})
}

func (m *Module) newMember(tok cil.Token, name string, parent cil.Token, blob []byte) *Member {
	typeName := ""
	if !parent.IsNil() {
		if t, err := m.TypeInfo(parent); err == nil {
			typeName = t.Name
		}
	}
	return &Member{Token: tok, Name: name, Parent: parent, TypeName: typeName, blob: blob, module: m}
}

// MemberName renders a member token as "Type::Name" for listings.
func (m *Module) MemberName(tok cil.Token) (string, error) {
	if tok.Is(cil.TableMethodSpec) {
		spec, err := m.MethodSpec(tok)
		if err != nil {
			return "", err
		}
		args := make([]string, len(spec.Instantiation.Params))
		for i, a := range spec.Instantiation.Params {
			args[i] = sig.Name(a, m)
		}
		return spec.Generic.FullName() + "<" + strings.Join(args, ",") + ">", nil
	}
	member, err := m.MemberInfo(tok)
	if err != nil {
		return "", err
	}
	return member.FullName(), nil
}

// MethodInfo returns the descriptor of a MethodDef token.
func (m *Module) MethodInfo(tok cil.Token) (*Method, error) {
	if !tok.Is(cil.TableMethodDef) {
		return nil, m.fail(tok, "", ErrUnexpectedTable)
	}
	if tok.IsNil() {
		return nil, m.fail(tok, "", ErrNotFound)
	}
	return cached(m, m.methods, tok, func() (*Method, error) {
		props, err := m.catalog.MethodProps(tok)
		if err != nil {
			return nil, m.fail(tok, "", err)
		}
		return newMethod(m, m.newMember(tok, props.Name, props.Owner, props.Signature)), nil
	})
}

// MethodSpec returns the descriptor of a MethodSpec token.
func (m *Module) MethodSpec(tok cil.Token) (*MethodSpec, error) {
	if !tok.Is(cil.TableMethodSpec) {
		return nil, m.fail(tok, "", ErrUnexpectedTable)
	}
	return cached(m, m.specs, tok, func() (*MethodSpec, error) {
		props, err := m.catalog.MethodSpecProps(tok)
		if err != nil {
			return nil, m.fail(tok, "", err)
		}
		generic, err := m.MemberInfo(props.Parent)
		if err != nil {
			return nil, err
		}
		inst, err := sig.Parse(props.Instantiation)
		if err != nil {
			return nil, m.fail(tok, "", err)
		}
		return &MethodSpec{Token: tok, Generic: generic, Instantiation: inst}, nil
	})
}

// Signature returns the parsed signature of a member, method-spec or
// stand-alone signature token. Method specs yield their generic method's
// signature.
func (m *Module) Signature(tok cil.Token) (*sig.Signature, error) {
	switch tok.Table() {
	case cil.TableSignature:
		return cached(m, m.signatures, tok, func() (*sig.Signature, error) {
			blob, err := m.catalog.StandAloneSig(tok)
			if err != nil {
				return nil, m.fail(tok, "", err)
			}
			return sig.Parse(blob)
		})
	default:
		member, err := m.MemberInfo(tok)
		if err != nil {
			return nil, err
		}
		return member.Signature()
	}
}

// SignatureBlob returns the blob of a stand-alone signature token.
func (m *Module) SignatureBlob(tok cil.Token) ([]byte, error) {
	blob, err := m.catalog.StandAloneSig(tok)
	if err != nil {
		return nil, m.fail(tok, "", err)
	}
	return blob, nil
}

// UserString returns the literal behind a user string token.
func (m *Module) UserString(tok cil.Token) (string, error) {
	if !tok.Is(cil.TableString) {
		return "", m.fail(tok, "", ErrUnexpectedTable)
	}
	s, err := m.catalog.UserString(tok)
	if err != nil {
		return "", m.fail(tok, "", err)
	}
	return s, nil
}

// DefineUserString interns a literal and returns its token.
func (m *Module) DefineUserString(s string) (cil.Token, error) {
	tok, err := m.catalog.DefineUserString(s)
	if err != nil {
		return 0, m.fail(0, s, err)
	}
	return tok, nil
}

// AreSameTypes reports whether two type tokens name the same type.
func (m *Module) AreSameTypes(a, b cil.Token) bool {
	if a == b {
		return true
	}
	if a.IsNil() || b.IsNil() {
		return false
	}
	ta, err := m.TypeInfo(a)
	if err != nil {
		return false
	}
	tb, err := m.TypeInfo(b)
	if err != nil {
		return false
	}
	return ta.Name != "" && ta.Name == tb.Name
}

// TypeDef finds a type defined in the module. Nested types are separated by
// '+', as in "Outer+Inner".
func (m *Module) TypeDef(name string) (cil.Token, error) {
	enclosing := cil.Token(0)
	for _, part := range strings.Split(name, "+") {
		tok, err := m.catalog.FindTypeDef(part, enclosing)
		if err != nil {
			return 0, m.fail(0, name, err)
		}
		enclosing = tok
	}
	return enclosing, nil
}

// Methods returns the methods of typeDef called name, in definition order.
func (m *Module) Methods(typeDef cil.Token, name string) ([]*Method, error) {
	toks, err := m.catalog.EnumMethods(typeDef)
	if err != nil {
		return nil, m.fail(typeDef, name, err)
	}
	var out []*Method
	for _, tok := range toks {
		method, err := m.MethodInfo(tok)
		if err != nil {
			return nil, err
		}
		if method.Name == name {
			out = append(out, method)
		}
	}
	return out, nil
}

// Method finds a method by type name, method name and parameter list. A
// single candidate is returned regardless of its parameters.
func (m *Module) Method(typeName, name, params string) (*Method, error) {
	td, err := m.TypeDef(typeName)
	if err != nil {
		return nil, err
	}
	candidates, err := m.Methods(td, name)
	if err != nil {
		return nil, err
	}
	full := typeName + "::" + name + params
	switch len(candidates) {
	case 0:
		return nil, m.fail(0, full, ErrNotFound)
	case 1:
		return candidates[0], nil
	}
	for _, c := range candidates {
		if c.ParamsRepresentation() == params {
			return c, nil
		}
	}
	return nil, m.fail(0, full, ErrAmbiguous)
}

// Properties returns the properties declared by typeDef.
func (m *Module) Properties(typeDef cil.Token) ([]*Member, error) {
	toks, err := m.catalog.EnumProperties(typeDef)
	if err != nil {
		return nil, m.fail(typeDef, "", err)
	}
	out := make([]*Member, 0, len(toks))
	for _, tok := range toks {
		p, err := m.MemberInfo(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FindTypeRefByName returns the first type reference called name.
func (m *Module) FindTypeRefByName(name string) (cil.Token, error) {
	if err := m.indexTypeRefs(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	tok, ok := m.typeRefs[name]
	m.mu.Unlock()
	if !ok {
		return 0, m.fail(0, name, ErrNotFound)
	}
	return tok, nil
}

// CoreTypeRefs returns the references to the type called name that resolve
// to one of the core library assemblies.
func (m *Module) CoreTypeRefs(name string) ([]cil.Token, error) {
	refs, err := m.catalog.EnumAssemblyRefs()
	if err != nil {
		return nil, m.fail(0, name, err)
	}
	core := make(map[cil.Token]bool)
	for _, ref := range refs {
		if slices.Contains(coreAssemblies, ref.Name) {
			core[ref.Token] = true
		}
	}
	if len(core) == 0 {
		return nil, nil
	}
	toks, err := m.catalog.EnumTypeRefs()
	if err != nil {
		return nil, m.fail(0, name, err)
	}
	var out []cil.Token
	for _, tok := range toks {
		t, err := m.TypeInfo(tok)
		if err != nil {
			continue
		}
		if t.Name == name && core[t.Scope] {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (m *Module) indexTypeRefs() error {
	m.mu.Lock()
	done := m.typeRefs != nil
	m.mu.Unlock()
	if done {
		return nil
	}
	toks, err := m.catalog.EnumTypeRefs()
	if err != nil {
		return m.fail(0, "", err)
	}
	index := make(map[string]cil.Token, len(toks))
	for _, tok := range toks {
		t, err := m.TypeInfo(tok)
		if err != nil {
			continue
		}
		if _, dup := index[t.Name]; !dup {
			index[t.Name] = tok
		}
	}
	m.mu.Lock()
	if m.typeRefs == nil {
		m.typeRefs = index
	}
	m.mu.Unlock()
	return nil
}

// FindMemberRefsByName returns the member references of parent called name.
func (m *Module) FindMemberRefsByName(parent cil.Token, name string) ([]*Member, error) {
	toks, err := m.catalog.EnumMemberRefs(parent)
	if err != nil {
		return nil, m.fail(parent, name, err)
	}
	var out []*Member
	for _, tok := range toks {
		member, err := m.MemberInfo(tok)
		if err != nil {
			return nil, err
		}
		if member.Name == name {
			out = append(out, member)
		}
	}
	return out, nil
}

// CustomAttributes returns the type names of the attributes applied to tok.
// Property accessors also report the attributes of their property.
func (m *Module) CustomAttributes(tok cil.Token) ([]string, error) {
	names, err := m.attributeNames(tok)
	if err != nil {
		return nil, err
	}
	if !tok.Is(cil.TableMethodDef) {
		return names, nil
	}
	method, err := m.MethodInfo(tok)
	if err != nil {
		return nil, err
	}
	if !method.Parent.Is(cil.TableTypeDef) {
		return names, nil
	}
	props, err := m.catalog.EnumProperties(method.Parent)
	if err != nil {
		return nil, m.fail(method.Parent, "", err)
	}
	for _, p := range props {
		pp, err := m.catalog.PropertyProps(p)
		if err != nil {
			return nil, m.fail(p, "", err)
		}
		if pp.Getter != tok && pp.Setter != tok {
			continue
		}
		more, err := m.attributeNames(p)
		if err != nil {
			return nil, err
		}
		names = append(names, more...)
	}
	return names, nil
}

func (m *Module) attributeNames(tok cil.Token) ([]string, error) {
	ctors, err := m.catalog.CustomAttributes(tok)
	if err != nil {
		return nil, m.fail(tok, "", err)
	}
	names := make([]string, 0, len(ctors))
	for _, ctor := range ctors {
		member, err := m.MemberInfo(ctor)
		if err != nil {
			return nil, err
		}
		names = append(names, member.TypeName)
	}
	return names, nil
}

// AssemblyRef returns the reference to an assembly, defining it when the
// module does not reference it yet. The module's own assembly yields
// SelfScope.
func (m *Module) AssemblyRef(name string) (cil.Token, error) {
	m.defineMu.Lock()
	defer m.defineMu.Unlock()
	return m.assemblyRef(name)
}

func (m *Module) assemblyRef(name string) (cil.Token, error) {
	if name == m.AssemblyName {
		return SelfScope, nil
	}
	if tok, ok := m.assemblyImports[name]; ok {
		return tok, nil
	}
	refs, err := m.catalog.EnumAssemblyRefs()
	if err != nil {
		return 0, m.fail(0, name, err)
	}
	for _, ref := range refs {
		if ref.Name == name {
			m.assemblyImports[name] = ref.Token
			return ref.Token, nil
		}
	}
	tok, err := m.catalog.DefineAssemblyRef(name)
	if err != nil {
		return 0, m.fail(0, name, err)
	}
	slog.Debug("Defined assembly reference",
		slog.String("module", m.Name),
		slog.String("assembly", name),
		slog.String("token", tok.String()))
	m.assemblyImports[name] = tok
	return tok, nil
}

// TypeRef returns a reference to the type called name in scope, defining it
// when missing. SelfScope resolves to the module's own TypeDef.
func (m *Module) TypeRef(scope cil.Token, name string) (cil.Token, error) {
	m.defineMu.Lock()
	defer m.defineMu.Unlock()
	return m.typeRef(scope, name)
}

func (m *Module) typeRef(scope cil.Token, name string) (cil.Token, error) {
	if scope == SelfScope {
		return m.TypeDef(name)
	}
	toks, err := m.catalog.EnumTypeRefs()
	if err != nil {
		return 0, m.fail(0, name, err)
	}
	for _, tok := range toks {
		props, err := m.catalog.TypeRefProps(tok)
		if err != nil {
			continue
		}
		if props.Name == name && props.Scope == scope {
			return tok, nil
		}
	}
	tok, err := m.catalog.DefineTypeRef(scope, name)
	if err != nil {
		return 0, m.fail(0, name, err)
	}
	m.mu.Lock()
	if m.typeRefs != nil {
		if _, dup := m.typeRefs[name]; !dup && !scope.Is(cil.TableTypeRef) {
			m.typeRefs[name] = tok
		}
	}
	m.mu.Unlock()
	return tok, nil
}

// PrimitiveTypeRef returns a type token for a primitive element type, usable
// as the operand of box and unbox.any.
func (m *Module) PrimitiveTypeRef(elem sig.ElementType) (cil.Token, error) {
	name := elem.PrimitiveName()
	if name == "" {
		return 0, m.fail(0, elem.String(), ErrUnexpectedTable)
	}
	if tok, err := m.FindTypeRefByName(name); err == nil {
		return tok, nil
	}
	for _, core := range coreAssemblies {
		if core == m.AssemblyName {
			return m.TypeDef(name)
		}
	}
	refs, err := m.catalog.EnumAssemblyRefs()
	if err != nil {
		return 0, m.fail(0, name, err)
	}
	for _, core := range coreAssemblies {
		for _, ref := range refs {
			if ref.Name == core {
				return m.TypeRef(ref.Token, name)
			}
		}
	}
	return 0, m.fail(0, name, ErrNotFound)
}

// DefineMemberRef returns a local reference to a method defined by another
// module of the same app domain. The reference is created once per
// assembly, type, method and parameter list.
func (m *Module) DefineMemberRef(assembly, typeName, method, params string) (cil.Token, error) {
	key := assembly + "::" + typeName + "." + method + params
	m.defineMu.Lock()
	defer m.defineMu.Unlock()
	if tok, ok := m.memberImports[key]; ok {
		return tok, nil
	}

	var peer *Module
	if m.peers != nil {
		peer = m.peers(assembly)
	}
	if peer == nil {
		return 0, m.fail(0, key, ErrHelperModuleNotLoaded)
	}
	helper, err := peer.Method(typeName, method, params)
	if err != nil {
		return 0, err
	}
	if peer == m {
		m.memberImports[key] = helper.Token
		return helper.Token, nil
	}

	helperSig, err := helper.Signature()
	if err != nil {
		return 0, m.fail(helper.Token, key, err)
	}
	imported, err := m.importSignature(peer, helperSig)
	if err != nil {
		return 0, err
	}
	blob, err := sig.Encode(imported)
	if err != nil {
		return 0, m.fail(helper.Token, key, err)
	}
	scope, err := m.assemblyRef(assembly)
	if err != nil {
		return 0, err
	}
	parent, err := m.typeRef(scope, typeName)
	if err != nil {
		return 0, err
	}
	tok, err := m.catalog.DefineMemberRef(parent, method, blob)
	if err != nil {
		return 0, m.fail(0, key, err)
	}
	slog.Debug("Imported helper method",
		slog.String("module", m.Name),
		slog.String("helper", key),
		slog.String("token", tok.String()))
	m.memberImports[key] = tok
	return tok, nil
}

// DefineMethodSpec returns a method-spec instantiating a generic method. The
// spec is created once per method and instantiation.
func (m *Module) DefineMethodSpec(generic cil.Token, inst *sig.Signature) (cil.Token, error) {
	blob, err := sig.Encode(inst)
	if err != nil {
		return 0, m.fail(generic, "", err)
	}
	key := generic.String() + ":" + hex.EncodeToString(blob)
	m.defineMu.Lock()
	defer m.defineMu.Unlock()
	if tok, ok := m.specImports[key]; ok {
		return tok, nil
	}
	tok, err := m.catalog.DefineMethodSpec(generic, blob)
	if err != nil {
		return 0, m.fail(generic, "", err)
	}
	m.specImports[key] = tok
	return tok, nil
}

// importSignature rewrites the type tokens of a signature from peer into
// references valid in m. Callers hold defineMu.
func (m *Module) importSignature(peer *Module, s *sig.Signature) (*sig.Signature, error) {
	out := *s
	var err error
	if out.Return, err = m.importType(peer, s.Return); err != nil {
		return nil, err
	}
	out.Params = make([]sig.Type, len(s.Params))
	for i, p := range s.Params {
		if out.Params[i], err = m.importType(peer, p); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (m *Module) importType(peer *Module, t sig.Type) (sig.Type, error) {
	switch v := t.(type) {
	case sig.TokenType:
		tok, err := m.importTypeToken(peer, v.Token)
		if err != nil {
			return nil, err
		}
		return sig.TokenType{Elem: v.Elem, Token: tok}, nil
	case sig.Composite:
		inner, err := m.importType(peer, v.Inner)
		if err != nil {
			return nil, err
		}
		return sig.Composite{Elem: v.Elem, Inner: inner}, nil
	case sig.Array:
		inner, err := m.importType(peer, v.Inner)
		if err != nil {
			return nil, err
		}
		v.Inner = inner
		return v, nil
	case sig.GenericInst:
		base, err := m.importType(peer, v.Base)
		if err != nil {
			return nil, err
		}
		g := sig.GenericInst{Base: base.(sig.TokenType), Args: make([]sig.Type, len(v.Args))}
		for i, a := range v.Args {
			if g.Args[i], err = m.importType(peer, a); err != nil {
				return nil, err
			}
		}
		return g, nil
	case sig.Modified:
		inner, err := m.importType(peer, v.Inner)
		if err != nil {
			return nil, err
		}
		if !v.Token.IsNil() {
			if v.Token, err = m.importTypeToken(peer, v.Token); err != nil {
				return nil, err
			}
		}
		v.Inner = inner
		return v, nil
	case sig.FnPtr:
		method, err := m.importSignature(peer, v.Method)
		if err != nil {
			return nil, err
		}
		return sig.FnPtr{Method: method}, nil
	default:
		return t, nil
	}
}

func (m *Module) importTypeToken(peer *Module, tok cil.Token) (cil.Token, error) {
	switch tok.Table() {
	case cil.TableTypeDef:
		props, err := peer.catalog.TypeDefProps(tok)
		if err != nil {
			return 0, peer.fail(tok, "", err)
		}
		if !props.Enclosing.IsNil() {
			outer, err := m.importTypeToken(peer, props.Enclosing)
			if err != nil {
				return 0, err
			}
			return m.typeRef(outer, props.Name)
		}
		scope, err := m.assemblyRef(peer.AssemblyName)
		if err != nil {
			return 0, err
		}
		return m.typeRef(scope, props.Name)
	case cil.TableTypeRef:
		props, err := peer.catalog.TypeRefProps(tok)
		if err != nil {
			return 0, peer.fail(tok, "", err)
		}
		var scope cil.Token
		switch {
		case props.Scope.Is(cil.TableTypeRef):
			scope, err = m.importTypeToken(peer, props.Scope)
		case props.Scope.Is(cil.TableAssemblyRef):
			var name string
			name, err = peer.assemblyRefName(props.Scope)
			if err == nil {
				scope, err = m.assemblyRef(name)
			}
		default:
			scope, err = m.assemblyRef(peer.AssemblyName)
		}
		if err != nil {
			return 0, err
		}
		return m.typeRef(scope, props.Name)
	default:
		return 0, m.fail(tok, "", ErrUnexpectedTable)
	}
}

func (m *Module) assemblyRefName(tok cil.Token) (string, error) {
	refs, err := m.catalog.EnumAssemblyRefs()
	if err != nil {
		return "", m.fail(tok, "", err)
	}
	for _, ref := range refs {
		if ref.Token == tok {
			return ref.Name, nil
		}
	}
	return "", m.fail(tok, "", ErrNotFound)
}
