package host

import (
	"fmt"
	"sort"
	"sync"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// MemoryHost serves modules from an Image. Definitions and body updates are
// written back into the image, so the image can be saved after a run.
type MemoryHost struct {
	mu      sync.Mutex
	img     *Image
	modules map[metadata.ModuleID]*MemoryModule
	order   []metadata.ModuleID
	rejit   map[metadata.ModuleID][]cil.Token
}

// NewMemoryHost indexes every module of img.
func NewMemoryHost(img *Image) (*MemoryHost, error) {
	h := &MemoryHost{
		img:     img,
		modules: make(map[metadata.ModuleID]*MemoryModule, len(img.Modules)),
		rejit:   make(map[metadata.ModuleID][]cil.Token),
	}
	for _, mi := range img.Modules {
		if _, dup := h.modules[mi.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate module id %d", ErrInvalidImage, mi.ID)
		}
		mod, err := newMemoryModule(mi)
		if err != nil {
			return nil, err
		}
		h.modules[mi.ID] = mod
		h.order = append(h.order, mi.ID)
	}
	return h, nil
}

// Modules returns the identity of every module in image order.
func (h *MemoryHost) Modules() []metadata.ModuleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]metadata.ModuleInfo, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.modules[id].img.Info())
	}
	return out
}

// Module returns the in-memory module with the given id.
func (h *MemoryHost) Module(id metadata.ModuleID) (*MemoryModule, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mod, ok := h.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	return mod, nil
}

// Catalog implements Host.
func (h *MemoryHost) Catalog(id metadata.ModuleID) (metadata.Catalog, error) {
	return h.Module(id)
}

// Bodies implements Host.
func (h *MemoryHost) Bodies(id metadata.ModuleID) (metadata.Bodies, error) {
	return h.Module(id)
}

// RequestReJIT records a recompilation request.
func (h *MemoryHost) RequestReJIT(id metadata.ModuleID, methods []cil.Token) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.modules[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	h.rejit[id] = append(h.rejit[id], methods...)
	return nil
}

// TakeReJITRequests returns and clears the pending recompilation requests.
func (h *MemoryHost) TakeReJITRequests() map[metadata.ModuleID][]cil.Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.rejit
	h.rejit = make(map[metadata.ModuleID][]cil.Token)
	return out
}

// Image returns the backing image, including every definition and body
// update made so far. The image must not be modified while the host is in
// use.
func (h *MemoryHost) Image() *Image {
	return h.img
}

// MemoryModule implements metadata.Catalog and metadata.Bodies over one
// module image.
type MemoryModule struct {
	mu  sync.Mutex
	img *ModuleImage

	assemblyRefs map[cil.Token]int
	typeRefs     map[cil.Token]int
	typeDefs     map[cil.Token]int
	typeSpecs    map[cil.Token]int
	methods      map[cil.Token]int
	fields       map[cil.Token]int
	properties   map[cil.Token]int
	memberRefs   map[cil.Token]int
	methodSpecs  map[cil.Token]int
	signatures   map[cil.Token]int
	userStrings  map[cil.Token]int
}

func newMemoryModule(img *ModuleImage) (*MemoryModule, error) {
	m := &MemoryModule{img: img}
	var err error
	index := func(table cil.Table, toks []cil.Token) map[cil.Token]int {
		out := make(map[cil.Token]int, len(toks))
		for i, tok := range toks {
			if err != nil {
				break
			}
			switch {
			case !tok.Is(table) || tok.IsNil():
				err = &RowError{Module: img.Name, Token: tok, Reason: "expected a " + table.String() + " token"}
			case out[tok] != 0:
				err = &RowError{Module: img.Name, Token: tok, Reason: "duplicate token"}
			}
			out[tok] = i + 1
		}
		return out
	}
	m.assemblyRefs = index(cil.TableAssemblyRef, tokens(img.AssemblyRefs, func(r AssemblyRefRow) cil.Token { return r.Token }))
	m.typeRefs = index(cil.TableTypeRef, tokens(img.TypeRefs, func(r TypeRefRow) cil.Token { return r.Token }))
	m.typeDefs = index(cil.TableTypeDef, tokens(img.TypeDefs, func(r TypeDefRow) cil.Token { return r.Token }))
	m.typeSpecs = index(cil.TableTypeSpec, tokens(img.TypeSpecs, func(r BlobRow) cil.Token { return r.Token }))
	m.methods = index(cil.TableMethodDef, tokens(img.Methods, func(r MethodRow) cil.Token { return r.Token }))
	m.fields = index(cil.TableField, tokens(img.Fields, func(r FieldRow) cil.Token { return r.Token }))
	m.properties = index(cil.TableProperty, tokens(img.Properties, func(r PropertyRow) cil.Token { return r.Token }))
	m.memberRefs = index(cil.TableMemberRef, tokens(img.MemberRefs, func(r MemberRefRow) cil.Token { return r.Token }))
	m.methodSpecs = index(cil.TableMethodSpec, tokens(img.MethodSpecs, func(r MethodSpecRow) cil.Token { return r.Token }))
	m.signatures = index(cil.TableSignature, tokens(img.Signatures, func(r BlobRow) cil.Token { return r.Token }))
	m.userStrings = index(cil.TableString, tokens(img.UserStrings, func(r UserStringRow) cil.Token { return r.Token }))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func tokens[R any](rows []R, key func(R) cil.Token) []cil.Token {
	out := make([]cil.Token, len(rows))
	for i, r := range rows {
		out[i] = key(r)
	}
	return out
}

// row returns the slice position of tok, or -1.
func row(index map[cil.Token]int, tok cil.Token) int {
	return index[tok] - 1
}

// nextToken allocates the token following the highest row of a table.
func nextToken(table cil.Table, index map[cil.Token]int) cil.Token {
	var rid uint32
	for tok := range index {
		if tok.RID() > rid {
			rid = tok.RID()
		}
	}
	return cil.NewToken(table, rid+1)
}

// Info returns the identity of the module.
func (m *MemoryModule) Info() metadata.ModuleInfo {
	return m.img.Info()
}

// FindTypeDef implements metadata.Catalog.
func (m *MemoryModule) FindTypeDef(name string, enclosing cil.Token) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, td := range m.img.TypeDefs {
		if td.Name == name && td.Enclosing == enclosing {
			return td.Token, nil
		}
	}
	return 0, fmt.Errorf("%s: type %s: %w", m.img.Name, name, metadata.ErrNotFound)
}

// TypeDefProps implements metadata.Catalog.
func (m *MemoryModule) TypeDefProps(tok cil.Token) (metadata.TypeDefProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.typeDefs, tok)
	if i < 0 {
		return metadata.TypeDefProps{}, notFound(m.img.Name, tok)
	}
	td := m.img.TypeDefs[i]
	return metadata.TypeDefProps{Name: td.Name, Extends: td.Extends, Enclosing: td.Enclosing, IsValueType: td.ValueType}, nil
}

// TypeRefProps implements metadata.Catalog.
func (m *MemoryModule) TypeRefProps(tok cil.Token) (metadata.TypeRefProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.typeRefs, tok)
	if i < 0 {
		return metadata.TypeRefProps{}, notFound(m.img.Name, tok)
	}
	tr := m.img.TypeRefs[i]
	return metadata.TypeRefProps{Name: tr.Name, Scope: tr.Scope}, nil
}

// TypeSpecBlob implements metadata.Catalog.
func (m *MemoryModule) TypeSpecBlob(tok cil.Token) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.typeSpecs, tok)
	if i < 0 {
		return nil, notFound(m.img.Name, tok)
	}
	return m.img.TypeSpecs[i].Blob, nil
}

// MethodProps implements metadata.Catalog.
func (m *MemoryModule) MethodProps(tok cil.Token) (metadata.MethodProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.methods, tok)
	if i < 0 {
		return metadata.MethodProps{}, notFound(m.img.Name, tok)
	}
	md := m.img.Methods[i]
	return metadata.MethodProps{Name: md.Name, Owner: md.Owner, Signature: md.Signature}, nil
}

// MemberRefProps implements metadata.Catalog.
func (m *MemoryModule) MemberRefProps(tok cil.Token) (metadata.MemberRefProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.memberRefs, tok)
	if i < 0 {
		return metadata.MemberRefProps{}, notFound(m.img.Name, tok)
	}
	mr := m.img.MemberRefs[i]
	return metadata.MemberRefProps{Name: mr.Name, Parent: mr.Parent, Signature: mr.Signature}, nil
}

// FieldProps implements metadata.Catalog.
func (m *MemoryModule) FieldProps(tok cil.Token) (metadata.FieldProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.fields, tok)
	if i < 0 {
		return metadata.FieldProps{}, notFound(m.img.Name, tok)
	}
	f := m.img.Fields[i]
	return metadata.FieldProps{Name: f.Name, Owner: f.Owner, Signature: f.Signature}, nil
}

// PropertyProps implements metadata.Catalog.
func (m *MemoryModule) PropertyProps(tok cil.Token) (metadata.PropertyProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.properties, tok)
	if i < 0 {
		return metadata.PropertyProps{}, notFound(m.img.Name, tok)
	}
	p := m.img.Properties[i]
	return metadata.PropertyProps{Name: p.Name, Owner: p.Owner, Signature: p.Signature, Getter: p.Getter, Setter: p.Setter}, nil
}

// MethodSpecProps implements metadata.Catalog.
func (m *MemoryModule) MethodSpecProps(tok cil.Token) (metadata.MethodSpecProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.methodSpecs, tok)
	if i < 0 {
		return metadata.MethodSpecProps{}, notFound(m.img.Name, tok)
	}
	ms := m.img.MethodSpecs[i]
	return metadata.MethodSpecProps{Parent: ms.Parent, Instantiation: ms.Instantiation}, nil
}

// StandAloneSig implements metadata.Catalog.
func (m *MemoryModule) StandAloneSig(tok cil.Token) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.signatures, tok)
	if i < 0 {
		return nil, notFound(m.img.Name, tok)
	}
	return m.img.Signatures[i].Blob, nil
}

// UserString implements metadata.Catalog.
func (m *MemoryModule) UserString(tok cil.Token) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.userStrings, tok)
	if i < 0 {
		return "", notFound(m.img.Name, tok)
	}
	return m.img.UserStrings[i].Value, nil
}

// EnumMethods implements metadata.Catalog. Methods are returned in token
// order.
func (m *MemoryModule) EnumMethods(typeDef cil.Token) ([]cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cil.Token
	for _, md := range m.img.Methods {
		if md.Owner == typeDef {
			out = append(out, md.Token)
		}
	}
	sortTokens(out)
	return out, nil
}

// EnumProperties implements metadata.Catalog.
func (m *MemoryModule) EnumProperties(typeDef cil.Token) ([]cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cil.Token
	for _, p := range m.img.Properties {
		if p.Owner == typeDef {
			out = append(out, p.Token)
		}
	}
	sortTokens(out)
	return out, nil
}

// EnumTypeRefs implements metadata.Catalog.
func (m *MemoryModule) EnumTypeRefs() ([]cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := tokens(m.img.TypeRefs, func(r TypeRefRow) cil.Token { return r.Token })
	sortTokens(out)
	return out, nil
}

// EnumMemberRefs implements metadata.Catalog.
func (m *MemoryModule) EnumMemberRefs(parent cil.Token) ([]cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cil.Token
	for _, mr := range m.img.MemberRefs {
		if mr.Parent == parent {
			out = append(out, mr.Token)
		}
	}
	sortTokens(out)
	return out, nil
}

// EnumAssemblyRefs implements metadata.Catalog.
func (m *MemoryModule) EnumAssemblyRefs() ([]metadata.AssemblyRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metadata.AssemblyRef, 0, len(m.img.AssemblyRefs))
	for _, ar := range m.img.AssemblyRefs {
		out = append(out, metadata.AssemblyRef{Token: ar.Token, Name: ar.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// CustomAttributes implements metadata.Catalog.
func (m *MemoryModule) CustomAttributes(tok cil.Token) ([]cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cil.Token
	for _, a := range m.img.Attributes {
		if a.Parent == tok {
			out = append(out, a.Ctor)
		}
	}
	return out, nil
}

// DefineAssemblyRef implements metadata.Catalog.
func (m *MemoryModule) DefineAssemblyRef(name string) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := nextToken(cil.TableAssemblyRef, m.assemblyRefs)
	m.img.AssemblyRefs = append(m.img.AssemblyRefs, AssemblyRefRow{Token: tok, Name: name})
	m.assemblyRefs[tok] = len(m.img.AssemblyRefs)
	return tok, nil
}

// DefineTypeRef implements metadata.Catalog.
func (m *MemoryModule) DefineTypeRef(scope cil.Token, name string) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := nextToken(cil.TableTypeRef, m.typeRefs)
	m.img.TypeRefs = append(m.img.TypeRefs, TypeRefRow{Token: tok, Name: name, Scope: scope})
	m.typeRefs[tok] = len(m.img.TypeRefs)
	return tok, nil
}

// DefineMemberRef implements metadata.Catalog.
func (m *MemoryModule) DefineMemberRef(parent cil.Token, name string, signature []byte) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := nextToken(cil.TableMemberRef, m.memberRefs)
	m.img.MemberRefs = append(m.img.MemberRefs, MemberRefRow{Token: tok, Name: name, Parent: parent, Signature: signature})
	m.memberRefs[tok] = len(m.img.MemberRefs)
	return tok, nil
}

// DefineMethodSpec implements metadata.Catalog.
func (m *MemoryModule) DefineMethodSpec(parent cil.Token, instantiation []byte) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := nextToken(cil.TableMethodSpec, m.methodSpecs)
	m.img.MethodSpecs = append(m.img.MethodSpecs, MethodSpecRow{Token: tok, Parent: parent, Instantiation: instantiation})
	m.methodSpecs[tok] = len(m.img.MethodSpecs)
	return tok, nil
}

// DefineUserString implements metadata.Catalog. Equal literals share a token.
func (m *MemoryModule) DefineUserString(s string) (cil.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, us := range m.img.UserStrings {
		if us.Value == s {
			return us.Token, nil
		}
	}
	tok := nextToken(cil.TableString, m.userStrings)
	m.img.UserStrings = append(m.img.UserStrings, UserStringRow{Token: tok, Value: s})
	m.userStrings[tok] = len(m.img.UserStrings)
	return tok, nil
}

// MethodBody implements metadata.Bodies.
func (m *MemoryModule) MethodBody(method cil.Token) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.methods, method)
	if i < 0 || m.img.Methods[i].Body == nil {
		return nil, notFound(m.img.Name, method)
	}
	return append([]byte(nil), m.img.Methods[i].Body...), nil
}

// SetMethodBody implements metadata.Bodies.
func (m *MemoryModule) SetMethodBody(method cil.Token, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := row(m.methods, method)
	if i < 0 {
		return notFound(m.img.Name, method)
	}
	m.img.Methods[i].Body = append(Blob(nil), body...)
	return nil
}

// Methods returns the tokens of every method with a body, in token order.
func (m *MemoryModule) Methods() []cil.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cil.Token
	for _, md := range m.img.Methods {
		if md.Body != nil {
			out = append(out, md.Token)
		}
	}
	sortTokens(out)
	return out
}

func sortTokens(toks []cil.Token) {
	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
}
