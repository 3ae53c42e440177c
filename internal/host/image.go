package host

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
	"github.com/isseis/go-iast-weaver/internal/safefileio"
)

// Blob is a byte string written as space separated hex pairs.
type Blob []byte

// MarshalText renders the blob as "2a 00 01".
func (b Blob) MarshalText() ([]byte, error) {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = hex.EncodeToString([]byte{c})
	}
	return []byte(strings.Join(parts, " ")), nil
}

// UnmarshalText accepts hex pairs with optional whitespace between them.
func (b *Blob) UnmarshalText(text []byte) error {
	clean := strings.Join(strings.Fields(string(text)), "")
	out, err := hex.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlob, err)
	}
	*b = out
	return nil
}

// Image is the serialized form of the modules an in-memory host serves.
type Image struct {
	AppDomains []AppDomainRow `yaml:"app_domains,omitempty"`
	Modules    []*ModuleImage `yaml:"modules"`
}

// AppDomainRow names an application domain.
type AppDomainRow struct {
	ID   metadata.AppDomainID `yaml:"id"`
	Name string               `yaml:"name"`
}

// DomainName returns the name of domain id, or "DefaultDomain" when the
// image does not list it.
func (img *Image) DomainName(id metadata.AppDomainID) string {
	for _, d := range img.AppDomains {
		if d.ID == id {
			return d.Name
		}
	}
	return "DefaultDomain"
}

// ModuleImage holds the metadata tables and method bodies of one module.
// Every row carries its own token.
type ModuleImage struct {
	ID        metadata.ModuleID    `yaml:"id"`
	Name      string               `yaml:"name"`
	Assembly  string               `yaml:"assembly"`
	AppDomain metadata.AppDomainID `yaml:"app_domain"`

	AssemblyRefs []AssemblyRefRow `yaml:"assembly_refs,omitempty"`
	TypeRefs     []TypeRefRow     `yaml:"type_refs,omitempty"`
	TypeDefs     []TypeDefRow     `yaml:"type_defs,omitempty"`
	TypeSpecs    []BlobRow        `yaml:"type_specs,omitempty"`
	Methods      []MethodRow      `yaml:"methods,omitempty"`
	Fields       []FieldRow       `yaml:"fields,omitempty"`
	Properties   []PropertyRow    `yaml:"properties,omitempty"`
	MemberRefs   []MemberRefRow   `yaml:"member_refs,omitempty"`
	MethodSpecs  []MethodSpecRow  `yaml:"method_specs,omitempty"`
	Signatures   []BlobRow        `yaml:"signatures,omitempty"`
	UserStrings  []UserStringRow  `yaml:"user_strings,omitempty"`
	Attributes   []AttributeRow   `yaml:"attributes,omitempty"`
}

// Info returns the identity of the module.
func (m *ModuleImage) Info() metadata.ModuleInfo {
	return metadata.ModuleInfo{ID: m.ID, Name: m.Name, AssemblyName: m.Assembly, AppDomain: m.AppDomain}
}

// AssemblyRefRow is an assembly reference.
type AssemblyRefRow struct {
	Token cil.Token `yaml:"token"`
	Name  string    `yaml:"name"`
}

// TypeRefRow is a type reference.
type TypeRefRow struct {
	Token cil.Token `yaml:"token"`
	Name  string    `yaml:"name"`
	Scope cil.Token `yaml:"scope"`
}

// TypeDefRow is a type definition.
type TypeDefRow struct {
	Token     cil.Token `yaml:"token"`
	Name      string    `yaml:"name"`
	Extends   cil.Token `yaml:"extends,omitempty"`
	Enclosing cil.Token `yaml:"enclosing,omitempty"`
	ValueType bool      `yaml:"value_type,omitempty"`
}

// BlobRow is a row holding a single blob: a type spec or a stand-alone
// signature.
type BlobRow struct {
	Token cil.Token `yaml:"token"`
	Blob  Blob      `yaml:"blob"`
}

// MethodRow is a method definition and its body.
type MethodRow struct {
	Token     cil.Token `yaml:"token"`
	Name      string    `yaml:"name"`
	Owner     cil.Token `yaml:"owner"`
	Signature Blob      `yaml:"signature"`
	Body      Blob      `yaml:"body,omitempty"`
}

// FieldRow is a field definition.
type FieldRow struct {
	Token     cil.Token `yaml:"token"`
	Name      string    `yaml:"name"`
	Owner     cil.Token `yaml:"owner"`
	Signature Blob      `yaml:"signature"`
}

// PropertyRow is a property definition.
type PropertyRow struct {
	Token     cil.Token `yaml:"token"`
	Name      string    `yaml:"name"`
	Owner     cil.Token `yaml:"owner"`
	Signature Blob      `yaml:"signature"`
	Getter    cil.Token `yaml:"getter,omitempty"`
	Setter    cil.Token `yaml:"setter,omitempty"`
}

// MemberRefRow is a member reference.
type MemberRefRow struct {
	Token     cil.Token `yaml:"token"`
	Name      string    `yaml:"name"`
	Parent    cil.Token `yaml:"parent"`
	Signature Blob      `yaml:"signature"`
}

// MethodSpecRow is a generic method instantiation.
type MethodSpecRow struct {
	Token         cil.Token `yaml:"token"`
	Parent        cil.Token `yaml:"parent"`
	Instantiation Blob      `yaml:"instantiation"`
}

// UserStringRow is a user string literal.
type UserStringRow struct {
	Token cil.Token `yaml:"token"`
	Value string    `yaml:"value"`
}

// AttributeRow attaches a custom attribute, named by its constructor, to a
// parent token.
type AttributeRow struct {
	Parent cil.Token `yaml:"parent"`
	Ctor   cil.Token `yaml:"ctor"`
}

// ReadImage decodes a YAML module image.
func ReadImage(r io.Reader) (*Image, error) {
	var img Image
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return &img, nil
}

// LoadImage reads a YAML module image from a file.
func LoadImage(path string) (*Image, error) {
	content, err := safefileio.SafeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module image: %w", err)
	}
	return ReadImage(bytes.NewReader(content))
}

// WriteImage encodes a module image as YAML.
func WriteImage(w io.Writer, img *Image) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(img); err != nil {
		return fmt.Errorf("failed to encode module image: %w", err)
	}
	return enc.Close()
}
