// Package metadatatesting provides testify mocks for the host interfaces
// consumed by the metadata package.
package metadatatesting

import (
	"github.com/stretchr/testify/mock"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// MockCatalog is a mock implementation of metadata.Catalog
type MockCatalog struct {
	mock.Mock
}

// FindTypeDef mocks the FindTypeDef method
func (m *MockCatalog) FindTypeDef(name string, enclosing cil.Token) (cil.Token, error) {
	args := m.Called(name, enclosing)
	return args.Get(0).(cil.Token), args.Error(1)
}

// TypeDefProps mocks the TypeDefProps method
func (m *MockCatalog) TypeDefProps(tok cil.Token) (metadata.TypeDefProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.TypeDefProps), args.Error(1)
}

// TypeRefProps mocks the TypeRefProps method
func (m *MockCatalog) TypeRefProps(tok cil.Token) (metadata.TypeRefProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.TypeRefProps), args.Error(1)
}

// TypeSpecBlob mocks the TypeSpecBlob method
func (m *MockCatalog) TypeSpecBlob(tok cil.Token) ([]byte, error) {
	args := m.Called(tok)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

// MethodProps mocks the MethodProps method
func (m *MockCatalog) MethodProps(tok cil.Token) (metadata.MethodProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.MethodProps), args.Error(1)
}

// MemberRefProps mocks the MemberRefProps method
func (m *MockCatalog) MemberRefProps(tok cil.Token) (metadata.MemberRefProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.MemberRefProps), args.Error(1)
}

// FieldProps mocks the FieldProps method
func (m *MockCatalog) FieldProps(tok cil.Token) (metadata.FieldProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.FieldProps), args.Error(1)
}

// PropertyProps mocks the PropertyProps method
func (m *MockCatalog) PropertyProps(tok cil.Token) (metadata.PropertyProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.PropertyProps), args.Error(1)
}

// MethodSpecProps mocks the MethodSpecProps method
func (m *MockCatalog) MethodSpecProps(tok cil.Token) (metadata.MethodSpecProps, error) {
	args := m.Called(tok)
	return args.Get(0).(metadata.MethodSpecProps), args.Error(1)
}

// StandAloneSig mocks the StandAloneSig method
func (m *MockCatalog) StandAloneSig(tok cil.Token) ([]byte, error) {
	args := m.Called(tok)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

// UserString mocks the UserString method
func (m *MockCatalog) UserString(tok cil.Token) (string, error) {
	args := m.Called(tok)
	return args.String(0), args.Error(1)
}

// EnumMethods mocks the EnumMethods method
func (m *MockCatalog) EnumMethods(typeDef cil.Token) ([]cil.Token, error) {
	args := m.Called(typeDef)
	v, _ := args.Get(0).([]cil.Token)
	return v, args.Error(1)
}

// EnumProperties mocks the EnumProperties method
func (m *MockCatalog) EnumProperties(typeDef cil.Token) ([]cil.Token, error) {
	args := m.Called(typeDef)
	v, _ := args.Get(0).([]cil.Token)
	return v, args.Error(1)
}

// EnumTypeRefs mocks the EnumTypeRefs method
func (m *MockCatalog) EnumTypeRefs() ([]cil.Token, error) {
	args := m.Called()
	v, _ := args.Get(0).([]cil.Token)
	return v, args.Error(1)
}

// EnumMemberRefs mocks the EnumMemberRefs method
func (m *MockCatalog) EnumMemberRefs(parent cil.Token) ([]cil.Token, error) {
	args := m.Called(parent)
	v, _ := args.Get(0).([]cil.Token)
	return v, args.Error(1)
}

// EnumAssemblyRefs mocks the EnumAssemblyRefs method
func (m *MockCatalog) EnumAssemblyRefs() ([]metadata.AssemblyRef, error) {
	args := m.Called()
	v, _ := args.Get(0).([]metadata.AssemblyRef)
	return v, args.Error(1)
}

// CustomAttributes mocks the CustomAttributes method
func (m *MockCatalog) CustomAttributes(tok cil.Token) ([]cil.Token, error) {
	args := m.Called(tok)
	v, _ := args.Get(0).([]cil.Token)
	return v, args.Error(1)
}

// DefineAssemblyRef mocks the DefineAssemblyRef method
func (m *MockCatalog) DefineAssemblyRef(name string) (cil.Token, error) {
	args := m.Called(name)
	return args.Get(0).(cil.Token), args.Error(1)
}

// DefineTypeRef mocks the DefineTypeRef method
func (m *MockCatalog) DefineTypeRef(scope cil.Token, name string) (cil.Token, error) {
	args := m.Called(scope, name)
	return args.Get(0).(cil.Token), args.Error(1)
}

// DefineMemberRef mocks the DefineMemberRef method
func (m *MockCatalog) DefineMemberRef(parent cil.Token, name string, signature []byte) (cil.Token, error) {
	args := m.Called(parent, name, signature)
	return args.Get(0).(cil.Token), args.Error(1)
}

// DefineMethodSpec mocks the DefineMethodSpec method
func (m *MockCatalog) DefineMethodSpec(parent cil.Token, instantiation []byte) (cil.Token, error) {
	args := m.Called(parent, instantiation)
	return args.Get(0).(cil.Token), args.Error(1)
}

// DefineUserString mocks the DefineUserString method
func (m *MockCatalog) DefineUserString(s string) (cil.Token, error) {
	args := m.Called(s)
	return args.Get(0).(cil.Token), args.Error(1)
}

// MockBodies is a mock implementation of metadata.Bodies
type MockBodies struct {
	mock.Mock
}

// MethodBody mocks the MethodBody method
func (m *MockBodies) MethodBody(method cil.Token) ([]byte, error) {
	args := m.Called(method)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

// SetMethodBody mocks the SetMethodBody method
func (m *MockBodies) SetMethodBody(method cil.Token, body []byte) error {
	args := m.Called(method, body)
	return args.Error(0)
}

// MockFunctionControl is a mock implementation of metadata.FunctionControl
type MockFunctionControl struct {
	mock.Mock
}

// SetILFunctionBody mocks the SetILFunctionBody method
func (m *MockFunctionControl) SetILFunctionBody(body []byte) error {
	args := m.Called(body)
	return args.Error(0)
}
