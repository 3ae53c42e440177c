// Package hosttesting provides testify mocks for the host package.
package hosttesting

import (
	"github.com/stretchr/testify/mock"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// MockHost is a mock implementation of host.Host
type MockHost struct {
	mock.Mock
}

// Catalog mocks the Catalog method
func (m *MockHost) Catalog(id metadata.ModuleID) (metadata.Catalog, error) {
	args := m.Called(id)
	c, _ := args.Get(0).(metadata.Catalog)
	return c, args.Error(1)
}

// Bodies mocks the Bodies method
func (m *MockHost) Bodies(id metadata.ModuleID) (metadata.Bodies, error) {
	args := m.Called(id)
	b, _ := args.Get(0).(metadata.Bodies)
	return b, args.Error(1)
}

// RequestReJIT mocks the RequestReJIT method
func (m *MockHost) RequestReJIT(id metadata.ModuleID, methods []cil.Token) error {
	args := m.Called(id, methods)
	return args.Error(0)
}
