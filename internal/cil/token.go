// Package cil holds the metadata token model and the error roots shared by the
// bytecode packages (sig, il, analysis).
package cil

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrBinaryFormat is the root of every error caused by a malformed signature
// blob or method body. Callers skip the affected method when they see it.
var ErrBinaryFormat = errors.New("binary format error")

// Table identifies the metadata table a token points into.
type Table uint8

// Metadata tables referenced by the engine
const (
	TableModule       Table = 0x00
	TableTypeRef      Table = 0x01
	TableTypeDef      Table = 0x02
	TableField        Table = 0x04
	TableMethodDef    Table = 0x06
	TableParam        Table = 0x08
	TableMemberRef    Table = 0x0a
	TableCustomAttr   Table = 0x0c
	TableSignature    Table = 0x11
	TableEvent        Table = 0x14
	TableProperty     Table = 0x17
	TableModuleRef    Table = 0x1a
	TableTypeSpec     Table = 0x1b
	TableAssembly     Table = 0x20
	TableAssemblyRef  Table = 0x23
	TableGenericParam Table = 0x2a
	TableMethodSpec   Table = 0x2b
	TableString       Table = 0x70
)

var tableNames = map[Table]string{
	TableModule:       "Module",
	TableTypeRef:      "TypeRef",
	TableTypeDef:      "TypeDef",
	TableField:        "Field",
	TableMethodDef:    "MethodDef",
	TableParam:        "Param",
	TableMemberRef:    "MemberRef",
	TableCustomAttr:   "CustomAttribute",
	TableSignature:    "StandAloneSig",
	TableEvent:        "Event",
	TableProperty:     "Property",
	TableModuleRef:    "ModuleRef",
	TableTypeSpec:     "TypeSpec",
	TableAssembly:     "Assembly",
	TableAssemblyRef:  "AssemblyRef",
	TableGenericParam: "GenericParam",
	TableMethodSpec:   "MethodSpec",
	TableString:       "UserString",
}

// String returns the table name
func (t Table) String() string {
	if name, ok := tableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// Token is a metadata token: the table in the high byte, the row id below it.
type Token uint32

// NewToken builds a token from a table and a row id.
func NewToken(table Table, rid uint32) Token {
	return Token(uint32(table)<<24 | rid&0x00ffffff)
}

// Table returns the table the token points into.
func (t Token) Table() Table {
	return Table(uint32(t) >> 24)
}

// RID returns the row id.
func (t Token) RID() uint32 {
	return uint32(t) & 0x00ffffff
}

// IsNil reports whether the token has no row.
func (t Token) IsNil() bool {
	return t.RID() == 0
}

// Is reports whether the token points into the given table.
func (t Token) Is(table Table) bool {
	return t.Table() == table
}

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// MarshalText renders the token in hex.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts decimal or 0x prefixed hex.
func (t *Token) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid token %q: %w", text, err)
	}
	*t = Token(v)
	return nil
}
