package sig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// TypeLookup resolves a non-primitive type name to a token, reporting whether
// the type is a value type.
type TypeLookup func(name string) (tok cil.Token, isValueType bool, err error)

// SplitTypeList splits "(A,B<C,D>,E[])" into its top-level entries. The
// surrounding parentheses are optional.
func SplitTypeList(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "(")
	text = strings.TrimSuffix(text, ")")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var parts []string
	depth, start := 0, 0
	for i, c := range text {
		switch c {
		case '<', '[':
			depth++
		case '>', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(text[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(text[start:]))
}

// ParseTypeName converts a type name as spelled in aspect rules into a Type.
// Primitive names, "!N", "!!N", "T[]" and "T<A,B>" are understood; every
// other name goes through lookup.
func ParseTypeName(name string, lookup TypeLookup) (Type, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnknownTypeName)
	}
	if strings.HasSuffix(name, "[]") {
		inner, err := ParseTypeName(strings.TrimSuffix(name, "[]"), lookup)
		if err != nil {
			return nil, err
		}
		return Composite{Elem: ElemSZArray, Inner: inner}, nil
	}
	if strings.HasSuffix(name, "&") {
		inner, err := ParseTypeName(strings.TrimSuffix(name, "&"), lookup)
		if err != nil {
			return nil, err
		}
		return Composite{Elem: ElemByRef, Inner: inner}, nil
	}
	if strings.HasPrefix(name, "!!") {
		idx, err := strconv.ParseUint(name[2:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTypeName, name)
		}
		return GenericParam{Elem: ElemMVar, Index: uint32(idx)}, nil
	}
	if strings.HasPrefix(name, "!") {
		idx, err := strconv.ParseUint(name[1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTypeName, name)
		}
		return GenericParam{Elem: ElemVar, Index: uint32(idx)}, nil
	}
	if elem, ok := PrimitiveByName(name); ok {
		return Simple{Elem: elem}, nil
	}
	if open := strings.IndexByte(name, '<'); open > 0 && strings.HasSuffix(name, ">") {
		argNames := SplitTypeList(name[open+1 : len(name)-1])
		baseName := fmt.Sprintf("%s`%d", name[:open], len(argNames))
		base, err := tokenType(baseName, lookup)
		if err != nil {
			return nil, err
		}
		g := GenericInst{Base: base}
		for _, an := range argNames {
			arg, err := ParseTypeName(an, lookup)
			if err != nil {
				return nil, err
			}
			g.Args = append(g.Args, arg)
		}
		return g, nil
	}
	return tokenType(name, lookup)
}

func tokenType(name string, lookup TypeLookup) (TokenType, error) {
	if lookup == nil {
		return TokenType{}, fmt.Errorf("%w: %s", ErrUnknownTypeName, name)
	}
	tok, isValueType, err := lookup(name)
	if err != nil {
		return TokenType{}, fmt.Errorf("%w: %s: %w", ErrUnknownTypeName, name, err)
	}
	elem := ElemClass
	if isValueType {
		elem = ElemValueType
	}
	return TokenType{Elem: elem, Token: tok}, nil
}

// ParseTypeList converts a textual parameter list into types.
func ParseTypeList(text string, lookup TypeLookup) ([]Type, error) {
	names := SplitTypeList(text)
	types := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := ParseTypeName(n, lookup)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
