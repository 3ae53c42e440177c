package sig

import (
	"errors"
	"fmt"
	"testing"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[cil.Token]string

func (m mapResolver) TypeName(tok cil.Token) (string, error) {
	if name, ok := m[tok]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no type %s", tok)
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{
			name: "static (int32,string) -> bool",
			blob: []byte{0x00, 0x02, 0x02, 0x08, 0x0e},
		},
		{
			name: "instance void()",
			blob: []byte{0x20, 0x00, 0x01},
		},
		{
			name: "generic method !!0 M<T>(!!0, object[])",
			blob: []byte{0x30, 0x01, 0x02, 0x1e, 0x00, 0x1e, 0x00, 0x1d, 0x1c},
		},
		{
			name: "class token and byref",
			blob: []byte{0x00, 0x02, 0x01, 0x12, 0x0d, 0x10, 0x08},
		},
		{
			name: "generic instance List<string>",
			blob: []byte{0x00, 0x01, 0x01, 0x15, 0x12, 0x0d, 0x01, 0x0e},
		},
		{
			name: "multi-dimensional array with bounds",
			blob: []byte{0x00, 0x01, 0x01, 0x14, 0x08, 0x02, 0x02, 0x03, 0x04, 0x02, 0x00, 0x03},
		},
		{
			name: "custom modifier",
			blob: []byte{0x00, 0x01, 0x01, 0x1f, 0x0d, 0x08},
		},
		{
			name: "vararg sentinel",
			blob: []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0e},
		},
		{
			name: "function pointer",
			blob: []byte{0x00, 0x01, 0x01, 0x1b, 0x00, 0x01, 0x08, 0x0e},
		},
		{
			name: "field",
			blob: []byte{0x06, 0x0e},
		},
		{
			name: "locals with pinned",
			blob: []byte{0x07, 0x02, 0x08, 0x45, 0x10, 0x05},
		},
		{
			name: "method spec",
			blob: []byte{0x0a, 0x02, 0x0e, 0x08},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.blob)
			require.NoError(t, err)

			out, err := Encode(s)
			require.NoError(t, err)
			assert.Equal(t, tt.blob, out)
		})
	}
}

func TestParse_MethodShape(t *testing.T) {
	s, err := Parse([]byte{0x00, 0x02, 0x02, 0x08, 0x0e})
	require.NoError(t, err)

	assert.Equal(t, KindMethod, s.Kind)
	assert.False(t, s.HasThis())
	assert.Equal(t, 2, s.EffectiveParamCount())
	assert.Equal(t, Simple{Elem: ElemBoolean}, s.Return)
	assert.Equal(t, []Type{Simple{Elem: ElemI4}, Simple{Elem: ElemString}}, s.Params)
	assert.False(t, s.ReturnsVoid())

	inst, err := Parse([]byte{0x20, 0x01, 0x01, 0x0e})
	require.NoError(t, err)
	assert.True(t, inst.HasThis())
	assert.Equal(t, 2, inst.EffectiveParamCount())
	assert.Nil(t, inst.EffectiveParam(0))
	assert.Equal(t, Simple{Elem: ElemString}, inst.EffectiveParam(1))
	assert.True(t, inst.ReturnsVoid())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		blob    []byte
		wantErr error
	}{
		{name: "empty", blob: nil, wantErr: ErrTruncated},
		{name: "missing params", blob: []byte{0x00, 0x02, 0x01, 0x08}, wantErr: ErrTruncated},
		{name: "bad element", blob: []byte{0x00, 0x01, 0x01, 0x3f}, wantErr: ErrUnexpectedElement},
		{name: "generic inst over primitive", blob: []byte{0x00, 0x01, 0x01, 0x15, 0x08, 0x01, 0x0e}, wantErr: ErrUnexpectedElement},
		{name: "bad compressed prefix", blob: []byte{0x00, 0xff}, wantErr: ErrInvalidCompressedInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.blob)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.Is(err, cil.ErrBinaryFormat))
		})
	}
}

func TestParse_DepthLimit(t *testing.T) {
	blob := []byte{0x06}
	for i := 0; i < maxDepth+2; i++ {
		blob = append(blob, byte(ElemSZArray))
	}
	blob = append(blob, byte(ElemI4))

	_, err := Parse(blob)
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestParamsRepresentation(t *testing.T) {
	resolver := mapResolver{
		cil.NewToken(cil.TableTypeRef, 3): "System.Collections.Generic.List`1",
		cil.NewToken(cil.TableTypeRef, 4): "System.Text.StringBuilder",
	}

	tests := []struct {
		name string
		blob []byte
		want string
	}{
		{
			name: "primitives",
			blob: []byte{0x00, 0x02, 0x0e, 0x0e, 0x0e},
			want: "(System.String,System.String)",
		},
		{
			name: "array and class",
			blob: []byte{0x00, 0x02, 0x01, 0x1d, 0x1c, 0x12, 0x11},
			want: "(System.Object[],System.Text.StringBuilder)",
		},
		{
			name: "generic parameter and instance",
			blob: []byte{0x10, 0x01, 0x02, 0x01, 0x1e, 0x00, 0x15, 0x12, 0x0d, 0x01, 0x0e},
			want: "(!!0,System.Collections.Generic.List`1<System.String>)",
		},
		{
			name: "no params",
			blob: []byte{0x00, 0x00, 0x01},
			want: "()",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.ParamsRepresentation(resolver))
		})
	}
}

func TestBuilder_NewMethod(t *testing.T) {
	s := NewMethod(CallConvDefault, Simple{Elem: ElemBoolean}, Simple{Elem: ElemI4}, Simple{Elem: ElemString})
	out, err := Encode(s)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02, 0x02, 0x08, 0x0e}, out)

	spec, err := Encode(NewMethodSpec(Simple{Elem: ElemString}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x01, 0x0e}, spec)
}

func TestCompressedIntegers(t *testing.T) {
	unsigned := []struct {
		value uint32
		bytes []byte
	}{
		{0x03, []byte{0x03}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x80}},
		{0x2e57, []byte{0xae, 0x57}},
		{0x3fff, []byte{0xbf, 0xff}},
		{0x4000, []byte{0xc0, 0x00, 0x40, 0x00}},
		{0x1fffffff, []byte{0xdf, 0xff, 0xff, 0xff}},
	}
	for _, tt := range unsigned {
		got, err := AppendUint(nil, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.bytes, got, "encode 0x%x", tt.value)

		v, n, err := ReadUint(tt.bytes)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, len(tt.bytes), n)
	}

	_, err := AppendUint(nil, 0x20000000)
	assert.ErrorIs(t, err, ErrValueTooLarge)

	signed := []struct {
		value int32
		bytes []byte
	}{
		{3, []byte{0x06}},
		{-3, []byte{0x7b}},
		{64, []byte{0x80, 0x80}},
		{-64, []byte{0x01}},
		{8192, []byte{0xc0, 0x00, 0x40, 0x00}},
		{-8192, []byte{0x80, 0x01}},
		{268435455, []byte{0xdf, 0xff, 0xff, 0xfe}},
		{-268435456, []byte{0xc0, 0x00, 0x00, 0x01}},
	}
	for _, tt := range signed {
		got, err := AppendInt(nil, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.bytes, got, "encode %d", tt.value)

		v, n, err := ReadInt(tt.bytes)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, len(tt.bytes), n)
	}
}

func TestCodedToken(t *testing.T) {
	tests := []cil.Token{
		cil.NewToken(cil.TableTypeDef, 2),
		cil.NewToken(cil.TableTypeRef, 0x12),
		cil.NewToken(cil.TableTypeSpec, 0x400),
	}
	for _, tok := range tests {
		b, err := AppendToken(nil, tok)
		require.NoError(t, err)
		got, _, err := ReadToken(b)
		require.NoError(t, err)
		assert.Equal(t, tok, got)
	}

	_, err := AppendToken(nil, cil.NewToken(cil.TableMethodDef, 1))
	assert.Error(t, err)
}
