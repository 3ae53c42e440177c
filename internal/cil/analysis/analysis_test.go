package analysis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	strA       = cil.NewToken(cil.TableString, 1)
	strB       = cil.NewToken(cil.TableString, 2)
	concatRef  = cil.NewToken(cil.TableMemberRef, 1)
	sinkRef    = cil.NewToken(cil.TableMemberRef, 2)
	ctorRef    = cil.NewToken(cil.TableMemberRef, 3)
	appendRef  = cil.NewToken(cil.TableMemberRef, 4)
	unknownRef = cil.NewToken(cil.TableMemberRef, 99)
	ownerType  = cil.NewToken(cil.TableTypeDef, 2)
	uriType    = cil.NewToken(cil.TableTypeRef, 7)
	builderRef = cil.NewToken(cil.TableTypeRef, 8)
	exceptType = cil.NewToken(cil.TableTypeRef, 1)
	localsTok  = cil.NewToken(cil.TableSignature, 1)
)

var (
	str    = sig.Simple{Elem: sig.ElemString}
	void   = sig.Simple{Elem: sig.ElemVoid}
	object = sig.Simple{Elem: sig.ElemObject}
)

type fakeEnv struct {
	method  *sig.Signature
	members map[cil.Token]*sig.Signature
	blobs   map[cil.Token][]byte
}

func newEnv(method *sig.Signature) *fakeEnv {
	return &fakeEnv{
		method: method,
		members: map[cil.Token]*sig.Signature{
			concatRef: sig.NewMethod(sig.CallConvDefault, str, str, str),
			sinkRef:   sig.NewMethod(sig.CallConvDefault, void, str),
			ctorRef:   sig.NewMethod(sig.CallConvHasThis, void, str),
			appendRef: sig.NewMethod(sig.CallConvHasThis, sig.TokenType{Elem: sig.ElemClass, Token: builderRef}, str),
		},
		blobs: map[cil.Token][]byte{},
	}
}

func (e *fakeEnv) MethodSignature() *sig.Signature { return e.method }
func (e *fakeEnv) DeclaringType() cil.Token        { return ownerType }

func (e *fakeEnv) MemberSignature(tok cil.Token) (*sig.Signature, error) {
	if s, ok := e.members[tok]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no member %s", tok)
}

func (e *fakeEnv) SignatureBlob(tok cil.Token) ([]byte, error) {
	if b, ok := e.blobs[tok]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no blob %s", tok)
}

// code assembles single-byte opcodes and 32-bit token operands.
func code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case il.Opcode:
			out = append(out, byte(v))
		case cil.Token:
			out = binary.LittleEndian.AppendUint32(out, uint32(v))
		case int:
			out = append(out, byte(int8(v)))
		}
	}
	return out
}

func decode(t *testing.T, c []byte) *il.Store {
	t.Helper()
	s, err := il.DecodeCode(c)
	require.NoError(t, err)
	return s
}

func handleAt(t *testing.T, s *il.Store, offset int) il.Handle {
	t.Helper()
	h := s.Find(offset)
	require.NotEqual(t, il.Nil, h, "no instruction at IL_%04x", offset)
	return h
}

func TestAnalyze_ConcatParameters(t *testing.T) {
	// ldstr a; ldstr b; call Concat; ret
	s := decode(t, code(il.Ldstr, strA, il.Ldstr, strB, il.Call, concatRef, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, str)))
	require.NoError(t, a.Err())
	assert.True(t, a.IsResolved())

	call := handleAt(t, s, 10)
	assert.Equal(t, []il.Handle{handleAt(t, s, 0)}, a.LocateCallParamInstructions(call, 0))
	assert.Equal(t, []il.Handle{handleAt(t, s, 5)}, a.LocateCallParamInstructions(call, 1))
	assert.Empty(t, a.LocateCallParamInstructions(call, 2))

	n := a.Node(call)
	assert.Equal(t, handleAt(t, s, 15), n.Consumer)
	assert.Equal(t, 0, n.ParamIndex)
}

func TestAnalyze_InstanceCallReceiver(t *testing.T) {
	// ldarg.0; ldstr a; callvirt Append; pop; ret
	s := decode(t, code(il.Ldarg0, il.Ldstr, strA, il.Callvirt, appendRef, il.Pop, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvHasThis, void)))
	require.NoError(t, a.Err())

	call := handleAt(t, s, 6)
	assert.Equal(t, []il.Handle{handleAt(t, s, 0)}, a.LocateCallParamInstructions(call, 0))
	assert.Equal(t, []il.Handle{handleAt(t, s, 1)}, a.LocateCallParamInstructions(call, 1))
	assert.Equal(t, handleAt(t, s, 11), a.Node(call).Consumer)
}

func TestAnalyze_NewobjSkipsConstructedObject(t *testing.T) {
	// ldstr a; newobj .ctor(string); ret
	s := decode(t, code(il.Ldstr, strA, il.Newobj, ctorRef, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, object)))
	require.NoError(t, a.Err())

	ctor := handleAt(t, s, 5)
	assert.Equal(t, []il.Handle{handleAt(t, s, 0)}, a.LocateCallParamInstructions(ctor, 1))
	assert.Empty(t, a.LocateCallParamInstructions(ctor, 0))
	assert.Equal(t, handleAt(t, s, 10), a.Node(ctor).Consumer)
}

func TestAnalyze_Dup(t *testing.T) {
	// ldstr a; dup; call Sink; call Sink; ret
	s := decode(t, code(il.Ldstr, strA, il.Dup, il.Call, sinkRef, il.Call, sinkRef, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, void)))
	require.NoError(t, a.Err())

	ldstr, dup := handleAt(t, s, 0), handleAt(t, s, 5)
	first, second := handleAt(t, s, 6), handleAt(t, s, 11)
	assert.Equal(t, []il.Handle{dup}, a.LocateCallParamInstructions(first, 0))
	assert.Equal(t, []il.Handle{ldstr}, a.LocateCallParamInstructions(second, 0))
}

func TestAnalyze_MergedBranches(t *testing.T) {
	// IL_0000: ldarg.0
	// IL_0001: brtrue.s IL_000a
	// IL_0003: ldstr a
	// IL_0008: br.s IL_000f
	// IL_000a: ldstr b
	// IL_000f: call Sink
	// IL_0014: ret
	s := decode(t, code(
		il.Ldarg0, il.BrtrueS, 7,
		il.Ldstr, strA, il.BrS, 5,
		il.Ldstr, strB,
		il.Call, sinkRef, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, void, sig.Simple{Elem: sig.ElemBoolean})))
	require.NoError(t, a.Err())
	assert.True(t, a.IsResolved())

	call := handleAt(t, s, 0x0f)
	assert.Equal(t, []il.Handle{handleAt(t, s, 3), handleAt(t, s, 0x0a)}, a.LocateCallParamInstructions(call, 0))
}

// tryCatchBody is a fat body with one catch clause:
//
//	IL_0000: nop          try begin
//	IL_0001: leave.s 6    try last
//	IL_0003: pop          handler begin
//	IL_0004: leave.s 6    handler last
//	IL_0006: ret
func tryCatchBody() []byte {
	c := []byte{0x00, 0xde, 0x03, 0x26, 0xde, 0x00, 0x2a}
	body := []byte{0x0b, 0x30, 0x01, 0x00}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(c)))
	body = binary.LittleEndian.AppendUint32(body, 0)
	body = append(body, c...)
	body = append(body, 0x00)
	body = append(body, 0x41, 28, 0, 0)
	for _, v := range []uint32{0, 0, 3, 3, 3, uint32(exceptType)} {
		body = binary.LittleEndian.AppendUint32(body, v)
	}
	return body
}

func TestAnalyze_CatchHandlerStartsWithException(t *testing.T) {
	s, err := il.Decode(tryCatchBody())
	require.NoError(t, err)

	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, void)))
	require.NoError(t, a.Err())
	assert.True(t, a.IsResolved())
	assert.Equal(t, 0, a.Unresolved())
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		method  *sig.Signature
		wantErr error
		offset  int
	}{
		{
			name:    "underflow",
			code:    code(il.Pop, il.Ret),
			method:  sig.NewMethod(sig.CallConvDefault, void),
			wantErr: ErrStackUnderflow,
			offset:  0,
		},
		{
			name:    "missing signature",
			code:    code(il.Ldstr, strA, il.Call, unknownRef, il.Ret),
			method:  sig.NewMethod(sig.CallConvDefault, void),
			wantErr: ErrMissingSignature,
			offset:  5,
		},
		{
			name:    "value left on stack",
			code:    code(il.Ldstr, strA, il.Ret),
			method:  sig.NewMethod(sig.CallConvDefault, void),
			wantErr: ErrStackExcess,
			offset:  0,
		},
		{
			name:    "return without value",
			code:    code(il.Nop, il.Ret),
			method:  sig.NewMethod(sig.CallConvDefault, str),
			wantErr: ErrStackUnderflow,
			offset:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(decode(t, tt.code), newEnv(tt.method))
			require.Error(t, a.Err())
			assert.False(t, a.IsValid())
			assert.ErrorIs(t, a.Err(), tt.wantErr)
			assert.ErrorIs(t, a.Err(), ErrStackAnalysis)

			var se *StackError
			require.True(t, errors.As(a.Err(), &se))
			assert.Equal(t, tt.offset, se.Offset)
		})
	}
}

func TestAnalyze_TrailingRetAfterThrow(t *testing.T) {
	// ldnull; throw; ret
	s := decode(t, code(il.Ldnull, il.Throw, il.Ret))
	a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, str)))
	assert.NoError(t, a.Err())
	assert.Equal(t, 1, a.Unresolved())
	assert.False(t, a.IsResolved())
}

func TestInferTypeToken(t *testing.T) {
	locals := &sig.Signature{
		Kind:          sig.KindLocals,
		CallConv:      sig.CallConvLocalSig,
		Params:        []sig.Type{str, sig.TokenType{Elem: sig.ElemClass, Token: builderRef}},
		SentinelIndex: -1,
	}
	blob, err := sig.Encode(locals)
	require.NoError(t, err)

	// ldarg.0; ldarg.1; ldloc.1; ldstr a; callvirt Append; ...
	s := decode(t, code(il.Ldarg0, il.Ldarg1, il.Ldloc1, il.Ldloc0, il.Callvirt, appendRef, il.Ldstr, strA))
	s.Header.LocalsToken = localsTok
	env := newEnv(sig.NewMethod(sig.CallConvHasThis, void, sig.TokenType{Elem: sig.ElemClass, Token: uriType}))
	env.blobs[localsTok] = blob
	a := Analyze(s, env)

	tests := []struct {
		name   string
		offset int
		want   cil.Token
	}{
		{"receiver", 0, ownerType},
		{"argument", 1, uriType},
		{"class local", 2, builderRef},
		{"primitive local", 3, 0},
		{"call result", 4, builderRef},
		{"string literal", 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.InferTypeToken(handleAt(t, s, tt.offset))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = a.InferTypeToken(il.Handle(1000))
	assert.ErrorIs(t, err, il.ErrInvalidHandle)
}

func TestControlFlowGraph(t *testing.T) {
	s := decode(t, code(
		il.Ldarg0, il.BrtrueS, 7,
		il.Ldstr, strA, il.BrS, 5,
		il.Ldstr, strB,
		il.Call, sinkRef, il.Ret))
	cfg, err := BuildControlFlowGraph(s)
	require.NoError(t, err)
	require.Len(t, cfg.Blocks, 4)

	succ := func(id int) []int {
		out, err := cfg.Successors(id)
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, []int{1, 2}, succ(0))
	assert.Equal(t, []int{3}, succ(1))
	assert.Equal(t, []int{3}, succ(2))
	assert.Empty(t, succ(3))

	unreachable, err := cfg.Unreachable()
	require.NoError(t, err)
	assert.Empty(t, unreachable)

	b, ok := cfg.BlockOf(handleAt(t, s, 0x14))
	require.True(t, ok)
	assert.Equal(t, 3, b.ID)

	var dot bytes.Buffer
	require.NoError(t, cfg.WriteDOT(&dot))
	assert.Contains(t, dot.String(), "digraph")
	assert.Contains(t, dot.String(), "IL_000f")
}

func TestControlFlowGraph_Unreachable(t *testing.T) {
	// br.s IL_0003; nop; ret
	s := decode(t, code(il.BrS, 1, il.Nop, il.Ret))
	cfg, err := BuildControlFlowGraph(s)
	require.NoError(t, err)

	unreachable, err := cfg.Unreachable()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, unreachable)
}

func TestControlFlowGraph_ExceptionEdges(t *testing.T) {
	s, err := il.Decode(tryCatchBody())
	require.NoError(t, err)
	cfg, err := BuildControlFlowGraph(s)
	require.NoError(t, err)

	unreachable, err := cfg.Unreachable()
	require.NoError(t, err)
	assert.Empty(t, unreachable)
}

type fakeNames struct{}

func (fakeNames) TypeName(tok cil.Token) (string, error) {
	if tok == exceptType {
		return "System.Exception", nil
	}
	return "", errors.New("unknown type")
}

func (fakeNames) MemberName(tok cil.Token) (string, error) {
	if tok == concatRef {
		return "System.String::Concat(System.String,System.String)", nil
	}
	return "", errors.New("unknown member")
}

func (fakeNames) UserString(tok cil.Token) (string, error) {
	return map[cil.Token]string{strA: "a", strB: "b"}[tok], nil
}

func TestDump(t *testing.T) {
	t.Run("instructions", func(t *testing.T) {
		s := decode(t, code(il.Ldstr, strA, il.Ldstr, strB, il.Call, concatRef, il.Ret))
		s.EmitBefore(s.Last()).Pop()
		_, err := s.EncodeCode()
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, Dump(&out, s, fakeNames{}))
		assert.Equal(t, `IL_0000: ldstr "a"
IL_0005: ldstr "b"
IL_000a: call System.String::Concat(System.String,System.String)
IL_000f*: pop
IL_0010: ret
`, out.String())
	})

	t.Run("consumers", func(t *testing.T) {
		s := decode(t, code(il.Ldstr, strA, il.Ldstr, strB, il.Call, concatRef, il.Ret))
		a := Analyze(s, newEnv(sig.NewMethod(sig.CallConvDefault, str)))
		require.NoError(t, a.Err())

		var out bytes.Buffer
		require.NoError(t, a.Dump(&out, nil))
		assert.Equal(t, `IL_0000: ldstr 0x70000001 -> IL_000a#0
IL_0005: ldstr 0x70000002 -> IL_000a#1
IL_000a: call 0x0a000001 -> IL_000f#0
IL_000f: ret
`, out.String())
	})

	t.Run("regions", func(t *testing.T) {
		s, err := il.Decode(tryCatchBody())
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, Dump(&out, s, fakeNames{}))
		assert.Equal(t, `.try {
  IL_0000: nop
  IL_0001: leave.s IL_0006
} catch System.Exception {
  IL_0003: pop
  IL_0004: leave.s IL_0006
}
IL_0006: ret
`, out.String())
	})
}
