package il

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	strA       = cil.NewToken(cil.TableString, 1)
	strB       = cil.NewToken(cil.TableString, 2)
	concatRef  = cil.NewToken(cil.TableMemberRef, 1)
	helperRef  = cil.NewToken(cil.TableMemberRef, 2)
	exceptType = cil.NewToken(cil.TableTypeRef, 1)
)

func tok(b []byte, t cil.Token) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(t))
}

// concatCode is: ldstr "a"; ldstr "b"; call Concat; ret
func concatCode() []byte {
	code := []byte{byte(Ldstr)}
	code = tok(code, strA)
	code = append(code, byte(Ldstr))
	code = tok(code, strB)
	code = append(code, byte(Call))
	code = tok(code, concatRef)
	return append(code, byte(Ret))
}

func tinyBody(code []byte) []byte {
	return append([]byte{byte(len(code)<<2) | headerTiny}, code...)
}

// tryCatchBody is a fat body with one catch clause:
//
//	IL_0000: nop          try begin
//	IL_0001: leave.s 6    try last
//	IL_0003: pop          handler begin
//	IL_0004: leave.s 6    handler last
//	IL_0006: ret
func tryCatchBody() []byte {
	code := []byte{0x00, 0xde, 0x03, 0x26, 0xde, 0x00, 0x2a}
	body := []byte{0x0b, 0x30, 0x01, 0x00}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(code)))
	body = binary.LittleEndian.AppendUint32(body, 0)
	body = append(body, code...)
	body = append(body, 0x00)
	body = append(body, sectEHTable|sectFatFormat, 28, 0, 0)
	for _, v := range []uint32{0, 0, 3, 3, 3, uint32(exceptType)} {
		body = binary.LittleEndian.AppendUint32(body, v)
	}
	return body
}

func ops(s *Store) []Opcode {
	var out []Opcode
	for h := s.First(); h != Nil; h = s.Next(h) {
		out = append(out, s.At(h).Op)
	}
	return out
}

func TestDecode_TinyBody(t *testing.T) {
	s, err := Decode(tinyBody(concatCode()))
	require.NoError(t, err)

	assert.Equal(t, []Opcode{Ldstr, Ldstr, Call, Ret}, ops(s))
	assert.Equal(t, uint16(tinyMaxStack), s.Header.MaxStack)
	assert.True(t, s.Header.LocalsToken.IsNil())

	call := s.Find(10)
	require.NotEqual(t, Nil, call)
	assert.Equal(t, concatRef, s.At(call).Token())
	assert.False(t, s.IsDirty())
}

func TestEncode_UnmodifiedIsNoOp(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "tiny", body: tinyBody(concatCode())},
		{name: "fat with exception clause", body: tryCatchBody()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(tt.body)
			require.NoError(t, err)

			out, changed, err := s.Encode()
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, tt.body, out)
		})
	}
}

func TestEncode_ReencodeReproducesLayout(t *testing.T) {
	body := tryCatchBody()
	s, err := Decode(body)
	require.NoError(t, err)

	// an operand edit that cancels out is not an edit
	first := s.At(s.First())
	first.Arg++
	assert.True(t, s.IsDirty())
	first.Arg--
	assert.False(t, s.IsDirty())

	// a full encode reproduces the decoded layout
	code, err := s.EncodeCode()
	require.NoError(t, err)
	assert.Equal(t, body, s.assemble(code))
}

func TestDecode_ExceptionRegions(t *testing.T) {
	s, err := Decode(tryCatchBody())
	require.NoError(t, err)
	require.Len(t, s.Regions(), 1)

	r := s.Regions()[0]
	assert.Equal(t, RegionCatch, r.Kind)
	assert.Equal(t, exceptType, r.ClassToken)
	assert.Equal(t, 0, s.At(r.TryBegin).Offset)
	assert.Equal(t, 1, s.At(r.TryLast).Offset)
	assert.Equal(t, 3, s.At(r.HandlerBegin).Offset)
	assert.Equal(t, 4, s.At(r.HandlerLast).Offset)
	assert.True(t, r.PushesException())
}

func TestInsert_FixesExceptionRegions(t *testing.T) {
	s, err := Decode(tryCatchBody())
	require.NoError(t, err)
	r := s.Regions()[0]
	oldTryBegin, oldHandlerLast := r.TryBegin, r.HandlerLast

	before := s.EmitBefore(oldTryBegin)
	first := before.Nop()
	require.NoError(t, before.Err())
	assert.Equal(t, first, r.TryBegin)

	after := s.EmitAfter(oldHandlerLast)
	last := after.Nop()
	require.NoError(t, after.Err())
	assert.Equal(t, last, r.HandlerLast)

	out, changed, err := s.Encode()
	require.NoError(t, err)
	require.True(t, changed)

	decoded, err := Decode(out)
	require.NoError(t, err)
	require.Len(t, decoded.Regions(), 1)
	d := decoded.Regions()[0]
	assert.Equal(t, 0, decoded.At(d.TryBegin).Offset)
	assert.Equal(t, 2, decoded.At(d.TryLast).Offset)
	assert.Equal(t, 4, decoded.At(d.HandlerBegin).Offset)
	assert.Equal(t, 7, decoded.At(d.HandlerLast).Offset)
	assert.Equal(t, Nop, decoded.At(d.HandlerLast).Op)
}

func TestInsertBefore_RetargetsBranches(t *testing.T) {
	// brtrue.s to ret, ret
	s, err := DecodeCode([]byte{byte(Ldarg0), byte(BrtrueS), 0x00, byte(Ret)})
	require.NoError(t, err)
	ret := s.Last()
	br := s.Prev(ret)
	require.Equal(t, ret, s.At(br).Target)

	e := s.EmitBefore(ret)
	nop := e.Nop()
	require.NoError(t, e.Err())
	assert.Equal(t, nop, s.At(br).Target)
	assert.True(t, s.IsDirty())
}

func TestEncode_BranchPromotion(t *testing.T) {
	s, err := DecodeCode([]byte{byte(BrS), 0x00, byte(Ret)})
	require.NoError(t, err)
	br := s.First()

	e := s.EmitAfter(br)
	for i := 0; i < 200; i++ {
		e.Nop()
	}
	require.NoError(t, e.Err())

	code, err := s.EncodeCode()
	require.NoError(t, err)

	want := []byte{byte(Br), 200, 0, 0, 0}
	want = append(want, make([]byte, 200)...)
	want = append(want, byte(Ret))
	assert.Equal(t, want, code)
	assert.Equal(t, Br, s.At(br).Op)

	// the layout is stable: a second encode yields the same bytes
	again, err := s.EncodeCode()
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestEncode_BackwardBranchPromotion(t *testing.T) {
	// loop: nop; br.s loop
	s, err := DecodeCode([]byte{byte(Nop), byte(BrS), 0xfd})
	require.NoError(t, err)
	loop := s.First()
	require.Equal(t, loop, s.At(s.Last()).Target)

	e := s.EmitAfter(loop)
	for i := 0; i < 130; i++ {
		e.Nop()
	}
	require.NoError(t, e.Err())

	code, err := s.EncodeCode()
	require.NoError(t, err)
	require.Len(t, code, 1+130+5)
	assert.Equal(t, byte(Br), code[131])
	assert.Equal(t, int32(-136), int32(binary.LittleEndian.Uint32(code[132:])))
}

func TestSwitch_RoundTrip(t *testing.T) {
	code := []byte{
		byte(Ldarg0),
		byte(Switch), 0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		byte(LdcI41), byte(Ret),
		byte(LdcI42), byte(Ret),
	}
	s, err := DecodeCode(code)
	require.NoError(t, err)

	sw := s.Next(s.First())
	slots := s.SwitchTargets(sw)
	require.Len(t, slots, 2)
	assert.Equal(t, 14, s.At(s.At(slots[0]).Target).Offset)
	assert.Equal(t, 16, s.At(s.At(slots[1]).Target).Offset)

	out, err := s.EncodeCode()
	require.NoError(t, err)
	assert.Equal(t, code, out)

	second := s.At(slots[1]).Target
	e := s.EmitBefore(second)
	e.Nop()
	require.NoError(t, e.Err())

	out, err = s.EncodeCode()
	require.NoError(t, err)
	want := append(append([]byte(nil), code[:16]...), byte(Nop), byte(LdcI42), byte(Ret))
	assert.Equal(t, want, out)
}

func TestInsertBefore_ConcatScenario(t *testing.T) {
	s, err := Decode(tinyBody(concatCode()))
	require.NoError(t, err)
	call := s.Find(10)

	e := s.EmitBefore(call)
	e.Call(helperRef)
	require.NoError(t, e.Err())

	out, changed, err := s.Encode()
	require.NoError(t, err)
	require.True(t, changed)

	decoded, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, []Opcode{Ldstr, Ldstr, Call, Call, Ret}, ops(decoded))

	var calls []cil.Token
	for h := decoded.First(); h != Nil; h = decoded.Next(h) {
		if decoded.At(h).Op == Call {
			calls = append(calls, decoded.At(h).Token())
		}
	}
	assert.Equal(t, []cil.Token{helperRef, concatRef}, calls)
	assert.Equal(t, uint16(tinyMaxStack+1), decoded.Header.MaxStack)
}

func TestEmitter_ShortestForms(t *testing.T) {
	tests := []struct {
		name string
		emit func(e *Emitter) Handle
		op   Opcode
		arg  uint64
	}{
		{"ldloc compact", func(e *Emitter) Handle { return e.Ldloc(2) }, Ldloc2, 2},
		{"ldloc short", func(e *Emitter) Handle { return e.Ldloc(200) }, LdlocS, 200},
		{"ldloc long", func(e *Emitter) Handle { return e.Ldloc(300) }, Ldloc, 300},
		{"stloc compact", func(e *Emitter) Handle { return e.Stloc(0) }, Stloc0, 0},
		{"ldarg compact", func(e *Emitter) Handle { return e.Ldarg(3) }, Ldarg3, 3},
		{"ldarg short", func(e *Emitter) Handle { return e.Ldarg(4) }, LdargS, 4},
		{"ldarga short", func(e *Emitter) Handle { return e.Ldarga(1) }, LdargaS, 1},
		{"ldloca long", func(e *Emitter) Handle { return e.Ldloca(256) }, Ldloca, 256},
		{"starg short", func(e *Emitter) Handle { return e.Starg(0) }, StargS, 0},
		{"ldc.i4.m1", func(e *Emitter) Handle { return e.LdcI4(-1) }, LdcI4M1, 0xffffffff},
		{"ldc.i4.8", func(e *Emitter) Handle { return e.LdcI4(8) }, LdcI48, 8},
		{"ldc.i4.s", func(e *Emitter) Handle { return e.LdcI4(-100) }, LdcI4S, 0x9c},
		{"ldc.i4", func(e *Emitter) Handle { return e.LdcI4(1000) }, LdcI4, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			h := tt.emit(s.EmitBefore(Nil))
			require.NotEqual(t, Nil, h)
			assert.Equal(t, tt.op, s.At(h).Op)
			assert.Equal(t, tt.arg, s.At(h).Arg)
		})
	}
}

func TestEmitter_LoadValueIntoArray(t *testing.T) {
	s := New()
	e := s.EmitBefore(Nil)
	e.LdcI4(1)
	e.Newarr(cil.NewToken(cil.TableTypeRef, 3))
	e.BeginLoadValueIntoArray(0)
	e.Ldarg(0)
	e.EndLoadValueIntoArray()
	e.Ret()
	require.NoError(t, e.Err())

	assert.Equal(t, []Opcode{LdcI41, Newarr, Dup, LdcI40, Ldarg0, StelemRef, Ret}, ops(s))

	code, err := s.EncodeCode()
	require.NoError(t, err)
	decoded, err := DecodeCode(code)
	require.NoError(t, err)
	assert.Equal(t, ops(s), ops(decoded))
	assert.Equal(t, int64(1), decoded.At(decoded.First()).Int())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{name: "empty", body: nil, wantErr: ErrTruncatedBody},
		{name: "bad header", body: []byte{0x01}, wantErr: ErrInvalidHeader},
		{name: "tiny size beyond buffer", body: []byte{0x0a, 0x00}, wantErr: ErrTruncatedBody},
		{name: "unknown opcode", body: tinyBody([]byte{0x24}), wantErr: ErrUnknownOpcode},
		{name: "unknown two-byte opcode", body: tinyBody([]byte{0xfe, 0x30}), wantErr: ErrUnknownOpcode},
		{name: "truncated operand", body: tinyBody([]byte{byte(Ldstr), 0x01}), wantErr: ErrTruncatedBody},
		{name: "branch into operand", body: tinyBody([]byte{byte(LdcI4S), 0x05, byte(BrS), 0xfd, byte(Ret)}), wantErr: ErrInvalidBranchTarget},
		{name: "fat header too short", body: []byte{0x03, 0x30, 0x08}, wantErr: ErrTruncatedBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, cil.ErrBinaryFormat)
		})
	}
}

func TestDecode_SmallExceptionSection(t *testing.T) {
	code := []byte{0x00, 0xde, 0x03, 0x26, 0xde, 0x00, 0x2a}
	body := []byte{0x0b, 0x30, 0x01, 0x00}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(code)))
	body = binary.LittleEndian.AppendUint32(body, 0)
	body = append(body, code...)
	body = append(body, 0x00)
	body = append(body, sectEHTable, 16, 0, 0)
	clause := make([]byte, smallClauseSize)
	binary.LittleEndian.PutUint16(clause[0:], uint16(RegionFinally))
	binary.LittleEndian.PutUint16(clause[2:], 0)
	clause[4] = 3
	binary.LittleEndian.PutUint16(clause[5:], 3)
	clause[7] = 3
	body = append(body, clause...)

	s, err := Decode(body)
	require.NoError(t, err)
	require.Len(t, s.Regions(), 1)
	assert.Equal(t, RegionFinally, s.Regions()[0].Kind)
	assert.False(t, s.Regions()[0].PushesException())

	// re-encoding always writes the fat section form
	h := s.NewInstr(Nop, 0)
	require.NoError(t, s.InsertAfter(s.Last(), h))
	out, _, err := s.Encode()
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte{sectEHTable | sectFatFormat, 28, 0, 0}))
}

func TestLocals(t *testing.T) {
	s := New()
	_, err := s.Locals(nil)
	assert.ErrorIs(t, err, ErrNoLocals)

	s.Header.LocalsToken = cil.NewToken(cil.TableSignature, 1)
	calls := 0
	lookup := func(tok cil.Token) ([]byte, error) {
		calls++
		return []byte{0x07, 0x02, 0x08, 0x0e}, nil
	}
	locals, err := s.Locals(lookup)
	require.NoError(t, err)
	assert.Len(t, locals.Params, 2)

	_, err = s.Locals(lookup)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
