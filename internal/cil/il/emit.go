package il

import (
	"math"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Emitter appends synthesized instructions around a fixed point of a Store.
// In before mode every instruction lands immediately before the anchor, so a
// sequence keeps its order. In after mode the cursor follows each emitted
// instruction. The first error sticks.
type Emitter struct {
	s      *Store
	anchor Handle
	after  bool
	last   Handle
	err    error
}

// EmitBefore returns an emitter inserting before h. Nil appends at the end.
func (s *Store) EmitBefore(h Handle) *Emitter {
	return &Emitter{s: s, anchor: h}
}

// EmitAfter returns an emitter inserting after h. Nil prepends at the start.
func (s *Store) EmitAfter(h Handle) *Emitter {
	return &Emitter{s: s, anchor: h, after: true}
}

// Err returns the first insertion error.
func (e *Emitter) Err() error {
	return e.err
}

// Last returns the most recently emitted instruction, or Nil.
func (e *Emitter) Last() Handle {
	return e.last
}

// Emit inserts a new instruction and returns its handle.
func (e *Emitter) Emit(op Opcode, arg uint64) Handle {
	if e.err != nil {
		return Nil
	}
	h := e.s.NewInstr(op, arg)
	if e.after {
		e.err = e.s.InsertAfter(e.anchor, h)
		e.anchor = h
	} else {
		e.err = e.s.InsertBefore(e.anchor, h)
	}
	if e.err != nil {
		return Nil
	}
	e.last = h
	return h
}

// EmitToken inserts an instruction with a token operand.
func (e *Emitter) EmitToken(op Opcode, tok cil.Token) Handle {
	return e.Emit(op, uint64(uint32(tok)))
}

// Branch inserts a branch to target.
func (e *Emitter) Branch(op Opcode, target Handle) Handle {
	h := e.Emit(op, 0)
	if h != Nil {
		e.s.instrs[h].Target = target
	}
	return h
}

// Nop emits nop.
func (e *Emitter) Nop() Handle { return e.Emit(Nop, 0) }

// Pop emits pop.
func (e *Emitter) Pop() Handle { return e.Emit(Pop, 0) }

// Dup emits dup.
func (e *Emitter) Dup() Handle { return e.Emit(Dup, 0) }

// Ret emits ret.
func (e *Emitter) Ret() Handle { return e.Emit(Ret, 0) }

// Rethrow emits rethrow.
func (e *Emitter) Rethrow() Handle { return e.Emit(Rethrow, 0) }

// Endfinally emits endfinally.
func (e *Emitter) Endfinally() Handle { return e.Emit(Endfinally, 0) }

// Ldnull emits ldnull.
func (e *Emitter) Ldnull() Handle { return e.Emit(Ldnull, 0) }

// LdcI4 loads a 32-bit constant using the shortest encoding.
func (e *Emitter) LdcI4(v int32) Handle {
	switch {
	case v >= -1 && v <= 8:
		op := LdcI4M1 + Opcode(v+1)
		return e.Emit(op, macroArgs[op])
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return e.Emit(LdcI4S, uint64(uint8(int8(v))))
	default:
		return e.Emit(LdcI4, uint64(uint32(v)))
	}
}

// LdcI8 loads a 64-bit constant.
func (e *Emitter) LdcI8(v int64) Handle {
	return e.Emit(LdcI8, uint64(v))
}

// Ldloc loads local idx using the shortest encoding.
func (e *Emitter) Ldloc(idx uint16) Handle {
	return e.variable(idx, Ldloc0, LdlocS, Ldloc)
}

// Stloc stores into local idx using the shortest encoding.
func (e *Emitter) Stloc(idx uint16) Handle {
	return e.variable(idx, Stloc0, StlocS, Stloc)
}

// Ldloca loads the address of local idx.
func (e *Emitter) Ldloca(idx uint16) Handle {
	return e.variable(idx, Nop, LdlocaS, Ldloca)
}

// Ldarg loads argument idx using the shortest encoding.
func (e *Emitter) Ldarg(idx uint16) Handle {
	return e.variable(idx, Ldarg0, LdargS, Ldarg)
}

// Ldarga loads the address of argument idx.
func (e *Emitter) Ldarga(idx uint16) Handle {
	return e.variable(idx, Nop, LdargaS, Ldarga)
}

// Starg stores into argument idx.
func (e *Emitter) Starg(idx uint16) Handle {
	return e.variable(idx, Nop, StargS, Starg)
}

// variable picks between the compact (indices 0-3, when one exists), short
// and long forms of a variable access.
func (e *Emitter) variable(idx uint16, compact, short, long Opcode) Handle {
	switch {
	case compact != Nop && idx <= 3:
		return e.Emit(compact+Opcode(idx), uint64(idx))
	case idx <= math.MaxUint8:
		return e.Emit(short, uint64(idx))
	default:
		return e.Emit(long, uint64(idx))
	}
}

// Ldstr loads a user string.
func (e *Emitter) Ldstr(tok cil.Token) Handle { return e.EmitToken(Ldstr, tok) }

// Ldtoken loads a runtime handle for a metadata token.
func (e *Emitter) Ldtoken(tok cil.Token) Handle { return e.EmitToken(Ldtoken, tok) }

// Ldobj loads a value type through an address.
func (e *Emitter) Ldobj(tok cil.Token) Handle { return e.EmitToken(Ldobj, tok) }

// Box boxes the value on the stack.
func (e *Emitter) Box(tok cil.Token) Handle { return e.EmitToken(Box, tok) }

// UnboxAny unboxes to a value of the given type.
func (e *Emitter) UnboxAny(tok cil.Token) Handle { return e.EmitToken(UnboxAny, tok) }

// Castclass casts the reference on the stack.
func (e *Emitter) Castclass(tok cil.Token) Handle { return e.EmitToken(Castclass, tok) }

// Newarr creates a one-dimensional array of the given element type.
func (e *Emitter) Newarr(tok cil.Token) Handle { return e.EmitToken(Newarr, tok) }

// Initobj zero-initializes a value type through an address.
func (e *Emitter) Initobj(tok cil.Token) Handle { return e.EmitToken(Initobj, tok) }

// Call emits a static or non-virtual call.
func (e *Emitter) Call(tok cil.Token) Handle { return e.EmitToken(Call, tok) }

// Callvirt emits a virtual call.
func (e *Emitter) Callvirt(tok cil.Token) Handle { return e.EmitToken(Callvirt, tok) }

// Newobj emits an object construction.
func (e *Emitter) Newobj(tok cil.Token) Handle { return e.EmitToken(Newobj, tok) }

// BeginLoadValueIntoArray prepares an array store: it duplicates the array
// reference on the stack and pushes the element index. The value to store is
// emitted next, followed by EndLoadValueIntoArray.
func (e *Emitter) BeginLoadValueIntoArray(index int32) Handle {
	h := e.Dup()
	e.LdcI4(index)
	return h
}

// EndLoadValueIntoArray stores the value into the array element.
func (e *Emitter) EndLoadValueIntoArray() Handle {
	return e.Emit(StelemRef, 0)
}
