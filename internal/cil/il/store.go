// Package il decodes method bodies into an editable instruction list, supports
// inserting and replacing instructions around any point of the list, and
// encodes the result back into a valid method body.
//
// Instructions live in an arena owned by a Store and are addressed by Handle.
// Handles stay valid for the lifetime of the Store, including across
// insertions, and are never reused.
package il

import (
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// Handle addresses an instruction inside a Store. The zero Handle is the list
// sentinel: it precedes the first instruction and follows the last one.
type Handle int32

// Nil is the sentinel handle.
const Nil Handle = 0

// Instr is a decoded or synthesized instruction.
type Instr struct {
	Op Opcode
	// Arg is the raw operand: an immediate, a token, a variable index or a
	// switch target count. Compact forms such as ldarg.1 carry their
	// implicit index here. Branch instructions use Target instead.
	Arg uint64
	// Target is the branch destination of branch and SwitchArg instructions.
	Target Handle
	// Offset is the byte offset of the instruction in the last decoded or
	// encoded layout, or -1 for instructions that were never laid out.
	Offset int

	isNew      bool
	origOp     Opcode
	origArg    uint64
	origTarget Handle
	prev, next Handle
}

// Token returns the operand as a metadata token.
func (in *Instr) Token() cil.Token {
	return cil.Token(uint32(in.Arg))
}

// Int returns the operand as a signed immediate.
func (in *Instr) Int() int64 {
	switch in.Op.Info().Operand {
	case ShortInlineI:
		return int64(int8(in.Arg))
	case InlineI:
		return int64(int32(uint32(in.Arg)))
	case InlineNone:
		if v, ok := macroArgs[in.Op]; ok {
			return int64(int32(uint32(v)))
		}
		return 0
	default:
		return int64(in.Arg)
	}
}

// IsNew reports whether the instruction was synthesized after decoding.
func (in *Instr) IsNew() bool {
	return in.isNew
}

// IsDirty reports whether the instruction was synthesized or changed since
// decoding.
func (in *Instr) IsDirty() bool {
	return in.isNew || in.Op != in.origOp || in.Arg != in.origArg || in.Target != in.origTarget
}

// OriginalArg returns the operand as it was decoded.
func (in *Instr) OriginalArg() uint64 {
	return in.origArg
}

// Header holds the method header fields that survive a rewrite.
type Header struct {
	MaxStack    uint16
	InitLocals  bool
	LocalsToken cil.Token
}

// Store is the editable form of one method body. A Store is not safe for
// concurrent use.
type Store struct {
	Header Header

	instrs   []*Instr
	regions  []*ExceptionRegion
	original []byte
	locals   *sig.Signature
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.instrs = []*Instr{{Offset: -1}}
	return s
}

// At returns the instruction addressed by h, or nil for Nil and unknown handles.
func (s *Store) At(h Handle) *Instr {
	if h <= Nil || int(h) >= len(s.instrs) {
		return nil
	}
	return s.instrs[h]
}

// First returns the first instruction, or Nil if the body is empty.
func (s *Store) First() Handle {
	return s.instrs[Nil].next
}

// Last returns the last instruction, or Nil if the body is empty.
func (s *Store) Last() Handle {
	return s.instrs[Nil].prev
}

// Next returns the instruction after h, or Nil at the end.
func (s *Store) Next(h Handle) Handle {
	return s.instrs[h].next
}

// Prev returns the instruction before h, or Nil at the start.
func (s *Store) Prev(h Handle) Handle {
	return s.instrs[h].prev
}

// Handles returns every instruction handle in list order.
func (s *Store) Handles() []Handle {
	var out []Handle
	for h := s.First(); h != Nil; h = s.Next(h) {
		out = append(out, h)
	}
	return out
}

// Len returns the number of instructions in the list.
func (s *Store) Len() int {
	n := 0
	for h := s.First(); h != Nil; h = s.Next(h) {
		n++
	}
	return n
}

// Find returns the instruction laid out at offset, or Nil.
func (s *Store) Find(offset int) Handle {
	for h := s.First(); h != Nil; h = s.Next(h) {
		if in := s.instrs[h]; in.Offset == offset && in.Op != SwitchArg {
			return h
		}
	}
	return Nil
}

// Regions returns the exception handling clauses in declaration order.
func (s *Store) Regions() []*ExceptionRegion {
	return s.regions
}

// Original returns the body bytes the store was decoded from.
func (s *Store) Original() []byte {
	return s.original
}

// IsDirty reports whether any instruction was added or changed.
func (s *Store) IsDirty() bool {
	for h := s.First(); h != Nil; h = s.Next(h) {
		if s.instrs[h].IsDirty() {
			return true
		}
	}
	return false
}

// NewInstr allocates a detached instruction. It becomes part of the body only
// once inserted.
func (s *Store) NewInstr(op Opcode, arg uint64) Handle {
	h := s.alloc(op, arg)
	s.instrs[h].isNew = true
	return h
}

func (s *Store) alloc(op Opcode, arg uint64) Handle {
	in := &Instr{Op: op, Arg: arg, Offset: -1, origOp: op, origArg: arg}
	s.instrs = append(s.instrs, in)
	return Handle(len(s.instrs) - 1)
}

func (s *Store) valid(h Handle) error {
	if h < Nil || int(h) >= len(s.instrs) {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return nil
}

func (s *Store) link(what, prev, next Handle) {
	w := s.instrs[what]
	w.prev, w.next = prev, next
	s.instrs[prev].next = what
	s.instrs[next].prev = what
}

// InsertBefore links what immediately before where. Branches and exception
// clauses that started at where start at what afterwards, so control that
// reached where now runs what first. Passing Nil as where appends.
func (s *Store) InsertBefore(where, what Handle) error {
	if err := s.valid(where); err != nil {
		return err
	}
	if err := s.valid(what); err != nil || what == Nil {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, what)
	}
	s.link(what, s.instrs[where].prev, where)
	if where != Nil {
		s.retarget(where, what)
	}
	s.adjustStack(what)
	return nil
}

// InsertAfter links what immediately after where. Exception clauses whose
// protected or handler block ended at where are extended to what.
func (s *Store) InsertAfter(where, what Handle) error {
	if err := s.valid(where); err != nil {
		return err
	}
	if err := s.valid(what); err != nil || what == Nil {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, what)
	}
	s.link(what, where, s.instrs[where].next)
	if where != Nil {
		for _, r := range s.regions {
			if r.TryLast == where {
				r.TryLast = what
			}
			if r.HandlerLast == where {
				r.HandlerLast = what
			}
		}
	}
	s.adjustStack(what)
	return nil
}

func (s *Store) retarget(from, to Handle) {
	for h := s.First(); h != Nil; h = s.Next(h) {
		if in := s.instrs[h]; in.Target == from && in.Op.Info().Operand.IsBranchTarget() {
			in.Target = to
		}
	}
	for _, r := range s.regions {
		if r.TryBegin == from {
			r.TryBegin = to
		}
		if r.HandlerBegin == from {
			r.HandlerBegin = to
		}
		if r.Filter == from {
			r.Filter = to
		}
	}
}

func (s *Store) adjustStack(h Handle) {
	push := s.instrs[h].Op.Info().Push
	if push == VarStack {
		push = 1
	}
	if int(s.Header.MaxStack)+push <= 0xffff {
		s.Header.MaxStack += uint16(push)
	}
}

// Locals returns the local variable signature, parsing it on first use from
// the blob that lookup returns for the header's locals token.
func (s *Store) Locals(lookup func(cil.Token) ([]byte, error)) (*sig.Signature, error) {
	if s.locals != nil {
		return s.locals, nil
	}
	if s.Header.LocalsToken.IsNil() {
		return nil, ErrNoLocals
	}
	blob, err := lookup(s.Header.LocalsToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read locals signature %s: %w", s.Header.LocalsToken, err)
	}
	locals, err := sig.Parse(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to parse locals signature %s: %w", s.Header.LocalsToken, err)
	}
	s.locals = locals
	return locals, nil
}

// SwitchTargets returns the SwitchArg slots that follow a switch instruction.
func (s *Store) SwitchTargets(h Handle) []Handle {
	in := s.At(h)
	if in == nil || in.Op != Switch {
		return nil
	}
	var out []Handle
	for n, cur := 0, s.Next(h); n < int(in.Arg) && cur != Nil && s.instrs[cur].Op == SwitchArg; n, cur = n+1, s.Next(cur) {
		out = append(out, cur)
	}
	return out
}
