package il

import (
	"encoding/binary"
	"fmt"
	"math"
)

// maxLayoutPasses bounds the branch promotion fixpoint. Every pass but the
// last promotes at least one short branch, so the bound is never reached on a
// consistent list.
const maxLayoutPasses = 1 << 16

// Encode serializes the store into a method body. When nothing changed since
// decoding it returns the original bytes with changed set to false.
func (s *Store) Encode() (body []byte, changed bool, err error) {
	if !s.IsDirty() && s.original != nil {
		return append([]byte(nil), s.original...), false, nil
	}
	code, err := s.EncodeCode()
	if err != nil {
		return nil, false, err
	}
	return s.assemble(code), true, nil
}

// EncodeCode lays out and serializes the instruction stream without a header.
// Short branches whose displacement no longer fits in a signed byte are
// promoted to their long form until the layout is stable.
func (s *Store) EncodeCode() ([]byte, error) {
	for pass := 0; pass < maxLayoutPasses; pass++ {
		size := s.layout()
		promoted := false
		for h := s.First(); h != Nil; h = s.Next(h) {
			in := s.instrs[h]
			if !in.Op.IsShortBranch() {
				continue
			}
			target := s.At(in.Target)
			if target == nil {
				return nil, fmt.Errorf("%w: %s at IL_%04x has no target", ErrInvalidBranchTarget, in.Op, in.Offset)
			}
			delta := target.Offset - (in.Offset + in.Op.Size() + 1)
			if delta < math.MinInt8 || delta > math.MaxInt8 {
				in.Op = in.Op.LongForm()
				promoted = true
			}
		}
		if !promoted {
			return s.emitCode(size)
		}
	}
	return nil, fmt.Errorf("branch layout did not converge")
}

// layout assigns offsets and returns the code size.
func (s *Store) layout() int {
	offset := 0
	for h := s.First(); h != Nil; h = s.Next(h) {
		in := s.instrs[h]
		in.Offset = offset
		offset += in.Op.Size() + in.Op.Info().Operand.Size()
	}
	return offset
}

func (s *Store) emitCode(size int) ([]byte, error) {
	out := make([]byte, size)
	switchBase := 0
	for h := s.First(); h != Nil; h = s.Next(h) {
		in := s.instrs[h]
		pos := in.Offset
		if in.Op >= 0x100 && in.Op != SwitchArg {
			out[pos] = prefixByte
			pos++
		}
		if in.Op != SwitchArg {
			out[pos] = byte(in.Op)
			pos++
		}
		info := in.Op.Info()
		end := pos + info.Operand.Size()

		switch info.Operand {
		case InlineNone:
		case ShortInlineVar, ShortInlineI:
			out[pos] = byte(in.Arg)
		case InlineVar:
			binary.LittleEndian.PutUint16(out[pos:], uint16(in.Arg))
		case InlineI8, InlineR:
			binary.LittleEndian.PutUint64(out[pos:], in.Arg)
		case ShortInlineBrTarget, InlineBrTarget:
			target := s.At(in.Target)
			if target == nil {
				return nil, fmt.Errorf("%w: %s at IL_%04x has no target", ErrInvalidBranchTarget, in.Op, in.Offset)
			}
			delta := target.Offset - end
			if info.Operand == ShortInlineBrTarget {
				out[pos] = byte(int8(delta))
			} else {
				binary.LittleEndian.PutUint32(out[pos:], uint32(int32(delta)))
			}
		case InlineSwitch:
			binary.LittleEndian.PutUint32(out[pos:], uint32(in.Arg))
			switchBase = end + 4*int(in.Arg)
		case InlineSwitchTarget:
			target := s.At(in.Target)
			if target == nil {
				return nil, fmt.Errorf("%w: switch slot at IL_%04x has no target", ErrInvalidBranchTarget, in.Offset)
			}
			binary.LittleEndian.PutUint32(out[pos:], uint32(int32(target.Offset-switchBase)))
		default:
			binary.LittleEndian.PutUint32(out[pos:], uint32(in.Arg))
		}
	}
	return out, nil
}

// useTinyHeader reports whether a code stream of the given size fits the
// one-byte header.
func (s *Store) useTinyHeader(codeSize int) bool {
	return codeSize < tinyMaxCode && len(s.regions) == 0 &&
		s.Header.LocalsToken.IsNil() && s.Header.MaxStack <= tinyMaxStack && !s.Header.InitLocals
}

func (s *Store) assemble(code []byte) []byte {
	if s.useTinyHeader(len(code)) {
		out := make([]byte, 0, 1+len(code))
		out = append(out, byte(len(code)<<2)|headerTiny)
		return append(out, code...)
	}

	flags := uint16(headerFat) | fatSizeWords<<12
	if s.Header.InitLocals {
		flags |= headerInitLocals
	}
	if len(s.regions) > 0 {
		flags |= headerMoreSects
	}
	out := make([]byte, fatSizeWords*4, fatSizeWords*4+len(code)+4+fatClauseSize*len(s.regions)+3)
	binary.LittleEndian.PutUint16(out[0:], flags)
	binary.LittleEndian.PutUint16(out[2:], s.Header.MaxStack)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(code)))
	binary.LittleEndian.PutUint32(out[8:], uint32(s.Header.LocalsToken))
	out = append(out, code...)
	if len(s.regions) == 0 {
		return out
	}

	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	dataSize := 4 + fatClauseSize*len(s.regions)
	out = append(out, sectEHTable|sectFatFormat, byte(dataSize), byte(dataSize>>8), byte(dataSize>>16))
	for _, r := range s.regions {
		var c [fatClauseSize]byte
		tryBegin := s.offsetOf(r.TryBegin)
		handlerBegin := s.offsetOf(r.HandlerBegin)
		binary.LittleEndian.PutUint32(c[0:], uint32(r.Kind))
		binary.LittleEndian.PutUint32(c[4:], uint32(tryBegin))
		binary.LittleEndian.PutUint32(c[8:], uint32(s.endOffset(r.TryLast, len(code))-tryBegin))
		binary.LittleEndian.PutUint32(c[12:], uint32(handlerBegin))
		binary.LittleEndian.PutUint32(c[16:], uint32(s.endOffset(r.HandlerLast, len(code))-handlerBegin))
		if r.Kind == RegionFilter {
			binary.LittleEndian.PutUint32(c[20:], uint32(s.offsetOf(r.Filter)))
		} else {
			binary.LittleEndian.PutUint32(c[20:], uint32(r.ClassToken))
		}
		out = append(out, c[:]...)
	}
	return out
}

func (s *Store) offsetOf(h Handle) int {
	if in := s.At(h); in != nil {
		return in.Offset
	}
	return 0
}

// endOffset returns the offset just past the inclusive block end h.
func (s *Store) endOffset(h Handle, codeSize int) int {
	next := s.Next(h)
	if next == Nil {
		return codeSize
	}
	return s.instrs[next].Offset
}
