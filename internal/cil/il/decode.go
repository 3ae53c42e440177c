package il

import (
	"encoding/binary"
	"fmt"

	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Method header bits
const (
	headerFormatMask = 0x3
	headerTiny       = 0x2
	headerFat        = 0x3
	headerMoreSects  = 0x08
	headerInitLocals = 0x10

	tinyMaxCode  = 64
	tinyMaxStack = 8
	fatSizeWords = 3
)

// Decode parses a complete method body (header, code and exception sections).
func Decode(body []byte) (*Store, error) {
	if len(body) == 0 {
		return nil, &FormatError{Offset: 0, Err: ErrTruncatedBody}
	}
	s := New()
	s.original = append([]byte(nil), body...)

	var code []byte
	var sections []byte
	switch body[0] & headerFormatMask {
	case headerTiny:
		size := int(body[0] >> 2)
		if 1+size > len(body) {
			return nil, &FormatError{Offset: 0, Err: ErrTruncatedBody}
		}
		s.Header.MaxStack = tinyMaxStack
		code = body[1 : 1+size]

	case headerFat:
		if len(body) < fatSizeWords*4 {
			return nil, &FormatError{Offset: 0, Err: ErrTruncatedBody}
		}
		flags := binary.LittleEndian.Uint16(body[0:])
		headerSize := int(flags>>12) * 4
		codeSize := int(binary.LittleEndian.Uint32(body[4:]))
		if headerSize < fatSizeWords*4 || codeSize < 0 || headerSize+codeSize > len(body) {
			return nil, &FormatError{Offset: 0, Err: ErrTruncatedBody}
		}
		s.Header.MaxStack = binary.LittleEndian.Uint16(body[2:])
		s.Header.LocalsToken = cil.Token(binary.LittleEndian.Uint32(body[8:]))
		s.Header.InitLocals = flags&headerInitLocals != 0
		code = body[headerSize : headerSize+codeSize]
		if flags&headerMoreSects != 0 {
			start := (headerSize + codeSize + 3) &^ 3
			if start > len(body) {
				return nil, &FormatError{Offset: codeSize, Err: ErrInvalidExceptionSection}
			}
			sections = body[start:]
		}

	default:
		return nil, &FormatError{Offset: 0, Err: ErrInvalidHeader}
	}

	byOffset, err := s.decodeCode(code)
	if err != nil {
		return nil, err
	}
	if sections != nil {
		clauses, err := readSections(sections)
		if err != nil {
			return nil, &FormatError{Offset: len(code), Err: err}
		}
		if err := s.resolveClauses(clauses, byOffset, len(code)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DecodeCode parses a bare instruction stream with no header. The resulting
// store uses default header values.
func DecodeCode(code []byte) (*Store, error) {
	s := New()
	s.Header.MaxStack = tinyMaxStack
	if _, err := s.decodeCode(code); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) decodeCode(code []byte) (map[int]Handle, error) {
	byOffset := make(map[int]Handle)
	// raw targets keyed by handle, resolved once every offset is known
	targets := make(map[Handle]int)

	for pos := 0; pos < len(code); {
		start := pos
		op := Opcode(code[pos])
		pos++
		if op == prefixByte {
			if pos >= len(code) {
				return nil, &FormatError{Offset: start, Err: ErrTruncatedBody}
			}
			op = 0x100 | Opcode(code[pos])
			pos++
		}
		info, ok := Lookup(op)
		if !ok || op == SwitchArg {
			return nil, &FormatError{Offset: start, Err: fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, uint16(op))}
		}
		size := info.Operand.Size()
		if pos+size > len(code) {
			return nil, &FormatError{Offset: start, Err: ErrTruncatedBody}
		}

		h := s.alloc(op, 0)
		in := s.instrs[h]
		in.Offset = start
		s.link(h, s.Last(), Nil)
		byOffset[start] = h

		switch info.Operand {
		case InlineNone:
			in.Arg = macroArgs[op]
		case ShortInlineVar, ShortInlineI:
			in.Arg = uint64(code[pos])
		case InlineVar:
			in.Arg = uint64(binary.LittleEndian.Uint16(code[pos:]))
		case InlineI8, InlineR:
			in.Arg = binary.LittleEndian.Uint64(code[pos:])
		case ShortInlineBrTarget:
			targets[h] = pos + 1 + int(int8(code[pos]))
		case InlineBrTarget:
			targets[h] = pos + 4 + int(int32(binary.LittleEndian.Uint32(code[pos:])))
		case InlineSwitch:
			count := int(binary.LittleEndian.Uint32(code[pos:]))
			pos += 4
			if count < 0 || count > (len(code)-pos)/4 {
				return nil, &FormatError{Offset: start, Err: ErrTruncatedBody}
			}
			in.Arg = uint64(count)
			base := pos + count*4
			for i := 0; i < count; i++ {
				slot := s.alloc(SwitchArg, 0)
				s.instrs[slot].Offset = pos
				s.link(slot, s.Last(), Nil)
				targets[slot] = base + int(int32(binary.LittleEndian.Uint32(code[pos:])))
				pos += 4
			}
			size = 0
		default:
			in.Arg = uint64(binary.LittleEndian.Uint32(code[pos:]))
		}
		pos += size
	}

	for h, off := range targets {
		target, ok := byOffset[off]
		if !ok {
			return nil, &FormatError{Offset: s.instrs[h].Offset, Err: fmt.Errorf("%w: IL_%04x", ErrInvalidBranchTarget, off)}
		}
		s.instrs[h].Target = target
	}
	for h := s.First(); h != Nil; h = s.Next(h) {
		in := s.instrs[h]
		in.origOp, in.origArg, in.origTarget = in.Op, in.Arg, in.Target
	}
	return byOffset, nil
}

func readSections(b []byte) ([]rawClause, error) {
	var clauses []rawClause
	for pos := 0; ; {
		if pos+4 > len(b) {
			return nil, ErrTruncatedBody
		}
		kind := b[pos]
		fat := kind&sectFatFormat != 0
		var dataSize int
		if fat {
			dataSize = int(b[pos+1]) | int(b[pos+2])<<8 | int(b[pos+3])<<16
		} else {
			dataSize = int(b[pos+1])
		}
		if dataSize < 4 || pos+dataSize > len(b) {
			return nil, ErrInvalidExceptionSection
		}
		if kind&sectEHTable != 0 {
			data := b[pos+4 : pos+dataSize]
			if fat {
				for i := 0; i+fatClauseSize <= len(data); i += fatClauseSize {
					c := data[i:]
					clauses = append(clauses, rawClause{
						flags:         binary.LittleEndian.Uint32(c[0:]),
						tryOffset:     binary.LittleEndian.Uint32(c[4:]),
						tryLength:     binary.LittleEndian.Uint32(c[8:]),
						handlerOffset: binary.LittleEndian.Uint32(c[12:]),
						handlerLength: binary.LittleEndian.Uint32(c[16:]),
						extra:         binary.LittleEndian.Uint32(c[20:]),
					})
				}
			} else {
				for i := 0; i+smallClauseSize <= len(data); i += smallClauseSize {
					c := data[i:]
					clauses = append(clauses, rawClause{
						flags:         uint32(binary.LittleEndian.Uint16(c[0:])),
						tryOffset:     uint32(binary.LittleEndian.Uint16(c[2:])),
						tryLength:     uint32(c[4]),
						handlerOffset: uint32(binary.LittleEndian.Uint16(c[5:])),
						handlerLength: uint32(c[7]),
						extra:         binary.LittleEndian.Uint32(c[8:]),
					})
				}
			}
		}
		if kind&sectMoreSects == 0 {
			return clauses, nil
		}
		pos = (pos + dataSize + 3) &^ 3
	}
}

func (s *Store) resolveClauses(clauses []rawClause, byOffset map[int]Handle, codeSize int) error {
	begin := func(off uint32) (Handle, error) {
		if h, ok := byOffset[int(off)]; ok {
			return h, nil
		}
		return Nil, &FormatError{Offset: int(off), Err: fmt.Errorf("%w: clause boundary", ErrInvalidBranchTarget)}
	}
	last := func(off, length uint32) (Handle, error) {
		end := int(off) + int(length)
		if length == 0 || end > codeSize {
			return Nil, &FormatError{Offset: int(off), Err: fmt.Errorf("%w: clause length", ErrInvalidExceptionSection)}
		}
		if end == codeSize {
			return s.Last(), nil
		}
		h, ok := byOffset[end]
		if !ok {
			return Nil, &FormatError{Offset: end, Err: fmt.Errorf("%w: clause end", ErrInvalidBranchTarget)}
		}
		return s.Prev(h), nil
	}

	for _, c := range clauses {
		r := &ExceptionRegion{Kind: RegionKind(c.flags & 0x7)}
		var err error
		if r.TryBegin, err = begin(c.tryOffset); err != nil {
			return err
		}
		if r.TryLast, err = last(c.tryOffset, c.tryLength); err != nil {
			return err
		}
		if r.HandlerBegin, err = begin(c.handlerOffset); err != nil {
			return err
		}
		if r.HandlerLast, err = last(c.handlerOffset, c.handlerLength); err != nil {
			return err
		}
		if r.Kind == RegionFilter {
			if r.Filter, err = begin(c.extra); err != nil {
				return err
			}
		} else {
			r.ClassToken = cil.Token(c.extra)
		}
		s.regions = append(s.regions, r)
	}
	return nil
}
