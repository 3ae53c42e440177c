package sig

import (
	"github.com/isseis/go-iast-weaver/internal/cil"
)

// Largest values representable by the compressed encodings
const (
	MaxCompressedUint = 0x1fffffff
	maxOneByte        = 0x7f
	maxTwoBytes       = 0x3fff
)

// AppendUint appends v in compressed unsigned form.
func AppendUint(b []byte, v uint32) ([]byte, error) {
	switch {
	case v <= maxOneByte:
		return append(b, byte(v)), nil
	case v <= maxTwoBytes:
		return append(b, byte(v>>8)|0x80, byte(v)), nil
	case v <= MaxCompressedUint:
		return append(b, byte(v>>24)|0xc0, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return b, ErrValueTooLarge
	}
}

// ReadUint decodes a compressed unsigned integer and returns it with the
// number of bytes consumed.
func ReadUint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1, nil
	case first&0xc0 == 0x80:
		if len(b) < 2 {
			return 0, 0, ErrTruncated
		}
		return uint32(first&0x3f)<<8 | uint32(b[1]), 2, nil
	case first&0xe0 == 0xc0:
		if len(b) < 4 {
			return 0, 0, ErrTruncated
		}
		return uint32(first&0x1f)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, ErrInvalidCompressedInt
	}
}

// AppendInt appends v in compressed signed form: the value is rotated left by
// one bit with the sign in bit 0, then stored in the smallest width that fits.
func AppendInt(b []byte, v int32) ([]byte, error) {
	var sign uint32
	if v < 0 {
		sign = 1
	}
	switch {
	case v >= -0x40 && v < 0x40:
		return append(b, byte((uint32(v)&0x3f)<<1|sign)), nil
	case v >= -0x2000 && v < 0x2000:
		u := (uint32(v)&0x1fff)<<1 | sign
		return append(b, byte(u>>8)|0x80, byte(u)), nil
	case v >= -0x10000000 && v < 0x10000000:
		u := (uint32(v)&0x0fffffff)<<1 | sign
		return append(b, byte(u>>24)|0xc0, byte(u>>16), byte(u>>8), byte(u)), nil
	default:
		return b, ErrValueTooLarge
	}
}

// ReadInt decodes a compressed signed integer.
func ReadInt(b []byte) (int32, int, error) {
	u, n, err := ReadUint(b)
	if err != nil {
		return 0, 0, err
	}
	v := int32(u >> 1)
	if u&1 != 0 {
		switch n {
		case 1:
			v -= 0x40
		case 2:
			v -= 0x2000
		default:
			v -= 0x10000000
		}
	}
	return v, n, nil
}

var typeDefOrRefTables = [...]cil.Table{cil.TableTypeDef, cil.TableTypeRef, cil.TableTypeSpec}

// AppendToken appends a TypeDefOrRefOrSpec coded token.
func AppendToken(b []byte, tok cil.Token) ([]byte, error) {
	var tag uint32
	switch tok.Table() {
	case cil.TableTypeDef:
		tag = 0
	case cil.TableTypeRef:
		tag = 1
	case cil.TableTypeSpec:
		tag = 2
	default:
		return b, ErrUnexpectedElement
	}
	return AppendUint(b, tok.RID()<<2|tag)
}

// ReadToken decodes a TypeDefOrRefOrSpec coded token.
func ReadToken(b []byte) (cil.Token, int, error) {
	u, n, err := ReadUint(b)
	if err != nil {
		return 0, 0, err
	}
	tag := u & 0x3
	if int(tag) >= len(typeDefOrRefTables) {
		return 0, 0, ErrUnexpectedElement
	}
	return cil.NewToken(typeDefOrRefTables[tag], u>>2), n, nil
}
