package analysis

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
)

// Names renders metadata tokens in dumps. Lookups that fail fall back to the
// token value.
type Names interface {
	TypeName(tok cil.Token) (string, error)
	MemberName(tok cil.Token) (string, error)
	UserString(tok cil.Token) (string, error)
}

// Dump writes one line per instruction in the form "IL_0004*: call Target".
// A star marks synthesized or modified instructions. Exception regions are
// rendered as nested try/handler blocks. names may be nil.
func Dump(w io.Writer, s *il.Store, names Names) error {
	return dump(&dumper{w: w, s: s, names: names})
}

// Dump writes the analyzed body like the package level Dump, annotating each
// consumed value with the instruction and operand slot that consumed it.
func (a *Analysis) Dump(w io.Writer, names Names) error {
	return dump(&dumper{w: w, s: a.store, names: names, an: a})
}

func dump(d *dumper) error {
	s := d.s
	for h := s.First(); h != il.Nil && d.err == nil; h = s.Next(h) {
		d.open(h)
		d.instr(h)
		d.close(h)
	}
	return d.err
}

type dumper struct {
	w      io.Writer
	s      *il.Store
	names  Names
	an     *Analysis
	indent int
	err    error
}

func (d *dumper) line(format string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, "%s%s\n", strings.Repeat("  ", d.indent), fmt.Sprintf(format, args...))
}

func (d *dumper) open(h il.Handle) {
	var trys []*il.ExceptionRegion
	for _, r := range d.s.Regions() {
		if r.TryBegin == h {
			trys = append(trys, r)
		}
	}
	// outermost first
	sort.SliceStable(trys, func(i, j int) bool {
		return d.offset(trys[i].TryLast) > d.offset(trys[j].TryLast)
	})
	for range trys {
		d.line(".try {")
		d.indent++
	}

	for _, r := range d.s.Regions() {
		switch h {
		case r.Filter:
			d.indent--
			d.line("} filter {")
			d.indent++
		case r.HandlerBegin:
			d.indent--
			switch r.Kind {
			case il.RegionCatch:
				d.line("} catch %s {", d.typeName(r.ClassToken))
			case il.RegionFilter:
				d.line("} {")
			default:
				d.line("} %s {", r.Kind)
			}
			d.indent++
		}
	}
}

func (d *dumper) close(h il.Handle) {
	for _, r := range d.s.Regions() {
		if r.HandlerLast == h {
			d.indent--
			d.line("}")
		}
	}
}

func (d *dumper) offset(h il.Handle) int {
	if in := d.s.At(h); in != nil {
		return in.Offset
	}
	return -1
}

func (d *dumper) label(h il.Handle) string {
	off := d.offset(h)
	if off < 0 {
		return "IL_----"
	}
	return fmt.Sprintf("IL_%04x", off)
}

func (d *dumper) instr(h il.Handle) {
	in := d.s.At(h)
	mark := ""
	if in.IsDirty() {
		mark = "*"
	}
	operand := d.operand(in, in.Arg)
	if operand != "" {
		operand = " " + operand
	}
	if in.IsDirty() && !in.IsNew() && in.Op.Info().Operand.IsToken() && in.Arg != in.OriginalArg() {
		operand += " // Original: " + d.operand(in, in.OriginalArg())
	}
	if d.an != nil {
		if n := d.an.Node(h); n != nil && n.Consumer != h && n.Consumer != il.Nil {
			operand += fmt.Sprintf(" -> %s#%d", d.label(n.Consumer), n.ParamIndex)
		}
	}
	d.line("%s%s: %s%s", d.label(h), mark, in.Op, operand)
}

func (d *dumper) operand(in *il.Instr, arg uint64) string {
	tok := cil.Token(uint32(arg))
	switch in.Op.Info().Operand {
	case il.InlineNone:
		return ""
	case il.ShortInlineBrTarget, il.InlineBrTarget, il.InlineSwitchTarget:
		return d.label(in.Target)
	case il.InlineSwitch:
		return fmt.Sprintf("(%d targets)", arg)
	case il.ShortInlineI, il.InlineI, il.InlineI8:
		return strconv.FormatInt(in.Int(), 10)
	case il.ShortInlineR:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(arg))), 'g', -1, 32)
	case il.InlineR:
		return strconv.FormatFloat(math.Float64frombits(arg), 'g', -1, 64)
	case il.ShortInlineVar, il.InlineVar:
		return strconv.FormatUint(arg, 10)
	case il.InlineString:
		if d.names != nil {
			if str, err := d.names.UserString(tok); err == nil {
				return strconv.Quote(str)
			}
		}
	case il.InlineType:
		return d.typeName(tok)
	case il.InlineMethod, il.InlineField:
		if d.names != nil {
			if name, err := d.names.MemberName(tok); err == nil {
				return name
			}
		}
	case il.InlineTok:
		if tok.Is(cil.TableMethodDef) || tok.Is(cil.TableMemberRef) || tok.Is(cil.TableField) {
			if d.names != nil {
				if name, err := d.names.MemberName(tok); err == nil {
					return name
				}
			}
			break
		}
		return d.typeName(tok)
	}
	return tok.String()
}

func (d *dumper) typeName(tok cil.Token) string {
	if d.names != nil {
		if name, err := d.names.TypeName(tok); err == nil {
			return name
		}
	}
	return tok.String()
}
