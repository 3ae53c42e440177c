package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/analysis"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/metadata"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// Output formats
const (
	formatListing = "listing"
	formatTable   = "table"
	formatCFG     = "cfg"
)

// Error definitions
var (
	ErrUnknownFormat  = errors.New("unknown output format")
	ErrModuleNotFound = errors.New("module not found in image")
)

// target is one method selected for dumping.
type target struct {
	module *metadata.Module
	method *metadata.Method
}

// openModules wraps every module of h whose name or assembly matches filter,
// or every module when filter is empty.
func openModules(h *host.MemoryHost, filter string) ([]*metadata.Module, error) {
	var out []*metadata.Module
	for _, info := range h.Modules() {
		if filter != "" && filter != info.Name && filter != info.AssemblyName && filter != strconv.Itoa(int(info.ID)) {
			continue
		}
		catalog, err := h.Catalog(info.ID)
		if err != nil {
			return nil, err
		}
		bodies, err := h.Bodies(info.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, metadata.NewModule(info, catalog, bodies))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, filter)
	}
	return out, nil
}

// selectMethods resolves selector, "Type::Method" with an optional parameter
// list, in each module. An empty selector selects every method with a body.
func selectMethods(h *host.MemoryHost, modules []*metadata.Module, selector string) ([]target, error) {
	var out []target
	if selector != "" {
		_, typeName, name, params := aspects.SplitType(selector)
		var lastErr error
		for _, m := range modules {
			method, err := m.Method(typeName, name, params)
			if err != nil {
				lastErr = err
				continue
			}
			out = append(out, target{module: m, method: method})
		}
		if len(out) == 0 {
			return nil, lastErr
		}
		return out, nil
	}

	for _, m := range modules {
		mm, err := h.Module(m.ID)
		if err != nil {
			return nil, err
		}
		for _, tok := range mm.Methods() {
			method, err := m.MethodInfo(tok)
			if err != nil {
				return nil, err
			}
			out = append(out, target{module: m, method: method})
		}
	}
	return out, nil
}

// dumpMethod writes one method in the requested format.
func dumpMethod(w io.Writer, t target, format string, palette *terminal.Palette) error {
	title := t.module.Name + ": " + t.method.FullName() + t.method.ParamsRepresentation()
	if _, err := fmt.Fprintln(w, palette.Header("// "+title)); err != nil {
		return err
	}

	an, err := t.method.Analysis()
	if err != nil {
		return err
	}
	if err := an.Err(); err != nil {
		if _, werr := fmt.Fprintln(w, palette.Error("// stack analysis failed: "+err.Error())); werr != nil {
			return werr
		}
	}

	switch format {
	case formatListing:
		return an.Dump(w, t.module)
	case formatTable:
		return writeTable(w, an, t.module)
	case formatCFG:
		cfg, err := analysis.BuildControlFlowGraph(an.Store())
		if err != nil {
			return err
		}
		return cfg.WriteDOT(w)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func writeTable(w io.Writer, an *analysis.Analysis, names analysis.Names) error {
	s := an.Store()
	var data [][]string
	for _, n := range an.Nodes() {
		in := s.At(n.Handle)
		consumer := ""
		if n.Consumer != il.Nil && n.Consumer != n.Handle {
			consumer = label(s, n.Consumer) + "#" + strconv.Itoa(n.ParamIndex)
		}
		reached := "no"
		if n.Executed() {
			reached = "yes"
		}
		data = append(data, []string{
			label(s, n.Handle),
			in.Op.String(),
			operandText(s, n.Handle, names),
			consumer,
			reached,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Offset", "Opcode", "Operand", "Consumed By", "Reached"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Render()
	return nil
}

func label(s *il.Store, h il.Handle) string {
	in := s.At(h)
	if in == nil || in.Offset < 0 {
		return "IL_----"
	}
	return fmt.Sprintf("IL_%04x", in.Offset)
}

func operandText(s *il.Store, h il.Handle, names analysis.Names) string {
	in := s.At(h)
	kind := in.Op.Info().Operand
	switch {
	case kind == il.InlineNone:
		return ""
	case kind == il.InlineSwitch:
		targets := s.SwitchTargets(h)
		labels := make([]string, len(targets))
		for i, t := range targets {
			labels[i] = label(s, s.At(t).Target)
		}
		return "(" + strings.Join(labels, ", ") + ")"
	case kind.IsBranchTarget():
		return label(s, in.Target)
	case kind.IsToken():
		return tokenText(in.Token(), names)
	case kind == il.ShortInlineR:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(in.Arg))), 'g', -1, 32)
	case kind == il.InlineR:
		return strconv.FormatFloat(math.Float64frombits(in.Arg), 'g', -1, 64)
	default:
		return strconv.FormatInt(in.Int(), 10)
	}
}

func tokenText(tok cil.Token, names analysis.Names) string {
	var name string
	var err error
	switch tok.Table() {
	case cil.TableString:
		name, err = names.UserString(tok)
		if err == nil {
			name = strconv.Quote(name)
		}
	case cil.TableTypeDef, cil.TableTypeRef, cil.TableTypeSpec:
		name, err = names.TypeName(tok)
	case cil.TableMethodDef, cil.TableMemberRef, cil.TableMethodSpec, cil.TableField:
		name, err = names.MemberName(tok)
	default:
		return tok.String()
	}
	if err != nil {
		return tok.String()
	}
	return name
}
