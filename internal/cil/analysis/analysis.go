// Package analysis interprets a method body over a symbolic operand stack to
// find, for every value, the instruction that consumed it and the operand slot
// it filled. Rewrites use this to locate the code that loaded a given call
// argument.
package analysis

import (
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// Env supplies the metadata the interpreter needs about the analyzed method.
type Env interface {
	// MethodSignature returns the signature of the analyzed method.
	MethodSignature() *sig.Signature
	// DeclaringType returns the type that declares the analyzed method.
	DeclaringType() cil.Token
	// MemberSignature returns the signature of a method or field token.
	MemberSignature(tok cil.Token) (*sig.Signature, error)
	// SignatureBlob returns the raw stand-alone signature for tok.
	SignatureBlob(tok cil.Token) ([]byte, error)
}

// Node is the analysis record of one instruction.
type Node struct {
	Handle il.Handle
	// Consumer is the instruction that popped the value this instruction
	// pushed. Instructions whose value is not consumed name themselves.
	Consumer il.Handle
	// ParamIndex is the operand slot the value filled in Consumer, or -1.
	ParamIndex int

	index    int
	executed bool
	pushed   bool
}

func (n *Node) resolve(consumer il.Handle, param int) {
	n.Consumer = consumer
	n.ParamIndex = param
}

// Executed reports whether any path reached the instruction.
func (n *Node) Executed() bool {
	return n.executed
}

// Analysis is the result of interpreting one method body.
type Analysis struct {
	store *il.Store
	env   Env
	nodes []*Node
	index map[il.Handle]*Node
	err   error

	// exception is the value a catch or filter block starts with.
	exception *Node
}

type branch struct {
	at    *Node
	stack []*Node
}

func newBranch(at *Node, stack []*Node) *branch {
	return &branch{at: at, stack: append([]*Node(nil), stack...)}
}

// queue hands out branches in the order they were found. Unless forced, a
// second branch starting at the same instruction is dropped.
type queue struct {
	items []*branch
	seen  map[*Node]bool
}

func (q *queue) add(b *branch, force bool) {
	if b.at == nil {
		return
	}
	if q.seen == nil {
		q.seen = make(map[*Node]bool)
	}
	if !force && q.seen[b.at] {
		return
	}
	q.seen[b.at] = true
	q.items = append(q.items, b)
}

func (q *queue) pop() *branch {
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items = q.items[1:]
	return b
}

// Analyze interprets the body held by s. Failures are recorded on the result;
// see Err.
//
// Interpretation runs in two phases. The first phase walks every path from the
// method entry and each handler entry, stopping a path when it reaches code
// already walked. A path stopped with values still on its stack merges into
// code interpreted earlier; the second phase replays those paths until their
// values are consumed.
func Analyze(s *il.Store, env Env) *Analysis {
	a := &Analysis{
		store:     s,
		env:       env,
		index:     make(map[il.Handle]*Node),
		exception: &Node{Handle: il.Nil, ParamIndex: -1, index: -1},
	}
	for h := s.First(); h != il.Nil; h = s.Next(h) {
		n := &Node{Handle: h, Consumer: il.Nil, ParamIndex: -1, index: len(a.nodes)}
		a.nodes = append(a.nodes, n)
		a.index[h] = n
	}
	if len(a.nodes) == 0 {
		a.err = ErrEmptyBody
		return a
	}

	var pending, merging queue
	pending.add(newBranch(a.nodes[0], nil), false)
	a.addHandlerBranches(&pending)

	for b := pending.pop(); b != nil; b = pending.pop() {
		for b.at != nil && !b.at.executed {
			b.at = a.execute(b.at, b, &pending, false)
		}
		if a.err != nil {
			return a
		}
		if len(b.stack) > 0 {
			merging.add(b, true)
		}
	}

	for b := merging.pop(); b != nil; b = merging.pop() {
		for b.at != nil && len(b.stack) > 0 {
			b.at = a.execute(b.at, b, &pending, true)
		}
		if a.err != nil {
			return a
		}
		if len(b.stack) > 0 {
			a.err = a.fail(b.stack[0], ErrStackExcess)
			return a
		}
	}
	return a
}

func (a *Analysis) addHandlerBranches(q *queue) {
	exStack := []*Node{a.exception}
	for _, r := range a.store.Regions() {
		switch r.Kind {
		case il.RegionFilter:
			q.add(newBranch(a.index[r.Filter], exStack), false)
			q.add(newBranch(a.index[r.HandlerBegin], exStack), false)
		case il.RegionFinally, il.RegionFault:
			q.add(newBranch(a.index[r.HandlerBegin], nil), false)
		default:
			q.add(newBranch(a.index[r.HandlerBegin], exStack), false)
		}
	}
}

func (a *Analysis) fail(n *Node, err error) error {
	se := &StackError{Offset: -1, Err: err}
	if in := a.store.At(n.Handle); in != nil {
		se.Offset, se.Op = in.Offset, in.Op
	}
	return se
}

func (a *Analysis) pop(b *branch, by *Node) *Node {
	if len(b.stack) == 0 {
		a.err = a.fail(by, ErrStackUnderflow)
		return nil
	}
	n := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return n
}

func (a *Analysis) push(b *branch, n *Node, force bool) {
	if !n.pushed || force {
		b.stack = append(b.stack, n)
		n.pushed = true
	}
}

func (a *Analysis) next(n *Node) *Node {
	if n.index+1 < len(a.nodes) {
		return a.nodes[n.index+1]
	}
	return nil
}

func (a *Analysis) prev(n *Node) *Node {
	if n.index > 0 {
		return a.nodes[n.index-1]
	}
	return nil
}

// execute interprets n on b and returns the next instruction of the path, or
// nil when the path ends.
func (a *Analysis) execute(n *Node, b *branch, q *queue, merging bool) *Node {
	n.executed = true
	in := a.store.At(n.Handle)
	info := in.Op.Info()

	switch {
	case in.Op.IsCall():
		s, err := a.callSignature(in)
		if err != nil || s == nil {
			a.err = a.fail(n, ErrMissingSignature)
			return nil
		}
		count := s.EffectiveParamCount()
		first := 0
		if in.Op == il.Newobj {
			// the constructed object is not on the stack yet
			first = 1
		}
		if in.Op == il.Calli {
			fn := a.pop(b, n)
			if fn == nil {
				return nil
			}
			fn.resolve(n.Handle, count)
		}
		for x := count - 1; x >= first; x-- {
			v := a.pop(b, n)
			if v == nil {
				return nil
			}
			v.resolve(n.Handle, x)
		}
		if merging && len(b.stack) == 0 {
			return nil
		}
		if !s.ReturnsVoid() || in.Op == il.Newobj {
			a.push(b, n, merging)
		}

	case in.Op == il.Ret:
		n.resolve(n.Handle, 0)
		if a.env.MethodSignature() != nil && !a.env.MethodSignature().ReturnsVoid() {
			// a trailing ret after a throw is unreachable padding
			if p := a.prev(n); len(b.stack) == 0 && a.next(n) == nil && p != nil && a.store.At(p.Handle).Op == il.Throw {
				return nil
			}
			v := a.pop(b, n)
			if v == nil {
				return nil
			}
			v.resolve(n.Handle, 0)
		}
		return nil

	case in.Op == il.Jmp:
		n.resolve(n.Handle, -1)
		return nil

	case in.Op == il.Dup:
		v := a.pop(b, n)
		if v == nil {
			return nil
		}
		v.resolve(n.Handle, 0)
		a.push(b, v, true)
		a.push(b, n, merging)

	default:
		for x := info.Pop - 1; x >= 0; x-- {
			v := a.pop(b, n)
			if v == nil {
				return nil
			}
			v.resolve(n.Handle, x)
		}
		if merging && len(b.stack) == 0 {
			return nil
		}
		for x := 0; x < info.Push; x++ {
			a.push(b, n, merging)
		}

		switch info.Flow {
		case il.FlowCondBranch:
			if a.next(n) != nil && !merging {
				if in.Op == il.Switch {
					for _, slot := range a.store.SwitchTargets(n.Handle) {
						q.add(newBranch(a.index[a.store.At(slot).Target], b.stack), false)
					}
				} else {
					q.add(newBranch(a.index[in.Target], b.stack), false)
				}
			}
		case il.FlowBranch:
			n.resolve(n.Handle, -1)
			if in.Op == il.Leave || in.Op == il.LeaveS {
				b.stack = b.stack[:0]
			}
			return a.index[in.Target]
		case il.FlowReturn, il.FlowThrow:
			n.resolve(n.Handle, -1)
			if info.Flow == il.FlowThrow {
				b.stack = b.stack[:0]
			}
			return nil
		}
	}

	if !n.pushed {
		n.resolve(n.Handle, -1)
	}
	return a.next(n)
}

// Err returns the interpretation failure, or nil. Errors wrap ErrStackAnalysis.
func (a *Analysis) Err() error {
	return a.err
}

// IsValid reports whether interpretation succeeded.
func (a *Analysis) IsValid() bool {
	return a.err == nil
}

// Unresolved returns the number of instructions no path reached.
func (a *Analysis) Unresolved() int {
	count := 0
	for _, n := range a.nodes {
		if !n.executed {
			count++
		}
	}
	return count
}

// IsResolved reports whether interpretation succeeded and reached every
// instruction.
func (a *Analysis) IsResolved() bool {
	return a.IsValid() && a.Unresolved() == 0
}

// Store returns the analyzed body.
func (a *Analysis) Store() *il.Store {
	return a.store
}

// Node returns the record for h, or nil when h was not part of the body at
// analysis time.
func (a *Analysis) Node(h il.Handle) *Node {
	return a.index[h]
}

// Nodes returns every record in body order.
func (a *Analysis) Nodes() []*Node {
	return a.nodes
}

// LocateCallParamInstructions returns, in body order, the instructions whose
// values filled operand param of call. Operand 0 is the receiver of instance
// calls.
func (a *Analysis) LocateCallParamInstructions(call il.Handle, param int) []il.Handle {
	n := a.index[call]
	if n == nil || param < 0 || !a.store.At(call).Op.IsCall() {
		return nil
	}
	var out []il.Handle
	for i := n.index; i >= 0; i-- {
		if c := a.nodes[i]; c.Consumer == call && c.ParamIndex == param {
			out = append(out, c.Handle)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
