package analysis

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"github.com/isseis/go-iast-weaver/internal/cil/il"
)

// EdgeKind labels a control-flow edge.
type EdgeKind string

// Edge kinds
const (
	EdgeFallthrough EdgeKind = "fallthrough"
	EdgeTaken       EdgeKind = "taken"
	EdgeException   EdgeKind = "exception"
)

// Block is a basic block: a maximal run of instructions entered only at its
// first instruction.
type Block struct {
	ID     int
	Instrs []il.Handle
}

// First returns the leading instruction.
func (b *Block) First() il.Handle { return b.Instrs[0] }

// Last returns the terminating instruction.
func (b *Block) Last() il.Handle { return b.Instrs[len(b.Instrs)-1] }

// ControlFlowGraph partitions a body into basic blocks linked by fallthrough,
// branch and exception edges.
type ControlFlowGraph struct {
	Blocks []*Block
	g      graph.Graph[int, int]
	owner  map[il.Handle]int
}

// BuildControlFlowGraph computes the basic blocks of s.
func BuildControlFlowGraph(s *il.Store) (*ControlFlowGraph, error) {
	handles := s.Handles()
	if len(handles) == 0 {
		return nil, ErrEmptyBody
	}

	leaders := map[il.Handle]bool{handles[0]: true}
	for i, h := range handles {
		in := s.At(h)
		info := in.Op.Info()
		switch info.Flow {
		case il.FlowBranch, il.FlowCondBranch:
			if in.Op == il.Switch {
				for _, slot := range s.SwitchTargets(h) {
					leaders[s.At(slot).Target] = true
				}
			} else {
				leaders[in.Target] = true
			}
		}
		if endsBlock(info.Flow) && i+1 < len(handles) {
			next := handles[i+1]
			if in.Op == il.Switch {
				// the jump table belongs to the switch
				next = afterSwitch(s, h)
			}
			if next != il.Nil {
				leaders[next] = true
			}
		}
	}
	for _, r := range s.Regions() {
		for _, h := range []il.Handle{r.TryBegin, r.HandlerBegin, r.Filter, s.Next(r.TryLast), s.Next(r.HandlerLast)} {
			if h != il.Nil {
				leaders[h] = true
			}
		}
	}

	cfg := &ControlFlowGraph{
		g:     graph.New(graph.IntHash, graph.Directed()),
		owner: make(map[il.Handle]int, len(handles)),
	}
	var cur *Block
	for _, h := range handles {
		if leaders[h] || cur == nil {
			cur = &Block{ID: len(cfg.Blocks)}
			cfg.Blocks = append(cfg.Blocks, cur)
		}
		cur.Instrs = append(cur.Instrs, h)
		cfg.owner[h] = cur.ID
	}

	for _, b := range cfg.Blocks {
		in := s.At(b.First())
		label := fmt.Sprintf("IL_%04x", in.Offset)
		if err := cfg.g.AddVertex(b.ID, graph.VertexAttribute("label", label)); err != nil {
			return nil, fmt.Errorf("failed to add block %d: %w", b.ID, err)
		}
	}
	for _, b := range cfg.Blocks {
		lastH := b.Last()
		// jump table slots hang off their switch
		for lastH != il.Nil && s.At(lastH).Op == il.SwitchArg {
			lastH = s.Prev(lastH)
		}
		last := s.At(lastH)
		info := last.Op.Info()
		if info.Flow == il.FlowBranch || info.Flow == il.FlowCondBranch {
			if last.Op == il.Switch {
				for _, slot := range s.SwitchTargets(lastH) {
					if err := cfg.link(b.ID, s.At(slot).Target, EdgeTaken); err != nil {
						return nil, err
					}
				}
			} else if err := cfg.link(b.ID, last.Target, EdgeTaken); err != nil {
				return nil, err
			}
		}
		if info.Flow != il.FlowBranch && info.Flow != il.FlowReturn && info.Flow != il.FlowThrow {
			if b.ID+1 < len(cfg.Blocks) {
				if err := cfg.addEdge(b.ID, b.ID+1, EdgeFallthrough); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, r := range s.Regions() {
		handlers := []il.Handle{r.HandlerBegin}
		if r.Kind == il.RegionFilter {
			handlers = append(handlers, r.Filter)
		}
		for _, h := range handlers {
			if err := cfg.link(cfg.owner[r.TryBegin], h, EdgeException); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}

func endsBlock(f il.Flow) bool {
	switch f {
	case il.FlowBranch, il.FlowCondBranch, il.FlowReturn, il.FlowThrow:
		return true
	}
	return false
}

func afterSwitch(s *il.Store, h il.Handle) il.Handle {
	slots := s.SwitchTargets(h)
	if len(slots) == 0 {
		return s.Next(h)
	}
	return s.Next(slots[len(slots)-1])
}

func (c *ControlFlowGraph) link(from int, target il.Handle, kind EdgeKind) error {
	to, ok := c.owner[target]
	if !ok {
		return fmt.Errorf("%w: block %d jumps outside the body", il.ErrInvalidBranchTarget, from)
	}
	return c.addEdge(from, to, kind)
}

func (c *ControlFlowGraph) addEdge(from, to int, kind EdgeKind) error {
	err := c.g.AddEdge(from, to, graph.EdgeAttribute("label", string(kind)))
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return fmt.Errorf("failed to link block %d to %d: %w", from, to, err)
	}
	return nil
}

// BlockOf returns the block holding h.
func (c *ControlFlowGraph) BlockOf(h il.Handle) (*Block, bool) {
	id, ok := c.owner[h]
	if !ok {
		return nil, false
	}
	return c.Blocks[id], true
}

// Successors returns the IDs of the blocks reachable in one step from id.
func (c *ControlFlowGraph) Successors(id int) ([]int, error) {
	adj, err := c.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(adj[id]))
	for to := range adj[id] {
		out = append(out, to)
	}
	sort.Ints(out)
	return out, nil
}

// Unreachable returns the IDs of blocks no path from the entry reaches.
// Handlers are entered through their exception edges.
func (c *ControlFlowGraph) Unreachable() ([]int, error) {
	seen := make(map[int]bool, len(c.Blocks))
	err := graph.DFS(c.g, 0, func(id int) bool {
		seen[id] = true
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk control flow: %w", err)
	}
	var out []int
	for _, b := range c.Blocks {
		if !seen[b.ID] {
			out = append(out, b.ID)
		}
	}
	return out, nil
}

// WriteDOT renders the graph in Graphviz DOT format.
func (c *ControlFlowGraph) WriteDOT(w io.Writer) error {
	return draw.DOT(c.g, w)
}
