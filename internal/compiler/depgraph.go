package compiler

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

// nodeKind discriminates the two arena node flavors.
type nodeKind uint8

const (
	nodeBlock nodeKind = iota
	nodeBus
)

// depGraph is the integer-indexed dependency graph over blocks and buses.
// Node ids are dense and stable: blocks in declaration order first, then
// buses in declaration order. Every later pass that needs a deterministic
// tiebreak uses these ids.
type depGraph struct {
	kinds  []nodeKind
	names  []string // block id or bus id
	breaks []bool   // block breaks combinational cycles; always false for buses
	out    [][]int32
	in     [][]int32
}

// blockNode returns the arena id for a patch.Blocks index.
func (g *depGraph) blockNode(blockIdx int) int32 { return int32(blockIdx) }

// busNode returns the arena id for a patch.Buses index.
func (g *depGraph) busNode(numBlocks, busIdx int) int32 {
	return int32(numBlocks + busIdx)
}

func (g *depGraph) len() int { return len(g.kinds) }

// buildDepGraph constructs the arena graph from the normalized patch.
// Edges point producer -> consumer:
//
//	wire:      from.Block -> to.Block
//	publisher: from.Block -> bus
//	listener:  bus -> to.Block (skipped when a wire shadows the port)
//
// Duplicate edges are collapsed so Kahn in-degrees stay correct.
func buildDepGraph(p *patch.Patch, n *normalized) *depGraph {
	total := len(p.Blocks) + len(p.Buses)
	g := &depGraph{
		kinds:  make([]nodeKind, total),
		names:  make([]string, total),
		breaks: make([]bool, total),
		out:    make([][]int32, total),
		in:     make([][]int32, total),
	}
	for i, b := range p.Blocks {
		g.kinds[i] = nodeBlock
		g.names[i] = b.ID
		g.breaks[i] = n.types[i].BreaksCombinationalCycle
	}
	for i, bus := range p.Buses {
		id := g.busNode(len(p.Blocks), i)
		g.kinds[id] = nodeBus
		g.names[id] = bus.ID
	}

	seen := make(map[[2]int32]bool)
	addEdge := func(from, to int32) {
		// Self-edges are kept: they matter for cycle legality.
		key := [2]int32{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		g.out[from] = append(g.out[from], to)
		g.in[to] = append(g.in[to], from)
	}

	for _, w := range p.Wires {
		addEdge(g.blockNode(n.blockIdx[w.From.Block]), g.blockNode(n.blockIdx[w.To.Block]))
	}
	for _, pub := range p.Publishers {
		busID := g.busNode(len(p.Blocks), n.busIdx[pub.Bus])
		addEdge(g.blockNode(n.blockIdx[pub.From.Block]), busID)
	}
	for _, l := range p.Listeners {
		if _, shadowed := n.wireIn[l.To]; shadowed {
			continue
		}
		busID := g.busNode(len(p.Blocks), n.busIdx[l.Bus])
		addEdge(busID, g.blockNode(n.blockIdx[l.To.Block]))
	}

	// Deterministic adjacency order regardless of map-driven insertion.
	for i := range g.out {
		sort.Slice(g.out[i], func(a, b int) bool { return g.out[i][a] < g.out[i][b] })
		sort.Slice(g.in[i], func(a, b int) bool { return g.in[i][a] < g.in[i][b] })
	}
	return g
}

// topoOrder produces the evaluation order via Kahn's algorithm. Cycle
// legality has already been established, so edges into cycle-breaking
// blocks are dropped first: a delay reads previous-frame state, not this
// frame's value, so nothing has to run before it. Ties resolve by minimum
// node id, which makes the schedule a pure function of the patch.
func topoOrder(g *depGraph) ([]ir.NodeID, error) {
	n := g.len()
	indeg := make([]int, n)
	for to := 0; to < n; to++ {
		if g.breaks[to] {
			continue
		}
		indeg[to] = len(g.in[to])
	}

	ready := &nodeHeap{}
	heap.Init(ready)
	for id := 0; id < n; id++ {
		if indeg[id] == 0 {
			heap.Push(ready, int32(id))
		}
	}

	order := make([]ir.NodeID, 0, n)
	for ready.Len() > 0 {
		id := heap.Pop(ready).(int32)
		order = append(order, ir.NodeID(id))
		for _, succ := range g.out[id] {
			if g.breaks[succ] {
				continue
			}
			indeg[succ]--
			if indeg[succ] == 0 {
				heap.Push(ready, succ)
			}
		}
	}
	if len(order) != n {
		// Unreachable once checkCycles has passed; kept as an internal guard.
		return nil, fmt.Errorf("internal: topological sort left %d nodes unordered", n-len(order))
	}
	return order, nil
}

// nodeHeap is a min-heap of arena node ids.
type nodeHeap []int32

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(int32)) }
func (h *nodeHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
