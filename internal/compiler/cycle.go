package compiler

import "sort"

// Cycle analysis over the arena dependency graph.
//
// Feedback is a first-class patching idiom, so cycles are not banned
// outright. A strongly connected component is legal iff at least one
// member block breaks combinational cycles (delays, integrators): such a
// block's outputs come from previous-frame state, so no value ever
// depends on itself within a single frame. An SCC with no such member is
// an illegal combinational loop and fails the compile.

// checkCycles runs Tarjan over the graph and returns one IllegalCycleError
// per illegal component, ordered by the smallest node id in each component
// so the report is stable across runs.
func checkCycles(g *depGraph) []error {
	sccs := tarjanSCC(g)

	var illegal [][]int32
	for _, scc := range sccs {
		if len(scc) == 1 && !hasSelfLoop(g, scc[0]) {
			continue
		}
		legal := false
		for _, id := range scc {
			if g.breaks[id] {
				legal = true
				break
			}
		}
		if !legal {
			illegal = append(illegal, scc)
		}
	}

	var errs []error
	for _, scc := range illegal {
		errs = append(errs, &IllegalCycleError{Path: cyclePath(g, scc)})
	}
	return errs
}

// tarjanSCC finds strongly connected components. Components come out
// ordered and internally sorted by node id; single-node components without
// self-loops are included and filtered by the caller.
func tarjanSCC(g *depGraph) [][]int32 {
	n := g.len()
	const unvisited = -1

	var (
		counter int32
		index   = make([]int32, n)
		lowlink = make([]int32, n)
		onStack = make([]bool, n)
		stack   []int32
		sccs    [][]int32
	)
	for i := range index {
		index[i] = unvisited
	}

	var strongConnect func(v int32)
	strongConnect = func(v int32) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.out[v] {
			if index[w] == unvisited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], index[w])
			}
		}

		if lowlink[v] == index[v] {
			var scc []int32
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Slice(scc, func(a, b int) bool { return scc[a] < scc[b] })
			sccs = append(sccs, scc)
		}
	}

	for v := int32(0); v < int32(n); v++ {
		if index[v] == unvisited {
			strongConnect(v)
		}
	}

	// Order components by their smallest member for stable reporting.
	sort.Slice(sccs, func(a, b int) bool { return sccs[a][0] < sccs[b][0] })
	return sccs
}

func hasSelfLoop(g *depGraph, v int32) bool {
	for _, w := range g.out[v] {
		if w == v {
			return true
		}
	}
	return false
}

// cyclePath reconstructs a traversal through the component for the error
// message: node names in dependency order with the start repeated last.
func cyclePath(g *depGraph, scc []int32) []string {
	if len(scc) == 1 {
		name := g.names[scc[0]]
		return []string{name, name}
	}

	member := make(map[int32]bool, len(scc))
	for _, id := range scc {
		member[id] = true
	}

	start := scc[0]
	current := start
	visited := make(map[int32]bool)
	path := []string{g.names[start]}

	for {
		visited[current] = true
		next := int32(-1)
		for _, w := range g.out[current] {
			if member[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next < 0 {
			break
		}
		path = append(path, g.names[next])
		if next == start {
			break
		}
		current = next
	}
	return path
}
