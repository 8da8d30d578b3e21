package analyzer

import "strconv"

// The conflict graph links ordered acquisition pairs that can chain into a
// wait cycle. An edge P→Q means the lock P acquired second is the lock Q
// holds first, so a thread inside P can block a thread inside Q. A simple
// cycle in this graph is a set of paths that can all block each other.

type conflictGraph struct {
	pairs []candidatePair
	out   [][]int
}

// buildConflictGraph wires candidate pairs together. P→Q requires P's
// second guard and Q's first guard to share an origin and their kinds to
// conflict. Self edges cannot occur: a pair whose own guards share an
// origin was already routed to the double-lock detector.
func buildConflictGraph(pairs []candidatePair, funcs []*funcGuards, res *originResolver) *conflictGraph {
	g := &conflictGraph{
		pairs: pairs,
		out:   make([][]int, len(pairs)),
	}
	kind := func(id guardID) lockKind {
		return funcs[id.fn].guards[id.seq].kind
	}
	for i := range pairs {
		for j := range pairs {
			if i == j {
				continue
			}
			if !canConflict(kind(pairs[i].b), kind(pairs[j].a)) {
				continue
			}
			if !res.sameOrigin(pairs[i].b, pairs[j].a) {
				continue
			}
			g.out[i] = append(g.out[i], j)
		}
	}
	return g
}

// cycles enumerates the simple cycles of length at least two, one entry
// per cycle no matter how many back edges expose it or where the DFS
// happened to enter it.
func (g *conflictGraph) cycles() [][]int {
	const (
		white = iota // unvisited
		gray         // in current DFS path
		black        // fully processed
	)

	color := make([]int, len(g.pairs))
	var backEdges [][2]int

	var dfs func(n int)
	dfs = func(n int) {
		color[n] = gray
		for _, m := range g.out[n] {
			switch color[m] {
			case white:
				dfs(m)
			case gray:
				backEdges = append(backEdges, [2]int{n, m})
			}
		}
		color[n] = black
	}
	for n := range g.pairs {
		if color[n] == white {
			dfs(n)
		}
	}

	// Every cycle contains a back edge, and every simple path from a back
	// edge's target to its source closes exactly one cycle through it.
	var found [][]int
	for _, be := range backEdges {
		g.simplePaths(be[1], be[0], func(path []int) {
			found = append(found, append([]int(nil), path...))
		})
	}
	return dedupCycles(found)
}

// simplePaths emits every simple path from one node to another. The path
// slice passed to emit is reused between calls.
func (g *conflictGraph) simplePaths(from, to int, emit func([]int)) {
	onPath := make([]bool, len(g.pairs))
	var path []int

	var walk func(n int)
	walk = func(n int) {
		path = append(path, n)
		onPath[n] = true
		if n == to {
			emit(path)
		} else {
			for _, m := range g.out[n] {
				if !onPath[m] {
					walk(m)
				}
			}
		}
		onPath[n] = false
		path = path[:len(path)-1]
	}
	walk(from)
}

// dedupCycles keeps one representative per cycle, canonicalized to the
// rotation starting at the smallest node so rediscoveries from other
// entry points collapse onto it.
func dedupCycles(cycles [][]int) [][]int {
	seen := make(map[string]bool)
	var result [][]int

	for _, cyc := range cycles {
		if len(cyc) < 2 {
			continue
		}
		minIdx := 0
		for i := 1; i < len(cyc); i++ {
			if cyc[i] < cyc[minIdx] {
				minIdx = i
			}
		}
		key := ""
		rotated := make([]int, 0, len(cyc))
		for i := 0; i < len(cyc); i++ {
			n := cyc[(minIdx+i)%len(cyc)]
			key += strconv.Itoa(n) + ";"
			rotated = append(rotated, n)
		}
		if !seen[key] {
			seen[key] = true
			result = append(result, rotated)
		}
	}

	return result
}
