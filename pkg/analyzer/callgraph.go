package analyzer

import (
	"go/token"
	"sort"

	"golang.org/x/tools/go/ssa"
)

// funcID is an index into the call graph's node arena. Nodes are created
// in source-function order, so identical inputs always produce identical
// numbering.
type funcID int

// callSite is one resolved call occurrence, an edge of the call graph.
type callSite struct {
	caller funcID
	callee funcID
	pos    token.Pos
}

// unresolvedCall marks a call whose callee could not be determined
// statically (interface dispatch, function values). These contribute no
// edges; they bound recall, they are not errors.
type unresolvedCall struct {
	caller funcID
	pos    token.Pos
}

// callGraph is an arena-backed directed multigraph over one unit's
// functions. Cycles, including self-edges from direct recursion, are
// representable; all traversal is by explicit worklist, never recursion
// over the graph itself.
type callGraph struct {
	funcs []*ssa.Function
	ids   map[*ssa.Function]funcID

	out        [][]callSite // caller → edges, in discovery order
	in         [][]funcID   // callee → deduplicated caller ids, ascending
	unresolved []unresolvedCall
}

// buildCallGraph indexes srcFuncs and scans their bodies for direct call
// and deferred-call edges. Calls to functions outside the unit carry no
// edge: cross-unit propagation is out of scope, and lock-API calls are the
// collector's business. Goroutine launches contribute no edge either,
// since the spawned function does not run under the caller's held locks on
// the caller's own path.
func buildCallGraph(srcFuncs []*ssa.Function) *callGraph {
	g := &callGraph{
		funcs: srcFuncs,
		ids:   make(map[*ssa.Function]funcID, len(srcFuncs)),
	}
	for i, fn := range srcFuncs {
		g.ids[fn] = funcID(i)
	}
	g.out = make([][]callSite, len(srcFuncs))
	g.in = make([][]funcID, len(srcFuncs))

	inSets := make([]map[funcID]bool, len(srcFuncs))

	for i, fn := range srcFuncs {
		caller := funcID(i)
		for _, block := range fn.Blocks {
			for _, instr := range block.Instrs {
				var common *ssa.CallCommon
				switch call := instr.(type) {
				case *ssa.Call:
					common = call.Common()
				case *ssa.Defer:
					common = call.Common()
				default:
					continue
				}

				if common.IsInvoke() {
					g.unresolved = append(g.unresolved, unresolvedCall{caller: caller, pos: instr.Pos()})
					continue
				}
				callee := common.StaticCallee()
				if callee == nil {
					g.unresolved = append(g.unresolved, unresolvedCall{caller: caller, pos: instr.Pos()})
					continue
				}
				calleeID, ok := g.ids[callee]
				if !ok {
					continue
				}

				g.out[caller] = append(g.out[caller], callSite{
					caller: caller,
					callee: calleeID,
					pos:    instr.Pos(),
				})
				if inSets[calleeID] == nil {
					inSets[calleeID] = make(map[funcID]bool)
				}
				inSets[calleeID][caller] = true
			}
		}
	}

	for i, set := range inSets {
		for id := range set {
			g.in[i] = append(g.in[i], id)
		}
		sort.Slice(g.in[i], func(a, b int) bool { return g.in[i][a] < g.in[i][b] })
	}

	return g
}

func (g *callGraph) fn(id funcID) *ssa.Function { return g.funcs[id] }

func (g *callGraph) id(fn *ssa.Function) (funcID, bool) {
	id, ok := g.ids[fn]
	return id, ok
}

// callers returns the ids of functions with an edge into id, ascending.
func (g *callGraph) callers(id funcID) []funcID { return g.in[id] }

// sitesBetween returns every call-site position on edges caller → callee,
// sorted, for call-chain evidence.
func (g *callGraph) sitesBetween(caller, callee funcID) []token.Pos {
	var sites []token.Pos
	for _, cs := range g.out[caller] {
		if cs.callee == callee {
			sites = append(sites, cs.pos)
		}
	}
	sort.Slice(sites, func(a, b int) bool { return sites[a] < sites[b] })
	return sites
}

// shortestChain finds the shortest call path from a to b with at most
// maxHops edges, by breadth-first search expanding edges in discovery
// order so ties break identically run to run. Each returned hop carries
// every call-site position on that edge. Searching a == b yields no hops.
func (g *callGraph) shortestChain(a, b funcID, maxHops int) ([][]token.Pos, bool) {
	if a == b {
		return nil, true
	}
	if maxHops <= 0 {
		return nil, false
	}

	type visit struct {
		id   funcID
		dist int
	}
	parent := make(map[funcID]funcID)
	seen := map[funcID]bool{a: true}
	queue := []visit{{id: a}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.dist >= maxHops {
			continue
		}
		for _, cs := range g.out[cur.id] {
			if seen[cs.callee] {
				continue
			}
			seen[cs.callee] = true
			parent[cs.callee] = cur.id
			if cs.callee == b {
				return g.chainFromParents(parent, a, b), true
			}
			queue = append(queue, visit{id: cs.callee, dist: cur.dist + 1})
		}
	}
	return nil, false
}

// chainFromParents reconstructs the hop list of a BFS path.
func (g *callGraph) chainFromParents(parent map[funcID]funcID, a, b funcID) [][]token.Pos {
	var nodes []funcID
	for cur := b; ; {
		nodes = append(nodes, cur)
		if cur == a {
			break
		}
		cur = parent[cur]
	}

	var hops [][]token.Pos
	for i := len(nodes) - 1; i > 0; i-- {
		hops = append(hops, g.sitesBetween(nodes[i], nodes[i-1]))
	}
	return hops
}
