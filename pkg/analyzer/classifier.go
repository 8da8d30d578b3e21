package analyzer

// The pair classifier turns raw reachability relations into findings. A
// relation (a, b) says a may still be held when b is acquired. Whether
// that is a bug depends on the two kinds and on whether the resolver
// judges the guards to name the same lock: re-acquiring the same lock
// blocks on its own, while acquiring a different one only contributes an
// ordering edge to the conflict graph.

// classifyRelations splits relations into double-lock findings and
// conflict-graph candidates. Pairs whose kinds can be held concurrently
// (two shared readers) are dropped, as are pairs rooted in modules the
// configuration excludes. Relation order is preserved so reports come out
// deterministic.
func classifyRelations(relations []relation, funcs []*funcGuards, res *originResolver, graph *callGraph, chainDepth int) (doubles, candidates []candidatePair) {
	for _, rel := range relations {
		a := funcs[rel.a.fn].guards[rel.a.seq]
		b := funcs[rel.b.fn].guards[rel.b.seq]

		// One acquisition seen through two calling contexts produces a
		// relation with itself; that is not a pair.
		if a.acquirePos == b.acquirePos {
			continue
		}
		if !canConflict(a.kind, b.kind) {
			continue
		}
		if res.excluded(rel.a) || res.excluded(rel.b) {
			continue
		}

		pair := candidatePair{a: rel.a, b: rel.b}
		pair.chain, pair.hasChain = graph.shortestChain(rel.a.fn, rel.b.fn, chainDepth)

		if res.sameOrigin(rel.a, rel.b) {
			doubles = append(doubles, pair)
		} else {
			candidates = append(candidates, pair)
		}
	}
	return doubles, candidates
}
