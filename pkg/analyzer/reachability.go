package analyzer

import (
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ssa"
)

// liveSet maps guards possibly held at a program point to the minimum
// number of call-edge hops each crossed to reach it. The hop count is what
// the chain depth cap cuts off.
type liveSet map[guardID]int

func (s liveSet) clone() liveSet {
	out := make(liveSet, len(s))
	for id, hops := range s {
		out[id] = hops
	}
	return out
}

// merge adds a guard or lowers its hop count, reporting whether the set
// changed. Keeping the minimum keeps the fixpoint monotone.
func (s liveSet) merge(id guardID, hops int) bool {
	if cur, ok := s[id]; ok && cur <= hops {
		return false
	}
	s[id] = hops
	return true
}

// sortedIDs returns the guards in deterministic order.
func (s liveSet) sortedIDs() []guardID {
	ids := make([]guardID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return lessGuardID(ids[a], ids[b]) })
	return ids
}

func lessGuardID(a, b guardID) bool {
	if a.fn != b.fn {
		return a.fn < b.fn
	}
	return a.seq < b.seq
}

// relation is one ordered reachability fact: guard a may still be held
// when guard b is acquired.
type relation struct {
	a, b guardID
}

// reachabilityEngine runs the Gen/Kill dataflow over the call graph. It
// stays single-threaded: the merge into shared contexts, escape sets and
// the relation list needs one globally consistent view.
type reachabilityEngine struct {
	cfg   *config
	graph *callGraph
	funcs []*funcGuards
	res   *originResolver

	// contexts hold each function's entry live set, the union over its
	// call sites. escapes hold guards still live at a function's returns
	// beyond its inherited context; callers merge them back in after the
	// call site. survivors hold the inherited guards seen live at some
	// return: an inherited guard absent from its callee's survivor set was
	// released on every path through the callee, so the caller drops it
	// after the call.
	contexts  map[funcID]liveSet
	escapes   map[funcID]liveSet
	survivors map[funcID]liveSet

	visits         map[funcID]int
	visitTruncated map[funcID]bool
	depthTruncated map[funcID]bool

	relations []relation
	seen      map[relation]bool

	// watch points are call sites whose live sets another detector wants;
	// snapshots accumulate the union over every analysis pass.
	watch     map[funcID]map[instrPoint]bool
	siteLive  map[funcID]map[instrPoint]liveSet
	watchWant bool
}

func newReachabilityEngine(cfg *config, graph *callGraph, funcs []*funcGuards, res *originResolver) *reachabilityEngine {
	e := &reachabilityEngine{
		cfg:            cfg,
		graph:          graph,
		funcs:          funcs,
		res:            res,
		contexts:       make(map[funcID]liveSet),
		escapes:        make(map[funcID]liveSet),
		survivors:      make(map[funcID]liveSet),
		visits:         make(map[funcID]int),
		visitTruncated: make(map[funcID]bool),
		depthTruncated: make(map[funcID]bool),
		seen:           make(map[relation]bool),
		watch:          make(map[funcID]map[instrPoint]bool),
		siteLive:       make(map[funcID]map[instrPoint]liveSet),
	}
	for i := range funcs {
		e.contexts[funcID(i)] = make(liveSet)
		e.escapes[funcID(i)] = make(liveSet)
		e.survivors[funcID(i)] = make(liveSet)
	}
	if cfg.detectors.condvarMisuse {
		e.watchWant = true
		for i, fg := range funcs {
			points := make(map[instrPoint]bool)
			for _, site := range fg.waits {
				points[site.point] = true
			}
			for _, site := range fg.notifies {
				points[site.point] = true
			}
			if len(points) > 0 {
				e.watch[funcID(i)] = points
				e.siteLive[funcID(i)] = make(map[instrPoint]liveSet)
			}
		}
	}
	return e
}

// run drives the interprocedural fixpoint. Every function is seeded once;
// context or escape growth re-queues the affected functions until nothing
// changes or the per-function visit cap cuts the loop.
func (e *reachabilityEngine) run() {
	n := len(e.funcs)
	queue := make([]funcID, 0, n)
	inQueue := make([]bool, n)
	for i := 0; i < n; i++ {
		queue = append(queue, funcID(i))
		inQueue[i] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		inQueue[id] = false

		if e.visits[id] >= e.cfg.visitCap {
			if !e.visitTruncated[id] {
				e.visitTruncated[id] = true
				log.Infof("reachability: visit cap %d reached for %s, truncating with partial results",
					e.cfg.visitCap, e.funcs[id].fn)
				// Callers stop trusting this function's survivor set.
				for _, caller := range e.graph.callers(id) {
					if !inQueue[caller] {
						inQueue[caller] = true
						queue = append(queue, caller)
					}
				}
			}
			continue
		}
		e.visits[id]++

		for _, next := range e.analyzeFunc(id) {
			if !inQueue[next] {
				inQueue[next] = true
				queue = append(queue, next)
			}
		}
	}
}

// analyzeFunc runs the intraprocedural block worklist for one function
// under its current entry context and returns the functions whose contexts
// or escape sets grew, in deterministic order.
func (e *reachabilityEngine) analyzeFunc(id funcID) []funcID {
	fg := e.funcs[id]
	fn := fg.fn
	if len(fn.Blocks) == 0 {
		return nil
	}

	changed := make(map[funcID]bool)

	blockIn := make([]liveSet, len(fn.Blocks))
	blockIn[0] = e.contexts[id].clone()

	queue := []int{0}
	inQueue := make([]bool, len(fn.Blocks))
	inQueue[0] = true

	pops := 0
	for len(queue) > 0 {
		if pops >= e.cfg.visitCap {
			if !e.visitTruncated[id] {
				e.visitTruncated[id] = true
				log.Infof("reachability: block visit cap %d reached in %s, truncating with partial results",
					e.cfg.visitCap, fn)
				for _, caller := range e.graph.callers(id) {
					changed[caller] = true
				}
			}
			break
		}
		pops++

		bi := queue[0]
		queue = queue[1:]
		inQueue[bi] = false

		state := blockIn[bi].clone()
		e.transferBlock(id, fg, bi, state, changed)

		for _, succ := range fn.Blocks[bi].Succs {
			si := succ.Index
			// A block's first sighting queues it even with nothing to
			// merge, or acquisitions past an empty entry would never run.
			grew := blockIn[si] == nil
			if grew {
				blockIn[si] = make(liveSet)
			}
			for gid, hops := range state {
				if blockIn[si].merge(gid, hops) {
					grew = true
				}
			}
			if grew && !inQueue[si] {
				inQueue[si] = true
				queue = append(queue, si)
			}
		}
	}

	out := make([]funcID, 0, len(changed))
	for next := range changed {
		out = append(out, next)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// transferBlock applies one block's instructions to state: kills before
// gens at each point, relation recording at gens, context hand-off at call
// edges, escape merge-back after calls, and escape collection at returns.
func (e *reachabilityEngine) transferBlock(id funcID, fg *funcGuards, bi int, state liveSet, changed map[funcID]bool) {
	fn := fg.fn
	for ii, instr := range fn.Blocks[bi].Instrs {
		point := instrPoint{block: bi, index: ii}

		for _, ev := range fg.eventsAt(point) {
			if !ev.gen {
				delete(state, ev.guard)
			}
		}
		e.killInherited(id, fg, point, state)
		for _, ev := range fg.eventsAt(point) {
			if ev.gen {
				e.recordRelations(state, ev.guard)
				state[ev.guard] = 0
			}
		}

		if e.watchWant && e.watch[id][point] {
			e.snapshotSite(id, point, state)
		}

		switch call := instr.(type) {
		case *ssa.Call:
			e.propagateCall(id, call.Common(), state, changed, false)
		case *ssa.Defer:
			e.propagateCall(id, call.Common(), state, changed, true)
		case *ssa.Return:
			e.collectEscapes(id, state, changed)
		}
	}
}

// killInherited drops guards inherited from callers when a release site
// frees the same origin: an Unlock in a helper really does release the
// caller's acquisition. Releases balancing one of the function's own
// acquisitions stay local, and a function's own guards are killed by
// their exact events either way. Reassignments end tracking regardless,
// since the overwritten cell no longer holds the lock anyone acquired.
func (e *reachabilityEngine) killInherited(id funcID, fg *funcGuards, point instrPoint, state liveSet) {
	for _, rel := range fg.releasesAt(point) {
		if rel.matchedOwn && rel.kind != kindInvalid {
			continue
		}
		for gid := range state {
			if gid.fn == id {
				continue
			}
			guard := e.funcs[gid.fn].guards[gid.seq]
			if rel.kind != kindInvalid && guard.kind != rel.kind {
				continue
			}
			key, ok := e.res.keyOf(gid)
			if !ok || key != rel.key {
				continue
			}
			delete(state, gid)
		}
	}
}

// recordRelations pairs every currently live guard with the newly
// generated one, in sorted order so discovery order is reproducible.
func (e *reachabilityEngine) recordRelations(state liveSet, gen guardID) {
	for _, held := range state.sortedIDs() {
		rel := relation{a: held, b: gen}
		if e.seen[rel] {
			continue
		}
		e.seen[rel] = true
		e.relations = append(e.relations, rel)
	}
}

// propagateCall hands the current live set to a callee inside the unit,
// drops guards the callee releases on every path, and merges the callee's
// escaping guards back into the caller's state. Guards at the depth cap
// stop propagating, trading recall for bounded work.
func (e *reachabilityEngine) propagateCall(id funcID, common *ssa.CallCommon, state liveSet, changed map[funcID]bool, deferred bool) {
	if common.IsInvoke() {
		return
	}
	static := common.StaticCallee()
	if static == nil {
		return
	}
	callee, ok := e.graph.id(static)
	if !ok {
		return
	}

	ctx := e.contexts[callee]
	for gid, hops := range state {
		if hops+1 > e.cfg.chainDepth {
			if !e.depthTruncated[id] {
				e.depthTruncated[id] = true
				log.Infof("reachability: chain depth cap %d reached in %s, deeper propagation dropped",
					e.cfg.chainDepth, e.funcs[id].fn)
			}
			continue
		}
		if ctx.merge(gid, hops+1) {
			changed[callee] = true
		}
	}

	// A guard handed to the callee that no return sees anymore was
	// released inside the call. Deferred callees run at function exit,
	// not here, and truncated callees have unreliable survivor sets;
	// neither releases anything on the caller's behalf at this point.
	if !deferred && len(static.Blocks) > 0 && !e.visitTruncated[callee] {
		surv := e.survivors[callee]
		for gid, hops := range state {
			if hops+1 > e.cfg.chainDepth {
				continue
			}
			if _, ok := surv[gid]; !ok {
				delete(state, gid)
			}
		}
	}

	for gid, hops := range e.escapes[callee] {
		if hops+1 > e.cfg.chainDepth {
			continue
		}
		state.merge(gid, hops+1)
	}
}

// collectEscapes records guards still live at a return that were not part
// of the function's inherited context; callers must treat them as live
// past the call.
func (e *reachabilityEngine) collectEscapes(id funcID, state liveSet, changed map[funcID]bool) {
	esc := e.escapes[id]
	ctx := e.contexts[id]
	grew := false
	for gid, hops := range state {
		if _, inherited := ctx[gid]; inherited {
			if e.survivors[id].merge(gid, hops) {
				grew = true
			}
			continue
		}
		if esc.merge(gid, hops) {
			grew = true
		}
	}
	if grew {
		for _, caller := range e.graph.callers(id) {
			changed[caller] = true
		}
	}
}

// snapshotSite accumulates the union of live sets seen at a watch point.
func (e *reachabilityEngine) snapshotSite(id funcID, point instrPoint, state liveSet) {
	sites := e.siteLive[id]
	set := sites[point]
	if set == nil {
		set = make(liveSet)
		sites[point] = set
	}
	for gid, hops := range state {
		set.merge(gid, hops)
	}
}

// markEscapingGuards sets the escapes flag on guards their own function
// lets out through a return.
func (e *reachabilityEngine) markEscapingGuards() {
	for id, esc := range e.escapes {
		fg := e.funcs[id]
		for gid := range esc {
			if gid.fn == id {
				fg.guards[gid.seq].escapes = true
			}
		}
	}
}

// liveAt returns the accumulated live set of a watch point.
func (e *reachabilityEngine) liveAt(id funcID, point instrPoint) liveSet {
	sites, ok := e.siteLive[id]
	if !ok {
		return nil
	}
	return sites[point]
}
