package analyzer

import (
	"go/token"
	"runtime"
	"sort"

	deadlock "github.com/sasha-s/go-deadlock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"
)

// guardID identifies one lock acquisition site: owning function index plus
// per-function sequence number in block walk order.
type guardID struct {
	fn  funcID
	seq int
}

// instrPoint addresses one instruction inside a function.
type instrPoint struct {
	block int
	index int
}

// lockGuard is one acquisition event with its computed lifetime facts.
// Release positions come from matching release calls, deferred releases
// and reassignments of the lock cell; escapes is set by the reachability
// engine when some return is reached with the guard still held, which
// hands release duty to the callers.
type lockGuard struct {
	id         guardID
	kind       lockKind
	owner      *ssa.Function
	acquirePos token.Pos
	releasePos []token.Pos
	escapes    bool

	// recv is the lock reference the acquisition was called on. Promoted
	// calls on embedded locks need no special casing: the SSA builder
	// materializes the implicit field chain, so recv is already the
	// embedded field's address.
	recv ssa.Value

	// localKey is the collector's own normalization of recv, used to match
	// releases and reassignments inside the function. The origin resolver
	// assigns the cross-function classes later.
	localKey   originKey
	localKeyOK bool
}

// guardEvent is one gen or kill point of the dataflow.
type guardEvent struct {
	point instrPoint
	pos   token.Pos
	guard guardID
	gen   bool
}

// condSite is a condition-variable wait or notify call site.
type condSite struct {
	point instrPoint
	pos   token.Pos
	recv  ssa.Value
}

// newCondSite records a sync.NewCond call, linking the created condition
// variable to its lock argument.
type newCondSite struct {
	result  ssa.Value
	lockArg ssa.Value
	pos     token.Pos
}

// releaseSig is one release site described by what it releases rather
// than which guard it matched. Kill events handle the function's own
// guards; these signatures let the dataflow also kill guards inherited
// from callers when the released origin matches. kindInvalid marks a
// reassignment, which releases any kind. matchedOwn is set when the site
// pairs with one of the function's own acquisitions: such a release
// balances the local guard and never acts on a caller's behalf, which
// keeps a callee's own RLock/RUnlock from eating the caller's read hold.
type releaseSig struct {
	point      instrPoint
	pos        token.Pos
	kind       lockKind
	key        originKey
	matchedOwn bool
}

// funcGuards holds everything collected from one function.
type funcGuards struct {
	id     funcID
	fn     *ssa.Function
	guards []*lockGuard

	// events per block, ordered by instruction index; eventIdx addresses
	// them by point for the dataflow's transfer function.
	events   [][]guardEvent
	eventIdx map[instrPoint][]guardEvent

	releases   []releaseSig
	releaseIdx map[instrPoint][]releaseSig

	returns  []instrPoint
	waits    []condSite
	notifies []condSite
	newConds []newCondSite
}

// collectStats tallies constructs the collector skipped. It is shared by
// the parallel per-function walks; the tool guards it with the same
// instrumented mutex family it knows how to analyze.
type collectStats struct {
	mu                deadlock.Mutex
	deferredAcquires  int
	unmatchedReleases int
}

func (s *collectStats) addDeferredAcquire() {
	s.mu.Lock()
	s.deferredAcquires++
	s.mu.Unlock()
}

func (s *collectStats) addUnmatchedRelease() {
	s.mu.Lock()
	s.unmatchedReleases++
	s.mu.Unlock()
}

// collectGuards walks every function of the unit. The walks are
// independent, so they run concurrently with results landing in
// per-function slots; everything downstream consumes the merged slice
// serially.
func collectGuards(graph *callGraph, stats *collectStats) []*funcGuards {
	results := make([]*funcGuards, len(graph.funcs))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, fn := range graph.funcs {
		g.Go(func() error {
			results[i] = collectFunc(funcID(i), fn, stats)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// collectFunc runs the two-pass walk over one function: pass one finds
// acquisitions and condvar sites, pass two matches releases and
// reassignments against the collected guards and lays out the gen/kill
// events.
func collectFunc(id funcID, fn *ssa.Function, stats *collectStats) *funcGuards {
	fg := &funcGuards{
		id:     id,
		fn:     fn,
		events: make([][]guardEvent, len(fn.Blocks)),
	}
	if len(fn.Blocks) == 0 {
		return fg
	}

	// Pass one: acquisitions, condvar sites, returns.
	for bi, block := range fn.Blocks {
		for ii, instr := range block.Instrs {
			point := instrPoint{block: bi, index: ii}
			switch in := instr.(type) {
			case *ssa.Call:
				fg.collectCall(point, in.Common(), in.Pos(), false, in, stats)
			case *ssa.Defer:
				fg.collectCall(point, in.Common(), in.Pos(), true, nil, stats)
			case *ssa.Return:
				fg.returns = append(fg.returns, point)
			}
		}
	}

	// Pass two: releases, deferred releases, reassignment kills.
	var deferKills []deferredKill
	for bi, block := range fn.Blocks {
		for ii, instr := range block.Instrs {
			point := instrPoint{block: bi, index: ii}
			switch in := instr.(type) {
			case *ssa.Call:
				fg.matchRelease(point, in.Common(), in.Pos(), stats)
			case *ssa.Defer:
				if dk, ok := fg.deferredRelease(in.Common(), in.Pos(), stats); ok {
					dk.from = bi
					deferKills = append(deferKills, dk)
				}
			case *ssa.Store:
				fg.matchReassignment(point, in)
			}
		}
	}

	fg.attachDeferKills(deferKills)
	fg.finalizeEvents()
	return fg
}

// collectCall records a guard for catalog acquisitions and notes condvar
// sites. Releases are left for pass two.
func (fg *funcGuards) collectCall(point instrPoint, common *ssa.CallCommon, pos token.Pos, deferred bool, call *ssa.Call, stats *collectStats) {
	if common.IsInvoke() {
		return
	}
	callee := common.StaticCallee()
	if callee == nil {
		return
	}

	if kind, ok := classifyAcquire(callee); ok && len(common.Args) > 0 {
		if deferred {
			// defer mu.Lock() acquires at function exit; nothing this
			// analysis models usefully.
			stats.addDeferredAcquire()
			log.Debugf("collector: deferred acquisition at %v skipped", pos)
			return
		}
		recv := common.Args[0]
		guard := &lockGuard{
			id:         guardID{fn: fg.id, seq: len(fg.guards)},
			kind:       kind,
			owner:      fg.fn,
			acquirePos: pos,
			recv:       recv,
		}
		guard.localKey, guard.localKeyOK = localLockKey(recv)
		fg.guards = append(fg.guards, guard)
		fg.events[point.block] = append(fg.events[point.block], guardEvent{
			point: point, pos: pos, guard: guard.id, gen: true,
		})
		return
	}

	if deferred || call == nil {
		return
	}
	switch {
	case isCondWait(callee):
		fg.waits = append(fg.waits, condSite{point: point, pos: pos, recv: common.Args[0]})
	case isCondNotify(callee):
		fg.notifies = append(fg.notifies, condSite{point: point, pos: pos, recv: common.Args[0]})
	case isNewCond(callee):
		if len(common.Args) == 1 {
			fg.newConds = append(fg.newConds, newCondSite{
				result:  call,
				lockArg: unwrapInterface(common.Args[0]),
				pos:     pos,
			})
		}
	}
}

// matchRelease turns a release call into kill events for every guard of
// the matching kind on the same lock reference.
func (fg *funcGuards) matchRelease(point instrPoint, common *ssa.CallCommon, pos token.Pos, stats *collectStats) {
	kind, ok := classifyReleaseCall(common)
	if !ok {
		return
	}
	key, keyOK := localLockKey(common.Args[0])
	if !keyOK {
		stats.addUnmatchedRelease()
		log.Debugf("collector: release at %v has unresolvable reference", pos)
		return
	}
	matched := fg.killMatching(point, pos, kind, key)
	fg.releases = append(fg.releases, releaseSig{point: point, pos: pos, kind: kind, key: key, matchedOwn: matched})
	if !matched {
		stats.addUnmatchedRelease()
	}
}

// deferredKill is a release registered by a defer, applied where deferred
// calls run.
type deferredKill struct {
	from int // block registering the defer
	kind lockKind
	key  originKey
	pos  token.Pos
}

// deferredRelease classifies a deferred call as a catalog release.
func (fg *funcGuards) deferredRelease(common *ssa.CallCommon, pos token.Pos, stats *collectStats) (deferredKill, bool) {
	kind, ok := classifyReleaseCall(common)
	if !ok {
		return deferredKill{}, false
	}
	key, keyOK := localLockKey(common.Args[0])
	if !keyOK {
		stats.addUnmatchedRelease()
		log.Debugf("collector: deferred release at %v has unresolvable reference", pos)
		return deferredKill{}, false
	}
	return deferredKill{kind: kind, key: key, pos: pos}, true
}

// classifyReleaseCall matches a static call against the release catalog.
func classifyReleaseCall(common *ssa.CallCommon) (lockKind, bool) {
	if common.IsInvoke() {
		return kindInvalid, false
	}
	callee := common.StaticCallee()
	if callee == nil || len(common.Args) == 0 {
		return kindInvalid, false
	}
	return classifyRelease(callee)
}

// matchReassignment kills guards whose lock cell is overwritten while
// potentially held. Overwriting a lock resets its state, so any release
// matched after the store would not release the original acquisition.
func (fg *funcGuards) matchReassignment(point instrPoint, store *ssa.Store) {
	if !isLockCell(store.Addr) {
		return
	}
	key, ok := localLockKey(store.Addr)
	if !ok {
		return
	}
	matched := fg.killMatching(point, store.Pos(), kindInvalid, key)
	fg.releases = append(fg.releases, releaseSig{point: point, pos: store.Pos(), kind: kindInvalid, key: key, matchedOwn: matched})
	if matched {
		log.Debugf("collector: lock reassigned at %v, guard tracking ends there", store.Pos())
	}
}

// killMatching appends kill events for guards matching key (and kind,
// unless kindInvalid which matches any). Reports whether any guard matched.
func (fg *funcGuards) killMatching(point instrPoint, pos token.Pos, kind lockKind, key originKey) bool {
	matched := false
	for _, guard := range fg.guards {
		if kind != kindInvalid && guard.kind != kind {
			continue
		}
		if !guard.localKeyOK || guard.localKey != key {
			continue
		}
		matched = true
		guard.releasePos = append(guard.releasePos, pos)
		fg.events[point.block] = append(fg.events[point.block], guardEvent{
			point: point, pos: pos, guard: guard.id,
		})
	}
	return matched
}

// attachDeferKills places each deferred release at every RunDefers point
// reachable from the block that registered it, falling back to returns
// when the exit path carries no RunDefers.
func (fg *funcGuards) attachDeferKills(kills []deferredKill) {
	if len(kills) == 0 {
		return
	}

	var runDefers []instrPoint
	for bi, block := range fg.fn.Blocks {
		for ii, instr := range block.Instrs {
			if _, ok := instr.(*ssa.RunDefers); ok {
				runDefers = append(runDefers, instrPoint{block: bi, index: ii})
			}
		}
	}
	exitPoints := runDefers
	if len(exitPoints) == 0 {
		exitPoints = fg.returns
	}

	for _, dk := range kills {
		reachable := reachableBlocks(fg.fn, dk.from)
		for _, point := range exitPoints {
			if !reachable[point.block] {
				continue
			}
			matched := fg.killMatching(point, dk.pos, dk.kind, dk.key)
			fg.releases = append(fg.releases, releaseSig{point: point, pos: dk.pos, kind: dk.kind, key: dk.key, matchedOwn: matched})
		}
	}
}

// finalizeEvents restores instruction order within each block after
// deferred kills were appended out of order, then indexes events and
// release signatures by point.
func (fg *funcGuards) finalizeEvents() {
	fg.eventIdx = make(map[instrPoint][]guardEvent)
	for bi := range fg.events {
		events := fg.events[bi]
		sort.SliceStable(events, func(a, b int) bool {
			return events[a].point.index < events[b].point.index
		})
		for _, ev := range events {
			fg.eventIdx[ev.point] = append(fg.eventIdx[ev.point], ev)
		}
	}
	fg.releaseIdx = make(map[instrPoint][]releaseSig)
	for _, rel := range fg.releases {
		fg.releaseIdx[rel.point] = append(fg.releaseIdx[rel.point], rel)
	}
	for _, guard := range fg.guards {
		sort.Slice(guard.releasePos, func(a, b int) bool {
			return guard.releasePos[a] < guard.releasePos[b]
		})
		guard.releasePos = dedupPos(guard.releasePos)
	}
}

// eventsAt returns the gen/kill events at one instruction point.
func (fg *funcGuards) eventsAt(point instrPoint) []guardEvent {
	return fg.eventIdx[point]
}

// releasesAt returns the release signatures at one instruction point.
func (fg *funcGuards) releasesAt(point instrPoint) []releaseSig {
	return fg.releaseIdx[point]
}

// dedupPos compacts a sorted position slice.
func dedupPos(positions []token.Pos) []token.Pos {
	out := positions[:0]
	for i, pos := range positions {
		if i == 0 || pos != positions[i-1] {
			out = append(out, pos)
		}
	}
	return out
}

// reachableBlocks returns the block indices reachable from start,
// including start itself.
func reachableBlocks(fn *ssa.Function, start int) map[int]bool {
	reachable := map[int]bool{start: true}
	queue := []*ssa.BasicBlock{fn.Blocks[start]}
	for len(queue) > 0 {
		block := queue[0]
		queue = queue[1:]
		for _, succ := range block.Succs {
			if reachable[succ.Index] {
				continue
			}
			reachable[succ.Index] = true
			queue = append(queue, succ)
		}
	}
	return reachable
}

// localLockKey normalizes a lock reference for intra-function matching of
// releases and reassignments against acquisitions.
func localLockKey(recv ssa.Value) (originKey, bool) {
	steps, _, ok := extractSteps(recv)
	if !ok {
		return originKey{}, false
	}
	return runOriginAutomaton(steps)
}

// unwrapInterface strips the MakeInterface conversion around a concrete
// value, if present.
func unwrapInterface(v ssa.Value) ssa.Value {
	if mi, ok := v.(*ssa.MakeInterface); ok {
		return mi.X
	}
	return v
}
