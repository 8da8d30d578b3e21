package analyzer

import (
	"go/token"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// The condition-variable detector flags missed wakeups. Wait releases
// only the cond's own lock while it parks, so a second lock held around
// the Wait stays held; if the notifying side must take that second lock
// before it can Signal or Broadcast, the wakeup never arrives.

// condUse is a Wait or notify call site with its cond's resolved origin.
type condUse struct {
	fn    funcID
	point instrPoint
	pos   token.Pos
	key   originKey
	ok    bool
}

// condFinding keys one reported (wait, notify, held lock) triple.
type condFinding struct {
	waitPos   token.Pos
	notifyPos token.Pos
	held      originKey
}

// checkCondvars pairs Wait sites with Signal and Broadcast sites on the
// same condition variable and reports any lock held on both sides other
// than the cond's own.
func (ctx *passContext) checkCondvars() {
	var waits, notifies []condUse
	condLocks := make(map[originKey]originKey) // cond origin → its lock's origin
	pathLinks := make(map[string]string)       // cond field path → lock field path under the same root

	for _, fg := range ctx.funcs {
		for _, w := range fg.waits {
			key, ok := localLockKey(w.recv)
			waits = append(waits, condUse{fn: fg.id, point: w.point, pos: w.pos, key: key, ok: ok})
		}
		for _, n := range fg.notifies {
			key, ok := localLockKey(n.recv)
			notifies = append(notifies, condUse{fn: fg.id, point: n.point, pos: n.pos, key: key, ok: ok})
		}
		for _, nc := range fg.newConds {
			lockKey, ok := localLockKey(nc.lockArg)
			if !ok {
				continue
			}
			for _, condKey := range condKeysFor(nc.result) {
				condLocks[condKey] = lockKey
				cell := condCellKey(condKey)
				if cell.class != lockKey.class || cell.ident != lockKey.ident || cell.path == "" {
					continue
				}
				if prev, dup := pathLinks[cell.path]; dup {
					if prev != lockKey.path {
						pathLinks[cell.path] = "" // same field path, different lock: drop the link
					}
				} else {
					pathLinks[cell.path] = lockKey.path
				}
			}
		}
	}

	seen := make(map[condFinding]bool)
	for _, w := range waits {
		if !w.ok {
			continue
		}
		liveWait := ctx.engine.liveAt(w.fn, w.point)
		if len(liveWait) == 0 {
			continue
		}
		ownLock, hasOwn := condOwnLock(w.key, condLocks, pathLinks)

		for _, n := range notifies {
			if !n.ok || n.key != w.key {
				continue
			}
			liveNotify := ctx.engine.liveAt(n.fn, n.point)
			if len(liveNotify) == 0 {
				continue
			}
			ctx.matchCondPair(w, n, liveWait, liveNotify, ownLock, hasOwn, seen)
		}
	}
}

// matchCondPair reports each lock held at both sides of one wait/notify
// pair, skipping the cond's own lock.
func (ctx *passContext) matchCondPair(w, n condUse, liveWait, liveNotify liveSet, ownLock originKey, hasOwn bool, seen map[condFinding]bool) {
	for _, ga := range liveWait.sortedIDs() {
		if ctx.resolver.excluded(ga) {
			continue
		}
		gaKey, gaResolved := ctx.resolver.keyOf(ga)
		if hasOwn && gaResolved && gaKey == ownLock {
			continue
		}
		for _, gb := range liveNotify.sortedIDs() {
			if !ctx.resolver.sameOrigin(ga, gb) {
				continue
			}
			if !canConflict(ctx.guard(ga).kind, ctx.guard(gb).kind) {
				continue
			}
			finding := condFinding{waitPos: w.pos, notifyPos: n.pos, held: gaKey}
			if seen[finding] {
				continue
			}
			seen[finding] = true
			ctx.reportCondvarMisuse(ga, gb, w.pos, n.pos)
		}
	}
}

// condCellKey normalizes a cond origin to the cell it was loaded from by
// stripping the trailing pointer load a Wait or notify receiver carries.
func condCellKey(k originKey) originKey {
	if k.path == "*" {
		k.path = ""
	} else if strings.HasSuffix(k.path, ".*") {
		k.path = strings.TrimSuffix(k.path, ".*")
	}
	return k
}

// condOwnLock finds the lock a cond was created over, trying the use key
// itself, then the cell it was loaded from, then the field-path link for
// conds reached through a different root than their constructor used.
func condOwnLock(key originKey, condLocks map[originKey]originKey, pathLinks map[string]string) (originKey, bool) {
	if lock, ok := condLocks[key]; ok {
		return lock, true
	}
	cell := condCellKey(key)
	if lock, ok := condLocks[cell]; ok {
		return lock, true
	}
	if lockPath, ok := pathLinks[cell.path]; ok && lockPath != "" {
		return originKey{class: cell.class, ident: cell.ident, path: lockPath}, true
	}
	return originKey{}, false
}

// condKeysFor lists the origins a fresh cond can later be read back
// under: the creating call itself plus every location it is stored to.
func condKeysFor(result ssa.Value) []originKey {
	var keys []originKey
	if key, ok := localLockKey(result); ok {
		keys = append(keys, key)
	}
	refs := result.Referrers()
	if refs == nil {
		return keys
	}
	for _, instr := range *refs {
		store, ok := instr.(*ssa.Store)
		if !ok || store.Val != result {
			continue
		}
		if key, ok := localLockKey(store.Addr); ok {
			keys = append(keys, key)
		}
	}
	return keys
}
