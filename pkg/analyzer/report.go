package analyzer

import (
	"encoding/json"
	"fmt"
	"go/token"
	"strings"
)

// Bug kinds, the single possibility level the tool ever claims, and the
// fixed explanation strings keyed by kind. The analysis is approximate on
// purpose; it never reports anything stronger than "Possibly".
const (
	bugDoubleLock      = "DoubleLock"
	bugConflictLock    = "ConflictLock"
	bugCondvarDeadlock = "CondvarDeadlock"

	possibilityPossibly = "Possibly"

	explainDoubleLock   = "The first lock is not released when acquiring the second lock"
	explainConflictLock = "Locks mutually wait for each other to form a cycle"
	explainCondvar      = "The notify side can never acquire the lock the waiting side still holds"
)

// Diagnosis describes one ordered acquisition pair. Callchains lists the
// discovered chains, each chain a list of hops, each hop the call-site
// spans of one call edge. Same-function pairs carry no chains.
type Diagnosis struct {
	FirstLockType  string       `json:"first_lock_type"`
	FirstLockSpan  string       `json:"first_lock_span"`
	SecondLockType string       `json:"second_lock_type"`
	SecondLockSpan string       `json:"second_lock_span"`
	Callchains     [][][]string `json:"callchains"`
}

// Bug is one finding. A DoubleLock or CondvarDeadlock carries exactly one
// diagnosis; a ConflictLock carries one per cycle member, in cycle order.
type Bug struct {
	BugKind     string      `json:"bug_kind"`
	Possibility string      `json:"possibility"`
	Diagnosis   []Diagnosis `json:"-"`
	Explanation string      `json:"explanation"`
}

// MarshalJSON keeps the single-pair kinds' diagnosis a plain object while
// ConflictLock serializes the full cycle list.
func (b Bug) MarshalJSON() ([]byte, error) {
	type alias struct {
		BugKind     string `json:"bug_kind"`
		Possibility string `json:"possibility"`
		Diagnosis   any    `json:"diagnosis"`
		Explanation string `json:"explanation"`
	}
	out := alias{
		BugKind:     b.BugKind,
		Possibility: b.Possibility,
		Explanation: b.Explanation,
	}
	if b.BugKind == bugConflictLock {
		out.Diagnosis = b.Diagnosis
	} else if len(b.Diagnosis) > 0 {
		out.Diagnosis = b.Diagnosis[0]
	}
	return json.Marshal(out)
}

// Report is the analyzer's ordered result for one compilation unit.
type Report struct {
	Bugs []Bug `json:"bugs"`
}

// JSON renders the report for the -json dump.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r.Bugs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	return string(data), nil
}

// candidatePair is one reachability relation enriched with its call-chain
// evidence: guard a may still be held when guard b is acquired.
type candidatePair struct {
	a, b guardID
	// chain holds the first-found shortest call path from a's function to
	// b's function; nil with hasChain=false when no path within the depth
	// cap exists (escape-merged pairs), nil with hasChain=true when both
	// guards live in one function.
	chain    [][]token.Pos
	hasChain bool
}

// span renders a position as file:line:col.
func (ctx *passContext) span(pos token.Pos) string {
	if !pos.IsValid() {
		return "<unknown>"
	}
	return ctx.pass.Fset.Position(pos).String()
}

// renderChains converts a pair's evidence into the report shape.
func (ctx *passContext) renderChains(pair candidatePair) [][][]string {
	chains := [][][]string{}
	if !pair.hasChain || len(pair.chain) == 0 {
		return chains
	}
	hops := make([][]string, 0, len(pair.chain))
	for _, hop := range pair.chain {
		spans := make([]string, 0, len(hop))
		for _, pos := range hop {
			spans = append(spans, ctx.span(pos))
		}
		hops = append(hops, spans)
	}
	return append(chains, hops)
}

// diagnosis builds the report entry for one pair.
func (ctx *passContext) diagnosis(pair candidatePair) Diagnosis {
	first := ctx.guard(pair.a)
	second := ctx.guard(pair.b)
	return Diagnosis{
		FirstLockType:  first.kind.String(),
		FirstLockSpan:  ctx.span(first.acquirePos),
		SecondLockType: second.kind.String(),
		SecondLockSpan: ctx.span(second.acquirePos),
		Callchains:     ctx.renderChains(pair),
	}
}

// reportDoubleLockPair records a same-origin pair and emits its diagnostic
// at the second acquisition.
func (ctx *passContext) reportDoubleLockPair(pair candidatePair) {
	ctx.report.Bugs = append(ctx.report.Bugs, Bug{
		BugKind:     bugDoubleLock,
		Possibility: possibilityPossibly,
		Diagnosis:   []Diagnosis{ctx.diagnosis(pair)},
		Explanation: explainDoubleLock,
	})

	first := ctx.guard(pair.a)
	second := ctx.guard(pair.b)
	if ctx.suppressed(second.owner, second.acquirePos) {
		return
	}
	ctx.pass.Reportf(second.acquirePos, "possible double lock: %s is still held (acquired at %s) when acquired again",
		ctx.lockName(pair.a), ctx.span(first.acquirePos))
}

// reportConflictCycle records one lock-order cycle and emits its
// diagnostic at the first pair's second acquisition.
func (ctx *passContext) reportConflictCycle(cycle []candidatePair) {
	diags := make([]Diagnosis, 0, len(cycle))
	for _, pair := range cycle {
		diags = append(diags, ctx.diagnosis(pair))
	}
	ctx.report.Bugs = append(ctx.report.Bugs, Bug{
		BugKind:     bugConflictLock,
		Possibility: possibilityPossibly,
		Diagnosis:   diags,
		Explanation: explainConflictLock,
	})

	anchor := ctx.guard(cycle[0].b)
	if ctx.suppressed(anchor.owner, anchor.acquirePos) {
		return
	}
	names := make([]string, 0, len(cycle)+1)
	for _, pair := range cycle {
		names = append(names, ctx.lockName(pair.a))
	}
	names = append(names, names[0])
	ctx.pass.Reportf(anchor.acquirePos, "possible conflicting lock order: %s", strings.Join(names, " -> "))
}

// reportCondvarMisuse records a missed-wakeup hazard: the same lock is
// held at a Wait and at the matching notification site.
func (ctx *passContext) reportCondvarMisuse(waitHeld, notifyHeld guardID, waitPos, notifyPos token.Pos) {
	held := ctx.guard(waitHeld)
	blocking := ctx.guard(notifyHeld)
	ctx.report.Bugs = append(ctx.report.Bugs, Bug{
		BugKind:     bugCondvarDeadlock,
		Possibility: possibilityPossibly,
		Diagnosis: []Diagnosis{{
			FirstLockType:  held.kind.String(),
			FirstLockSpan:  ctx.span(waitPos),
			SecondLockType: blocking.kind.String(),
			SecondLockSpan: ctx.span(notifyPos),
			Callchains:     [][][]string{},
		}},
		Explanation: explainCondvar,
	})

	if ctx.suppressed(held.owner, waitPos) {
		return
	}
	ctx.pass.Reportf(waitPos, "possible missed wakeup: %s is held around this Wait and at the notify site at %s",
		ctx.lockName(waitHeld), ctx.span(notifyPos))
}

// lockName renders a guard's lock for diagnostics, preferring the resolved
// origin over the bare kind.
func (ctx *passContext) lockName(id guardID) string {
	if name := ctx.resolver.displayName(id); name != "" {
		return name
	}
	return ctx.guard(id).kind.String()
}
