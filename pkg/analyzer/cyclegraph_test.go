package analyzer

import (
	"reflect"
	"testing"
)

// graphWith builds a conflict graph straight from adjacency lists; the
// cycle search never looks inside the pairs.
func graphWith(out [][]int) *conflictGraph {
	return &conflictGraph{pairs: make([]candidatePair, len(out)), out: out}
}

func TestCyclesTriangle(t *testing.T) {
	g := graphWith([][]int{{1}, {2}, {0}})
	got := g.cycles()
	want := [][]int{{0, 1, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cycles() = %v, want %v", got, want)
	}
}

func TestCyclesTwoNode(t *testing.T) {
	g := graphWith([][]int{{1}, {0}})
	got := g.cycles()
	want := [][]int{{0, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cycles() = %v, want %v", got, want)
	}
}

func TestCyclesSharedNodes(t *testing.T) {
	// Two cycles through the same entry and exit: 0→1→3→0 and 0→2→3→0.
	g := graphWith([][]int{{1, 2}, {3}, {3}, {0}})
	got := g.cycles()
	want := [][]int{{0, 1, 3}, {0, 2, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cycles() = %v, want %v", got, want)
	}
}

func TestCyclesSelfLoopDropped(t *testing.T) {
	g := graphWith([][]int{{0}})
	if got := g.cycles(); len(got) != 0 {
		t.Errorf("cycles() = %v, want none", got)
	}
}

func TestCyclesAcyclic(t *testing.T) {
	g := graphWith([][]int{{1}, {2}, nil})
	if got := g.cycles(); len(got) != 0 {
		t.Errorf("cycles() = %v, want none", got)
	}
}

func TestDedupCyclesRotations(t *testing.T) {
	got := dedupCycles([][]int{{1, 2, 0}, {0, 1, 2}, {2, 0, 1}, {1, 0}})
	want := [][]int{{0, 1, 2}, {0, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupCycles() = %v, want %v", got, want)
	}
}
