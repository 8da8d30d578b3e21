// Package deadlock_families exercises the go-deadlock mutex family and
// an ordering cycle that crosses families.
package deadlock_families

import (
	"sync"

	deadlock "github.com/sasha-s/go-deadlock"
)

type Ledger struct {
	mu deadlock.Mutex
	rw deadlock.RWMutex
	n  int
}

func (l *Ledger) DoubleAcquire() {
	l.mu.Lock()
	l.mu.Lock() // want `possible double lock: Ledger\.mu is still held`
	l.n++
	l.mu.Unlock()
	l.mu.Unlock()
}

func (l *Ledger) WriteUnderRead() {
	l.rw.RLock()
	l.rw.Lock() // want `possible double lock: Ledger\.rw is still held`
	l.n++
	l.rw.Unlock()
	l.rw.RUnlock()
}

// --- Ordering cycle between a go-deadlock mutex and a plain one ---

var (
	handoff deadlock.Mutex
	ready   sync.Mutex
)

func ForwardOrder() {
	handoff.Lock()
	ready.Lock() // want `possible conflicting lock order: handoff -> ready -> handoff`
	ready.Unlock()
	handoff.Unlock()
}

func ReverseOrder() {
	ready.Lock()
	handoff.Lock()
	handoff.Unlock()
	ready.Unlock()
}
