// Package released exercises release tracking: a lock given up on every
// path before its reacquisition is not a double lock, whether the
// release happens inline, in a branch, or inside a callee.
package released

import "sync"

type Box struct {
	mu sync.Mutex
	n  int
}

// --- Both branches release before the reacquisition ---

func (b *Box) BranchRelease(flip bool) {
	b.mu.Lock()
	if flip {
		b.n++
		b.mu.Unlock()
	} else {
		b.mu.Unlock()
	}
	b.mu.Lock() // no diagnostic: every path released first
	b.n--
	b.mu.Unlock()
}

// --- Each iteration balances its own acquisition ---

func (b *Box) Drain(n int) {
	for i := 0; i < n; i++ {
		b.mu.Lock()
		b.n--
		b.mu.Unlock()
	}
}

// --- The helper releases on the caller's behalf ---

func (b *Box) release() {
	b.mu.Unlock()
}

func (b *Box) HandOff() {
	b.mu.Lock()
	b.release()
	b.mu.Lock() // no diagnostic: the helper released it
	b.n++
	b.mu.Unlock()
}

// --- A conditional release may leave the lock held ---

func (b *Box) maybeRelease(flip bool) {
	if flip {
		b.mu.Unlock()
	}
}

func (b *Box) Conditional(flip bool) {
	b.mu.Lock()
	b.maybeRelease(flip)
	b.mu.Lock() // want `possible double lock: Box\.mu is still held`
	b.n++
	b.mu.Unlock()
}
