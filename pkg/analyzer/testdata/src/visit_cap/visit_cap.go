// Package visit_cap exercises the per-function visit bound: the runner
// sets it to one, which must still terminate the self-recursive churn
// and still catch a straight-line double lock.
package visit_cap

import "sync"

type Spin struct {
	mu sync.Mutex
}

// Churn reacquires through itself; at one visit per function the
// analysis gives up on it quietly.
func (s *Spin) Churn(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.Churn(n - 1)
	s.mu.Unlock()
}

// Plain needs no propagation at all.
func (s *Spin) Plain() {
	s.mu.Lock()
	s.mu.Lock() // want `possible double lock: Spin\.mu is still held`
	s.mu.Unlock()
	s.mu.Unlock()
}
