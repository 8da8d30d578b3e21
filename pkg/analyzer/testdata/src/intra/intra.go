package intra

import (
	"sync"

	deadlock "github.com/sasha-s/go-deadlock"
	gsync "gvisor.dev/gvisor/pkg/sync"
)

// --- Straight-line double lock ---

type Counter struct {
	mu sync.Mutex
	n  int
}

func (c *Counter) DoubleInc() {
	c.mu.Lock()
	c.n++
	c.mu.Lock() // want `possible double lock: Counter\.mu is still held`
	c.n++
	c.mu.Unlock()
	c.mu.Unlock()
}

// --- Released before reacquisition ---

func (c *Counter) Reacquire() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	c.mu.Lock() // no diagnostic: released on every path before this
	c.n--
	c.mu.Unlock()
}

// --- Deferred release covers the whole function ---

func (c *Counter) DeferredOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

// --- Branching: only one path still holds the lock ---

func (c *Counter) BranchedDouble(flip bool) {
	c.mu.Lock()
	if flip {
		c.mu.Unlock()
		return
	}
	c.mu.Lock() // want `possible double lock: Counter\.mu is still held`
	c.n++
	c.mu.Unlock()
	c.mu.Unlock()
}

// --- TryLock counts as an acquisition ---

func (c *Counter) TryThenLock() bool {
	if c.mu.TryLock() {
		c.n++
		c.mu.Lock() // want `possible double lock: Counter\.mu is still held`
		c.n++
		c.mu.Unlock()
		c.mu.Unlock()
		return true
	}
	return false
}

// --- Recursion: one acquisition site pairing with itself is not a pair ---

func (c *Counter) Retry(n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.Retry(n - 1) // no diagnostic: same acquisition site
	c.mu.Unlock()
}

// --- go-deadlock family ---

type Journal struct {
	mu deadlock.Mutex
}

func (j *Journal) Append(flip bool) {
	j.mu.Lock()
	if flip {
		j.mu.Lock() // want `possible double lock: Journal\.mu is still held`
		j.mu.Unlock()
	}
	j.mu.Unlock()
}

// --- gVisor sync family ---

type Shard struct {
	mu gsync.Mutex
}

func (s *Shard) Rebalance(flip bool) {
	s.mu.Lock()
	if flip {
		s.mu.Lock() // want `possible double lock: Shard\.mu is still held`
		s.mu.Unlock()
	}
	s.mu.Unlock()
}
