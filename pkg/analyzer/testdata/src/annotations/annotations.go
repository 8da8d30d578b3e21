// Package annotations exercises the comment directives: lockbud:ignore
// silences a whole function, lockbud:nolint silences the next line.
package annotations

import "sync"

type Counter struct {
	mu sync.Mutex
	n  int
}

//lockbud:ignore
func (c *Counter) IgnoredDouble() {
	c.mu.Lock()
	c.mu.Lock() // no diagnostic: the function is marked ignored
	c.n++
	c.mu.Unlock()
	c.mu.Unlock()
}

func (c *Counter) NolintDouble() {
	c.mu.Lock()
	//lockbud:nolint
	c.mu.Lock() // no diagnostic: the line is marked nolint
	c.n++
	c.mu.Unlock()
	c.mu.Unlock()
}

func (c *Counter) StillReported() {
	c.mu.Lock()
	c.mu.Lock() // want `possible double lock: Counter\.mu is still held`
	c.n++
	c.mu.Unlock()
	c.mu.Unlock()
}
