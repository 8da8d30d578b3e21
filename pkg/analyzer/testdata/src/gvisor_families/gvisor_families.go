// Package gvisor_families exercises the gvisor sync mutex family,
// including TryLock counting as an acquisition.
package gvisor_families

import (
	gsync "gvisor.dev/gvisor/pkg/sync"
)

type Table struct {
	mu gsync.Mutex
	rw gsync.RWMutex
	n  int
}

func (t *Table) DoubleAcquire() {
	t.mu.Lock()
	t.mu.Lock() // want `possible double lock: Table\.mu is still held`
	t.n++
	t.mu.Unlock()
	t.mu.Unlock()
}

func (t *Table) ReadUnderWrite() {
	t.rw.Lock()
	t.rw.RLock() // want `possible double lock: Table\.rw is still held`
	t.n++
	t.rw.RUnlock()
	t.rw.Unlock()
}

// ProbeThenLock holds the lock once TryLock succeeds.
func (t *Table) ProbeThenLock() {
	if t.mu.TryLock() {
		t.mu.Lock() // want `possible double lock: Table\.mu is still held`
		t.n++
		t.mu.Unlock()
		t.mu.Unlock()
	}
}

// --- Ordering cycle on two package-level locks ---

var (
	front gsync.Mutex
	back  gsync.Mutex
)

func ForwardOrder() {
	front.Lock()
	back.Lock() // want `possible conflicting lock order: front -> back -> front`
	back.Unlock()
	front.Unlock()
}

func ReverseOrder() {
	back.Lock()
	front.Lock()
	front.Unlock()
	back.Unlock()
}
