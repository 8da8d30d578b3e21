// Package sync stands in for gVisor's instrumented sync package. The
// analyzer matches it by path and never executes it.
package sync

import stdsync "sync"

type Mutex struct {
	mu stdsync.Mutex
}

func (m *Mutex) Lock()         { m.mu.Lock() }
func (m *Mutex) Unlock()       { m.mu.Unlock() }
func (m *Mutex) TryLock() bool { return m.mu.TryLock() }

type RWMutex struct {
	mu stdsync.RWMutex
}

func (m *RWMutex) Lock()          { m.mu.Lock() }
func (m *RWMutex) Unlock()        { m.mu.Unlock() }
func (m *RWMutex) RLock()         { m.mu.RLock() }
func (m *RWMutex) RUnlock()       { m.mu.RUnlock() }
func (m *RWMutex) TryLock() bool  { return m.mu.TryLock() }
func (m *RWMutex) TryRLock() bool { return m.mu.TryRLock() }
