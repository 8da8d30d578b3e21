package inter

import "sync"

// --- One hop: caller holds, callee reacquires ---

type Registry struct {
	mu sync.Mutex
	m  map[string]bool
}

func (r *Registry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(name)
}

func (r *Registry) add(name string) {
	r.mu.Lock() // want `possible double lock: Registry\.mu is still held`
	r.m[name] = true
	r.mu.Unlock()
}

// --- Two hops through a plain forwarder ---

type Store struct {
	mu sync.Mutex
	v  map[string]int
}

func (s *Store) Update(k string, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(k, v)
}

func (s *Store) set(k string, v int) { s.setLocked(k, v) }

func (s *Store) setLocked(k string, v int) {
	s.mu.Lock() // want `possible double lock: Store\.mu is still held`
	s.v[k] = v
	s.mu.Unlock()
}

// Replace releases before delegating, so the callee's acquisition is the
// only one live.
func (s *Store) Replace(k string, v int) {
	s.mu.Lock()
	s.v[k] = v
	s.mu.Unlock()
	s.setLocked(k, v) // no diagnostic: released before the call
}

// --- Acquire-helper: the guard escapes to the caller ---

type Gate struct {
	mu   sync.Mutex
	open bool
}

// lockMu leaves mu held for the caller.
func (g *Gate) lockMu() { g.mu.Lock() }

func (g *Gate) OpenTwice() {
	g.lockMu()
	g.mu.Lock() // want `possible double lock: Gate\.mu is still held`
	g.open = true
	g.mu.Unlock()
	g.mu.Unlock()
}
