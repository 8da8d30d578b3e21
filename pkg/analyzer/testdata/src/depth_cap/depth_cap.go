// Package depth_cap exercises the call-chain depth bound: a hold
// propagated through more call edges than the cap allows is dropped
// rather than reported.
package depth_cap

import "sync"

type Relay struct {
	mu sync.Mutex
}

// --- Five call edges from the hold to the reacquisition ---

func (r *Relay) far() {
	r.mu.Lock() // no diagnostic: the outer hold exceeds the depth cap
	r.mu.Unlock()
}

func (r *Relay) hop4() { r.far() }
func (r *Relay) hop3() { r.hop4() }
func (r *Relay) hop2() { r.hop3() }
func (r *Relay) hop1() { r.hop2() }

func (r *Relay) Distant() {
	r.mu.Lock()
	r.hop1()
	r.mu.Unlock()
}

// --- Three call edges, within the cap ---

func (r *Relay) near() {
	r.mu.Lock() // want `possible double lock: Relay\.mu is still held`
	r.mu.Unlock()
}

func (r *Relay) step2() { r.near() }
func (r *Relay) step1() { r.step2() }

func (r *Relay) Nearby() {
	r.mu.Lock()
	r.step1()
	r.mu.Unlock()
}
