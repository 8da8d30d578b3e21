package dynamic_calls

import "sync"

type Impl struct {
	mu sync.Mutex
	n  int
}

type relocker interface {
	relock()
}

// --- Dynamic targets carry no call edge ---

func (i *Impl) relock() {
	i.mu.Lock() // no diagnostic: no resolved edge reaches here with the lock held
	i.n++
	i.mu.Unlock()
}

func Dispatch(r relocker, i *Impl) {
	i.mu.Lock()
	r.relock()
	i.mu.Unlock()
}

func Apply(f func(), i *Impl) {
	i.mu.Lock()
	f()
	i.mu.Unlock()
}

func Spawn(i *Impl) {
	i.mu.Lock()
	go i.relock()
	i.mu.Unlock()
}

// --- Static control: the same shape through a resolved call is reported ---

func (i *Impl) relockDirect() {
	i.mu.Lock() // want `possible double lock: Impl\.mu is still held`
	i.n++
	i.mu.Unlock()
}

func Direct(i *Impl) {
	i.mu.Lock()
	i.relockDirect()
	i.mu.Unlock()
}
