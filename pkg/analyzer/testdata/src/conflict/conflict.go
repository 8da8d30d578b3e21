package conflict

import "sync"

// --- Three locks acquired in a rotating order across three paths ---

var (
	mu  sync.Mutex
	rw1 sync.RWMutex
	rw2 sync.RWMutex
)

func MuThenRw1() {
	mu.Lock()
	rw1.Lock() // want `possible conflicting lock order: mu -> rw1 -> rw2 -> mu`
	rw1.Unlock()
	mu.Unlock()
}

func Rw1ThenRw2() {
	rw1.Lock()
	rw2.Lock()
	rw2.Unlock()
	rw1.Unlock()
}

func Rw2ThenMu() {
	rw2.Lock()
	mu.Lock()
	mu.Unlock()
	rw2.Unlock()
}

// --- A single consistent order never cycles ---

var head, tail sync.Mutex

func HeadThenTail() {
	head.Lock()
	tail.Lock() // no diagnostic: one direction only
	tail.Unlock()
	head.Unlock()
}

// --- Shared readers in opposite orders cannot block each other ---

var table, mirror sync.RWMutex

func ReadForward() {
	table.RLock()
	mirror.RLock() // no diagnostic: two read acquisitions never conflict
	mirror.RUnlock()
	table.RUnlock()
}

func ReadBackward() {
	mirror.RLock()
	table.RLock()
	table.RUnlock()
	mirror.RUnlock()
}
