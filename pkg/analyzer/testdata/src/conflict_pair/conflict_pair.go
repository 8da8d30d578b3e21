package conflict_pair

import "sync"

// Two paths take the journal's mutex and its index RWMutex in opposite
// orders, each second acquisition sitting one call away.

type Journal struct {
	mu  sync.Mutex
	idx sync.RWMutex
}

// lockMu takes the journal mutex for the caller.
func (j *Journal) lockMu() {
	j.mu.Lock() // want `possible conflicting lock order: Journal\.idx -> Journal\.mu -> Journal\.idx`
}

func (j *Journal) ScanThenLog() {
	j.idx.RLock()
	j.lockMu()
	j.mu.Unlock()
	j.idx.RUnlock()
}

// rewriteIdx takes the index write lock for the caller.
func (j *Journal) rewriteIdx() {
	j.idx.Lock()
}

func (j *Journal) LogThenRewrite() {
	j.mu.Lock()
	j.rewriteIdx()
	j.idx.Unlock()
	j.mu.Unlock()
}
