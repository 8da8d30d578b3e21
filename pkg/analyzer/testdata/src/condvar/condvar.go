// Package condvar exercises the missed-wakeup detector: holding a lock
// besides the cond's own around a Wait deadlocks against a notifier that
// needs that lock.
package condvar

import "sync"

type Queue struct {
	gate  sync.Mutex
	mu    sync.Mutex
	cond  *sync.Cond
	items []int
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Take blocks until an item arrives, wrongly holding the gate too.
func (q *Queue) Take() int {
	q.gate.Lock()
	q.mu.Lock()
	for len(q.items) == 0 {
		q.cond.Wait() // want `possible missed wakeup: Queue\.gate is held around this Wait`
	}
	v := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	q.gate.Unlock()
	return v
}

// Put cannot reach its Signal while Take parks with the gate held.
func (q *Queue) Put(v int) {
	q.gate.Lock()
	q.mu.Lock()
	q.items = append(q.items, v)
	q.cond.Signal()
	q.mu.Unlock()
	q.gate.Unlock()
}

// TakeClean holds only the lock the cond was created over.
func (q *Queue) TakeClean() int {
	q.mu.Lock()
	for len(q.items) == 0 {
		q.cond.Wait() // no diagnostic: only the cond's own lock is held
	}
	v := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	return v
}
