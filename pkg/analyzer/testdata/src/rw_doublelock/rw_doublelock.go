// Package rw_doublelock exercises reader/writer interplay on a single
// RWMutex: a write hold reaching a nested read through a call edge is a
// deadlock, while nested reads coexist.
package rw_doublelock

import "sync"

type Cache struct {
	mu   sync.RWMutex
	data map[string]string
}

// get takes the read lock and leaves release to its defer.
func (c *Cache) get(k string) string {
	c.mu.RLock() // want `possible double lock: Cache\.mu is still held`
	defer c.mu.RUnlock()
	return c.data[k]
}

// ReadUnderWrite reads an entry back while still holding the write lock.
func (c *Cache) ReadUnderWrite(k string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(k)
}

// CopyPair reads two keys, one directly and one through get.
func (c *Cache) CopyPair(k1, k2 string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[k1], c.get(k2) // no diagnostic: shared readers coexist
}

// UpgradeDeadlock tries to upgrade a read hold in place.
func (c *Cache) UpgradeDeadlock(k, v string) {
	c.mu.RLock()
	if c.data[k] == "" {
		c.mu.Lock() // want `possible double lock: Cache\.mu is still held`
		c.data[k] = v
		c.mu.Unlock()
	}
	c.mu.RUnlock()
}
