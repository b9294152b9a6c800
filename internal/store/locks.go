package store

import (
	"sort"
	"strings"
	"sync"
)

// LockTable hands out one mutex per record key so mutations on the same
// thread (or bridge pair) serialize while unrelated records proceed in
// parallel. Locks must never be held across an LLM call.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (lt *LockTable) init() {
	lt.locks = make(map[string]*sync.Mutex)
}

func (lt *LockTable) get(key string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	m, ok := lt.locks[key]
	if !ok {
		m = &sync.Mutex{}
		lt.locks[key] = m
	}
	return m
}

// Acquire blocks until the key's lock is held; the returned func releases
func (lt *LockTable) Acquire(key string) func() {
	m := lt.get(key)
	m.Lock()
	return m.Unlock
}

// TryAcquire returns (release, true) when the lock is free, (nil, false)
// on contention. Used by operations that report conflict instead of
// queueing.
func (lt *LockTable) TryAcquire(key string) (func(), bool) {
	m := lt.get(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// ThreadKey is the lock key for one thread record
func ThreadKey(id string) string { return "thread:" + id }

// PairKey is the lock key for the unordered bridge pair (a, b)
func PairKey(a, b string) string {
	ends := []string{a, b}
	sort.Strings(ends)
	return "bridge:" + strings.Join(ends, "|")
}
