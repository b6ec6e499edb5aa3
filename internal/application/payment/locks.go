package payment

import "sync"

// keyedMutex serializes operations per payment. Concurrent operations against
// different payments proceed independently; two operations on the same
// payment never interleave their read-modify-write of the cached fields.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key is held and returns the unlock func. Entries are
// dropped once the last waiter releases, so the map stays bounded by the
// number of in-flight operations.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
