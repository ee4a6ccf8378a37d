package registry

import "sync"

// keyedMutex serializes work per key while letting different keys proceed
// concurrently. Waiters for the same key are granted the lock in arrival
// order, so syncs for one spec execute FIFO. Entries are reference-counted
// and removed when the last holder releases, keeping the map from growing
// with every spec id ever seen.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{} // buffered size 1; holding the token is holding the lock
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key is free.
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.sem <- struct{}{}
}

// Unlock releases the key. Must pair with a prior Lock of the same key.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("registry: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	<-e.sem
}
