package dedup

import "sync"

// KeyLock provides per-key mutual exclusion so unrelated alerts process in
// parallel: one lock per alert ID, plus one per geo cell during creation,
// instead of a single global lock. Entries are reference counted and
// removed when the last holder releases, so the map does not grow with the
// alert history.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty keyed lock set.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock acquires the lock for key, blocking until it is available, and
// returns the matching release function.
func (k *KeyLock) Lock(key string) (release func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
