package repository

import (
	"sync"
)

// KeyedMutex serializes work per aggregate ID inside one process. Two
// concurrent dispatches to the same ID would otherwise interleave their
// load and store phases and silently lose one branch's events at the
// storage layer; the keyed lock closes that window locally. Cross-process
// serialization, when needed, layers a distributed lock on top.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*lockEntry),
	}
}

// Lock acquires the mutex for the key, blocking until it is free, and
// returns the matching unlock function. Entries are reference-counted so
// idle keys do not accumulate.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
