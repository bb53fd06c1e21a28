package services

import (
	"sort"
	"sync"
)

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires every non-empty key in sorted order and returns the release
// func.
func (k *keyedMutex) Lock(keys ...string) func() {
	set := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, dup := set[key]; key == "" || dup {
			continue
		}
		set[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	entries := make([]*keyedEntry, 0, len(ordered))
	for _, key := range ordered {
		k.mu.Lock()
		e, ok := k.locks[key]
		if !ok {
			e = &keyedEntry{}
			k.locks[key] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		entries = append(entries, e)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
			k.mu.Lock()
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, ordered[i])
			}
			k.mu.Unlock()
		}
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
