package ledger

import "sync"

// keyedLocks provides per-path mutual exclusion for workers in the same
// process. Cross-process coordination on shared files goes through the
// versioned commit in internal/fstore; this just keeps same-process workers
// from burning conflict retries against each other.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
}

func (k *keyedLocks) unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()

	if ok {
		l.Unlock()
	}
}
