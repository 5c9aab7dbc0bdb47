package engine

import "sync"

// lockTable hands out one RWMutex per key and forgets it once nobody holds
// or waits for it.
type lockTable struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func (t *lockTable) acquire(key string) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = map[string]*keyLock{}
	}
	l, ok := t.m[key]
	if !ok {
		l = &keyLock{}
		t.m[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) release(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.m, key)
	}
}

// Lock takes the exclusive lock for key and returns its release func.
func (t *lockTable) Lock(key string) func() {
	l := t.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		t.release(key, l)
	}
}

// RLock takes the shared lock for key and returns its release func.
func (t *lockTable) RLock(key string) func() {
	l := t.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		t.release(key, l)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
