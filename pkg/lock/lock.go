// Package lock provides mutexes addressed by key, created on demand and
// dropped once nobody holds or waits for them.
package lock

import (
	"sync"
)

// Keyed is a set of read/write mutexes addressed by string keys.
// The zero value is ready to use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func (k *Keyed) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *Keyed) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *Keyed) unlocker(key string, l *refLock, unlock func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			k.release(key, l)
		})
	}
}

// Lock blocks until the exclusive lock for key is held and returns its release func.
func (k *Keyed) Lock(key string) func() {
	l := k.acquire(key)
	l.Lock()
	return k.unlocker(key, l, l.Unlock)
}

// TryLock takes the exclusive lock for key without waiting.
func (k *Keyed) TryLock(key string) (func(), bool) {
	l := k.acquire(key)
	if !l.TryLock() {
		k.release(key, l)
		return nil, false
	}
	return k.unlocker(key, l, l.Unlock), true
}

// TryRLock takes a shared lock for key without waiting.
func (k *Keyed) TryRLock(key string) (func(), bool) {
	l := k.acquire(key)
	if !l.TryRLock() {
		k.release(key, l)
		return nil, false
	}
	return k.unlocker(key, l, l.RUnlock), true
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
