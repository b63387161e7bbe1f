// Package lock hands out mutexes keyed by scope and key. Entries live only while someone
// holds a reference, so the pool stays as small as the set of keys in use.
package lock

import (
	"sync"
)

var (
	poolMu sync.Mutex
	pool   = make(map[string]*Mutex)
)

// Mutex is shared by every caller that asked for the same scope and key.
type Mutex struct {
	key  string
	refs int

	mu sync.Mutex
}

func (m *Mutex) Lock() {
	m.mu.Lock()
}

// Unlock releases the lock and the reference taken by GetMutex. The Mutex must not be
// reused afterwards; call GetMutex again.
func (m *Mutex) Unlock() {
	poolMu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(pool, m.key)
	}
	poolMu.Unlock()

	m.mu.Unlock()
}

// GetMutex returns the mutex for scope and key, e.g. ("wallet_client", address+":"+token).
func GetMutex(scope, key string) *Mutex {
	k := scope + ":" + key

	poolMu.Lock()
	defer poolMu.Unlock()

	m, ok := pool[k]
	if !ok {
		m = &Mutex{key: k}
		pool[k] = m
	}
	m.refs++
	return m
}

func size() int {
	poolMu.Lock()
	defer poolMu.Unlock()
	return len(pool)
}
