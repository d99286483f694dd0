package store

import (
	"sync"
)

// keyMutex is the per-key mutex stored in pathLocker.locks.
type keyMutex struct {
	mu sync.Mutex
}

// pathLocker serializes in-process access to a file path using sync.Map, the
// thread-lock fallback alongside POSIX flock: two
// goroutines in the same process both hold the OS-level flock (it is only
// advisory between processes on the same descriptor table in some
// implementations), so every write also takes this in-process lock first.
type pathLocker struct {
	locks sync.Map // map[string]*keyMutex
}

func (p *pathLocker) mutexFor(path string) *keyMutex {
	if m, ok := p.locks.Load(path); ok {
		return m.(*keyMutex)
	}
	actual, _ := p.locks.LoadOrStore(path, &keyMutex{})
	return actual.(*keyMutex)
}

// Lock acquires the in-process lock for path, blocking until available.
func (p *pathLocker) Lock(path string) func() {
	m := p.mutexFor(path)
	m.mu.Lock()
	return m.mu.Unlock
}
