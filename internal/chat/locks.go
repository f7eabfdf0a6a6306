package chat

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes turns per session within this process. The
// database lock in the session store is the real guard for sequence
// numbers; this keeps concurrent turns on one session from interleaving
// their history reads and model calls.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*lockEntry)}
}

// acquire blocks until the session's lock is held and returns the release
// function. Entries are reference counted and removed when unused so the
// map does not grow with session count.
func (l *sessionLocks) acquire(id uuid.UUID) (release func()) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
