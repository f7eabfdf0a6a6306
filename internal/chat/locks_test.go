package chat

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSessionLocksSerialize(t *testing.T) {
	locks := newSessionLocks()
	id := uuid.New()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire(id)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestSessionLocksIndependentSessions(t *testing.T) {
	locks := newSessionLocks()

	releaseA := locks.acquire(uuid.New())
	defer releaseA()

	// A different session's lock must not block.
	done := make(chan struct{})
	go func() {
		release := locks.acquire(uuid.New())
		release()
		close(done)
	}()
	<-done
}

func TestSessionLocksEntriesReclaimed(t *testing.T) {
	locks := newSessionLocks()
	id := uuid.New()

	release := locks.acquire(id)
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
