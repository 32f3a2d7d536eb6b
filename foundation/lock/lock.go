// Package lock provides the synchronization primitives the node core relies
// on: a mutex that serves high priority callers first and a semaphore that
// bounds how many callers may wait for it.
package lock

import (
	"context"
	"sync"
)

// Priority identifies the class of a PriorityMutex caller.
type Priority int

// Set of priorities. Block processing takes the lock at High, transaction
// admission at Low.
const (
	Low Priority = iota
	High
)

// String implements the fmt.Stringer interface.
func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// =============================================================================

// PriorityMutex is a mutual exclusion lock with two classes of waiters. On
// unlock the lock is handed to the longest waiting high priority caller, and
// only when there is none to the longest waiting low priority caller. The
// zero value is an unlocked mutex.
type PriorityMutex struct {
	mu     sync.Mutex
	locked bool
	high   []chan struct{}
	low    []chan struct{}
}

// Lock blocks until the caller owns the mutex or the context is done. A
// caller that gives up is removed from the queue and never owns the mutex.
func (pm *PriorityMutex) Lock(ctx context.Context, p Priority) error {
	pm.mu.Lock()

	// The lock is handed over directly on unlock, so an unlocked mutex has
	// no waiters.
	if !pm.locked {
		pm.locked = true
		pm.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	switch p {
	case High:
		pm.high = append(pm.high, ready)
	default:
		pm.low = append(pm.low, ready)
	}
	pm.mu.Unlock()

	select {
	case <-ready:
		return nil

	case <-ctx.Done():
		pm.mu.Lock()
		removed := pm.remove(ready, p)
		pm.mu.Unlock()

		// The lock was handed over while the context was cancelled.
		if !removed {
			pm.Unlock()
		}

		return ctx.Err()
	}
}

// Unlock releases the mutex. It panics when the mutex is not locked.
func (pm *PriorityMutex) Unlock() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.locked {
		panic("lock: unlock of unlocked PriorityMutex")
	}

	var next chan struct{}
	switch {
	case len(pm.high) > 0:
		next, pm.high = pm.high[0], pm.high[1:]
	case len(pm.low) > 0:
		next, pm.low = pm.low[0], pm.low[1:]
	default:
		pm.locked = false
		return
	}

	close(next)
}

// Waiting returns the number of callers queued at each priority.
func (pm *PriorityMutex) Waiting() (high int, low int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	return len(pm.high), len(pm.low)
}

// remove takes the waiter out of its queue. It reports false when the waiter
// was already handed the lock.
func (pm *PriorityMutex) remove(ready chan struct{}, p Priority) bool {
	queue := &pm.low
	if p == High {
		queue = &pm.high
	}

	for i, ch := range *queue {
		if ch == ready {
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return true
		}
	}

	return false
}
