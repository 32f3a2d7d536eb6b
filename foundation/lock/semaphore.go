package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrLimitedSemaphoreFull is returned when a caller would exceed the waiting
// limit of a LimitedSemaphore.
var ErrLimitedSemaphoreFull = errors.New("limited semaphore is full")

// LimitedSemaphore admits up to an active limit of callers at once and lets up
// to a waiting limit of further callers queue. Callers beyond that fail fast.
type LimitedSemaphore struct {
	sem       *semaphore.Weighted
	available atomic.Int64
}

// NewLimitedSemaphore constructs a semaphore with the given limits.
func NewLimitedSemaphore(activeLimit int, waitingLimit int) *LimitedSemaphore {
	ls := LimitedSemaphore{
		sem: semaphore.NewWeighted(int64(activeLimit)),
	}
	ls.available.Store(int64(activeLimit + waitingLimit))

	return &ls
}

// Acquire waits for an active slot. The returned function releases the slot
// and is safe to call more than once.
func (ls *LimitedSemaphore) Acquire(ctx context.Context) (func(), error) {
	if ls.available.Add(-1) < 0 {
		ls.available.Add(1)
		return nil, ErrLimitedSemaphoreFull
	}

	if err := ls.sem.Acquire(ctx, 1); err != nil {
		ls.available.Add(1)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ls.sem.Release(1)
			ls.available.Add(1)
		})
	}

	return release, nil
}

// Available returns how many more callers can be active or waiting.
func (ls *LimitedSemaphore) Available() int {
	return int(ls.available.Load())
}
