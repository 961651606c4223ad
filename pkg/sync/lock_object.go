package sync

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// writerWeight is the weight a writer acquires on the semaphore
// backing a LockObject. Readers acquire a weight of one, meaning that
// at most writerWeight readers may hold the lock at the same time.
const writerWeight = 1 << 30

// LockMode indicates whether a LockObject is acquired for shared or
// exclusive access.
type LockMode int

const (
	// LockModeRead acquires the lock in shared mode.
	LockModeRead LockMode = iota
	// LockModeWrite acquires the lock in exclusive mode.
	LockModeWrite
)

func (m LockMode) String() string {
	if m == LockModeWrite {
		return "write"
	}
	return "read"
}

// Max returns the strongest of two lock modes.
func (m LockMode) Max(other LockMode) LockMode {
	if other > m {
		return other
	}
	return m
}

// LockObject is a reader/writer lock whose acquisition is bounded by a
// context. Unlike sync.RWMutex it is possible to give up waiting for
// the lock, which is needed to turn lock contention into retriable
// errors instead of stalling request processing indefinitely.
//
// Waiters are granted the lock in FIFO order. A writer that is queued
// therefore prevents readers that arrive later from overtaking it,
// meaning writers cannot be starved by a continuous stream of
// readers.
//
// Every LockObject has a fixed position in a process wide total order,
// returned by Order(). Callers that need to hold multiple LockObjects
// at once must acquire them in increasing order to prevent deadlocks.
type LockObject struct {
	order     uint64
	semaphore *semaphore.Weighted
}

// NewLockObject creates a LockObject that is placed at a given
// position in the lock order.
func NewLockObject(order uint64) *LockObject {
	return &LockObject{
		order:     order,
		semaphore: semaphore.NewWeighted(writerWeight),
	}
}

// Order returns the position of the LockObject in the lock order.
func (l *LockObject) Order() uint64 {
	return l.order
}

func (l *LockObject) weight(mode LockMode) int64 {
	if mode == LockModeWrite {
		return writerWeight
	}
	return 1
}

// Acquire the lock in a given mode. When the context is done before
// the lock could be granted, the error of the context is returned and
// the lock is not held.
func (l *LockObject) Acquire(ctx context.Context, mode LockMode) error {
	return l.semaphore.Acquire(ctx, l.weight(mode))
}

// TryAcquire attempts to acquire the lock in a given mode without
// blocking.
func (l *LockObject) TryAcquire(mode LockMode) bool {
	return l.semaphore.TryAcquire(l.weight(mode))
}

// Release a lock that was previously acquired in a given mode.
func (l *LockObject) Release(mode LockMode) {
	l.semaphore.Release(l.weight(mode))
}
