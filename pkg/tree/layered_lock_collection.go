package tree

import (
	"context"
	"sort"
	"sync"
	"time"

	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	layeredLockCollectionPrometheusMetrics sync.Once

	layeredLockCollectionAcquisitionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "lock_acquisition_duration_seconds",
			Help:      "Amount of time spent waiting for hierarchical locks, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		},
		[]string{"mode", "outcome"})
)

type lockRequest struct {
	node *Node
	mode co_sync.LockMode
}

func lessLockRequest(a, b lockRequest) bool {
	if a.node.name != b.node.name {
		return a.node.name < b.node.name
	}
	return a.node.recordID < b.node.recordID
}

// PlannedLock is an entry in the acquisition plan of a
// LayeredLockCollection.
type PlannedLock struct {
	Level int
	Lock  *co_sync.LockObject
	Mode  co_sync.LockMode
}

// LayeredLockCollection keeps track of the hierarchical locks that a
// single operation needs to hold. Lock requests are recorded per level
// of the tree and coalesced into an acquisition plan in which every
// LockObject occurs at most once, ordered by LockObject.Order().
//
// Because the plan is always acquired in that order, and the order is
// shared by all LayeredLockCollections in the process, concurrent
// operations cannot end up waiting for each other in a cycle.
//
// LayeredLockCollection is not safe for concurrent use. It is owned
// by a single lock-list transaction.
type LayeredLockCollection struct {
	strategy    co_sync.LockStrategy
	clock       clock.Clock
	maximumWait time.Duration

	requests       []*btree.BTreeG[lockRequest]
	writeRequested bool
	held           []PlannedLock
	released       bool
}

// NewLayeredLockCollection creates a LayeredLockCollection that
// obtains its LockObjects from a LockStrategy. Every individual lock
// acquisition may wait for at most maximumWait.
func NewLayeredLockCollection(strategy co_sync.LockStrategy, clock clock.Clock, maximumWait time.Duration) *LayeredLockCollection {
	layeredLockCollectionPrometheusMetrics.Do(func() {
		prometheus.MustRegister(layeredLockCollectionAcquisitionDurationSeconds)
	})

	return &LayeredLockCollection{
		strategy:    strategy,
		clock:       clock,
		maximumWait: maximumWait,
	}
}

func newLockCollectionReleasedError() error {
	return status.Error(codes.FailedPrecondition, "Lock collection has already been released")
}

// AddLock requests a lock on a node at a given level. If the node was
// already requested, the strongest of both modes is retained.
func (c *LayeredLockCollection) AddLock(n *Node, level int, mode co_sync.LockMode) error {
	if c.released {
		return newLockCollectionReleasedError()
	}
	if level < 0 {
		panic("Attempted to request a lock at a negative level")
	}
	for len(c.requests) <= level {
		c.requests = append(c.requests, nil)
	}
	requests := c.requests[level]
	if requests == nil {
		requests = btree.NewG(8, lessLockRequest)
		c.requests[level] = requests
	}
	request := lockRequest{node: n, mode: mode}
	if existing, ok := requests.Get(request); ok {
		if existing.mode >= mode {
			return nil
		}
	}
	requests.ReplaceOrInsert(request)
	if mode == co_sync.LockModeWrite {
		c.writeRequested = true
	}
	return nil
}

// isCoveredByWriter returns true if one of the strict ancestors of a
// node has been requested for writing.
func isCoveredByWriter(n *Node, writers map[*Node]struct{}) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if _, ok := writers[p]; ok {
			return true
		}
	}
	return false
}

// Plan returns the locks that need to be acquired to satisfy all
// requests, in acquisition order.
//
// Requests for nodes whose ancestors are requested for writing are
// left out of the plan, as holding the ancestor's write lock already
// excludes every other operation that accesses the subtree. This only
// holds if other operations acquire read locks on all ancestors of
// the nodes they access, which is not the case when reads go
// unlocked.
func (c *LayeredLockCollection) Plan() []PlannedLock {
	var writers map[*Node]struct{}
	if c.writeRequested {
		writers = map[*Node]struct{}{}
		for _, requests := range c.requests {
			if requests != nil {
				requests.Ascend(func(r lockRequest) bool {
					if r.mode == co_sync.LockModeWrite {
						writers[r.node] = struct{}{}
					}
					return true
				})
			}
		}
	}

	var plan []PlannedLock
	indices := map[*co_sync.LockObject]int{}
	for level, requests := range c.requests {
		if requests == nil {
			continue
		}
		requests.Ascend(func(r lockRequest) bool {
			identity := uint64(r.node.recordID)
			var lock *co_sync.LockObject
			if r.mode == co_sync.LockModeWrite {
				lock = c.strategy.LockForWrite(level, identity)
			} else {
				lock = c.strategy.LockForRead(level, identity)
			}
			if lock == nil {
				return true
			}
			if writers != nil && c.strategy.LockForRead(level, identity) != nil && isCoveredByWriter(r.node, writers) {
				return true
			}
			if i, ok := indices[lock]; ok {
				plan[i].Mode = plan[i].Mode.Max(r.mode)
			} else {
				indices[lock] = len(plan)
				plan = append(plan, PlannedLock{
					Level: level,
					Lock:  lock,
					Mode:  r.mode,
				})
			}
			return true
		})
	}
	sort.Slice(plan, func(i, j int) bool {
		return plan[i].Lock.Order() < plan[j].Lock.Order()
	})
	return plan
}

func (c *LayeredLockCollection) releaseDownTo(count int) {
	for len(c.held) > count {
		pl := c.held[len(c.held)-1]
		c.held = c.held[:len(c.held)-1]
		pl.Lock.Release(pl.Mode)
	}
}

func (c *LayeredLockCollection) acquire(ctx context.Context, pl PlannedLock) error {
	if ctx.Err() != nil {
		layeredLockCollectionAcquisitionDurationSeconds.WithLabelValues(pl.Mode.String(), "Canceled").Observe(0)
		return util.StatusWrapf(util.StatusFromContext(ctx), "Failed to acquire %s lock at level %d", pl.Mode, pl.Level)
	}
	if pl.Lock.TryAcquire(pl.Mode) {
		layeredLockCollectionAcquisitionDurationSeconds.WithLabelValues(pl.Mode.String(), "Granted").Observe(0)
		return nil
	}

	timeStart := c.clock.Now()
	acquireCtx, cancel := c.clock.NewContextWithTimeout(ctx, c.maximumWait)
	err := pl.Lock.Acquire(acquireCtx, pl.Mode)
	cancel()
	duration := c.clock.Now().Sub(timeStart).Seconds()
	if err == nil {
		layeredLockCollectionAcquisitionDurationSeconds.WithLabelValues(pl.Mode.String(), "Granted").Observe(duration)
		return nil
	}
	if ctx.Err() != nil {
		layeredLockCollectionAcquisitionDurationSeconds.WithLabelValues(pl.Mode.String(), "Canceled").Observe(duration)
		return util.StatusWrapf(util.StatusFromContext(ctx), "Failed to acquire %s lock at level %d", pl.Mode, pl.Level)
	}
	layeredLockCollectionAcquisitionDurationSeconds.WithLabelValues(pl.Mode.String(), "Timeout").Observe(duration)
	return status.Errorf(codes.Unavailable, "Failed to acquire %s lock at level %d within %s", pl.Mode, pl.Level, c.maximumWait)
}

// Acquire all locks in the current plan. Locks that are already held
// and form a prefix of the plan are retained. Any other locks that are
// held are released first, so that all locks are acquired in order.
// This function returns false if locks had to be released, in which
// case the caller needs to revalidate any state it observed while
// holding them.
//
// Upon failure, the locks that were acquired remain held until
// Release() is called.
func (c *LayeredLockCollection) Acquire(ctx context.Context) (bool, error) {
	if c.released {
		return false, newLockCollectionReleasedError()
	}
	plan := c.Plan()
	keep := 0
	for keep < len(c.held) && keep < len(plan) && c.held[keep] == plan[keep] {
		keep++
	}
	stable := keep == len(c.held)
	c.releaseDownTo(keep)
	for _, pl := range plan[keep:] {
		if err := c.acquire(ctx, pl); err != nil {
			return false, err
		}
		c.held = append(c.held, pl)
	}
	return stable, nil
}

// AcquireRetained acquires all locks in the current plan that are not
// held yet, without releasing any of the locks that are held. Locks
// may thus be acquired out of order. Every acquisition remains bounded
// by the maximum wait, meaning that operations waiting for each other
// in a cycle fail with a retriable error.
//
// Locks that are held in read mode cannot be upgraded to write mode,
// as other readers may be waiting to upgrade as well.
func (c *LayeredLockCollection) AcquireRetained(ctx context.Context) error {
	if c.released {
		return newLockCollectionReleasedError()
	}
	heldModes := make(map[*co_sync.LockObject]co_sync.LockMode, len(c.held))
	for _, pl := range c.held {
		heldModes[pl.Lock] = pl.Mode
	}
	for _, pl := range c.Plan() {
		if mode, ok := heldModes[pl.Lock]; ok {
			if mode < pl.Mode {
				return status.Errorf(codes.Unavailable, "Cannot upgrade %s lock at level %d to a %s lock while retaining held locks", mode, pl.Level, pl.Mode)
			}
			continue
		}
		if err := c.acquire(ctx, pl); err != nil {
			return err
		}
		c.held = append(c.held, pl)
		heldModes[pl.Lock] = pl.Mode
	}
	return nil
}

// HeldLocks returns the locks that are currently held, in acquisition
// order.
func (c *LayeredLockCollection) HeldLocks() []PlannedLock {
	return append([]PlannedLock(nil), c.held...)
}

// Release all locks in reverse acquisition order. Once released, no
// further locks may be requested or acquired. Calling this function
// multiple times has no effect.
func (c *LayeredLockCollection) Release() {
	c.releaseDownTo(0)
	c.released = true
}
