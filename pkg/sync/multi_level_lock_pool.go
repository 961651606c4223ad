package sync

import (
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	multiLevelLockPoolPrometheusMetrics sync.Once

	multiLevelLockPoolLockObjectsAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "lock_pool_lock_objects_allocated_total",
			Help:      "Number of lock objects allocated by multi-level lock pools, per level.",
		},
		[]string{"level"})
)

type lockPoolLevel struct {
	firstOrder     uint64
	slots          []atomic.Pointer[LockObject]
	allocatedTotal prometheus.Counter
}

// MultiLevelLockPool provides a bounded number of LockObjects for
// every level of a tree. Nodes are mapped onto a LockObject at their
// level by hashing their identity. As the number of slots at a level
// is generally smaller than the number of nodes at that level,
// multiple nodes may share the same LockObject. This causes false
// sharing, but does not affect correctness.
//
// The last level acts as an overflow level. Nodes that are located
// deeper than the number of configured levels all use the LockObjects
// of the last level.
//
// LockObjects are ordered by level first and slot second. Acquiring
// them in increasing order thus implies that locks are taken top-down
// through the tree.
//
// LockObjects are allocated lazily, so that the memory usage of the
// pool is proportional to the number of slots that are actually used.
type MultiLevelLockPool struct {
	levels []lockPoolLevel
}

// NewMultiLevelLockPool creates a MultiLevelLockPool that has one
// level for every provided size. The last size corresponds to the
// overflow level.
func NewMultiLevelLockPool(sizesPerLevel []int) (*MultiLevelLockPool, error) {
	multiLevelLockPoolPrometheusMetrics.Do(func() {
		prometheus.MustRegister(multiLevelLockPoolLockObjectsAllocated)
	})

	if len(sizesPerLevel) == 0 {
		return nil, status.Error(codes.InvalidArgument, "At least one lock pool level must be configured")
	}
	levels := make([]lockPoolLevel, len(sizesPerLevel))
	firstOrder := uint64(0)
	for i, size := range sizesPerLevel {
		if size <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "Lock pool level %d has size %d, while it must be positive", i, size)
		}
		levels[i] = lockPoolLevel{
			firstOrder:     firstOrder,
			slots:          make([]atomic.Pointer[LockObject], size),
			allocatedTotal: multiLevelLockPoolLockObjectsAllocated.WithLabelValues(strconv.Itoa(i)),
		}
		firstOrder += uint64(size)
	}
	return &MultiLevelLockPool{
		levels: levels,
	}, nil
}

// LevelCount returns the number of levels in the pool, including the
// overflow level.
func (p *MultiLevelLockPool) LevelCount() int {
	return len(p.levels)
}

// GetSlot returns the level and the index of the slot within that
// level that a node with a given identity maps to. Levels beyond the
// last one are clamped to the overflow level.
func (p *MultiLevelLockPool) GetSlot(level int, identity uint64) (int, int) {
	if level < 0 {
		panic("Attempted to obtain a lock object at a negative level")
	}
	if level >= len(p.levels) {
		level = len(p.levels) - 1
	}
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], identity)
	return level, int(xxhash.Sum64(key[:]) % uint64(len(p.levels[level].slots)))
}

// GetLockObject returns the LockObject that a node with a given
// identity at a given level uses.
func (p *MultiLevelLockPool) GetLockObject(level int, identity uint64) *LockObject {
	clampedLevel, slot := p.GetSlot(level, identity)
	l := &p.levels[clampedLevel]
	if lockObject := l.slots[slot].Load(); lockObject != nil {
		return lockObject
	}
	newLockObject := NewLockObject(l.firstOrder + uint64(slot))
	if l.slots[slot].CompareAndSwap(nil, newLockObject) {
		l.allocatedTotal.Inc()
		return newLockObject
	}
	return l.slots[slot].Load()
}
