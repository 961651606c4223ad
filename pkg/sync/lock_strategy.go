package sync

// LockStrategy determines which LockObject needs to be acquired to
// access a node at a given level in the tree. A nil LockObject
// indicates that no locking needs to be performed.
//
// Implementations are selected once, based on configuration. Code
// accessing the tree should not need to be aware of which strategy is
// in use.
type LockStrategy interface {
	LockForRead(level int, identity uint64) *LockObject
	LockForWrite(level int, identity uint64) *LockObject
}

type multiLevelLockStrategy struct {
	pool            *MultiLevelLockPool
	readsGoUnlocked bool
}

// NewMultiLevelLockStrategy creates a LockStrategy that provides a
// separate LockObject for every node, taken from a MultiLevelLockPool.
// This permits operations on disjoint parts of the tree to run in
// parallel.
//
// When readsGoUnlocked is set, read accesses don't acquire any locks.
// This improves throughput at the cost of readers potentially
// observing the effects of transactions that are still in progress.
func NewMultiLevelLockStrategy(pool *MultiLevelLockPool, readsGoUnlocked bool) LockStrategy {
	return &multiLevelLockStrategy{
		pool:            pool,
		readsGoUnlocked: readsGoUnlocked,
	}
}

func (ls *multiLevelLockStrategy) LockForRead(level int, identity uint64) *LockObject {
	if ls.readsGoUnlocked {
		return nil
	}
	return ls.pool.GetLockObject(level, identity)
}

func (ls *multiLevelLockStrategy) LockForWrite(level int, identity uint64) *LockObject {
	return ls.pool.GetLockObject(level, identity)
}

type singleLockStrategy struct {
	lock            *LockObject
	readsGoUnlocked bool
}

// NewSingleLockStrategy creates a LockStrategy that protects the
// entire tree with a single LockObject.
func NewSingleLockStrategy(readsGoUnlocked bool) LockStrategy {
	return &singleLockStrategy{
		lock:            NewLockObject(0),
		readsGoUnlocked: readsGoUnlocked,
	}
}

func (ls *singleLockStrategy) LockForRead(level int, identity uint64) *LockObject {
	if ls.readsGoUnlocked {
		return nil
	}
	return ls.lock
}

func (ls *singleLockStrategy) LockForWrite(level int, identity uint64) *LockObject {
	return ls.lock
}

type externallySerializedLockStrategy struct{}

func (externallySerializedLockStrategy) LockForRead(level int, identity uint64) *LockObject {
	return nil
}

func (externallySerializedLockStrategy) LockForWrite(level int, identity uint64) *LockObject {
	return nil
}

// ExternallySerializedLockStrategy is a LockStrategy that never
// returns any LockObjects. It can be used in case the caller already
// guarantees that operations against the tree are serialized.
var ExternallySerializedLockStrategy LockStrategy = externallySerializedLockStrategy{}
