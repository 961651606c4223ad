package tree

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"
)

var (
	treePrometheusMetrics sync.Once

	traversalRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "traversal_restarts_total",
			Help:      "Number of times path traversal restarted from the root, because locks had to be released temporarily.",
		})
	transactionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "transactions_completed_total",
			Help:      "Number of read-write lock-list transactions that completed, per outcome.",
		},
		[]string{"outcome"})
	transactionsCompletedCommitted = transactionsCompleted.WithLabelValues("Committed")
	transactionsCompletedAborted   = transactionsCompleted.WithLabelValues("Aborted")
	transactionsCompletedEphemeral = transactionsCompleted.WithLabelValues("Ephemeral")

	watcherNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "watcher_notifications_total",
			Help:      "Number of notifications delivered to watchers, per event type.",
		},
		[]string{"event_type"})
)

// Configuration of a Tree. It is constructed by the composition root,
// typically from a configuration file.
type Configuration struct {
	LockStrategy             co_sync.LockStrategy
	Clock                    clock.Clock
	MaximumLockWait          time.Duration
	ChildrenThresholds       ChildrenThresholds
	MaximumRetrievedChildren int
	LockDown                 *LockDownSet
	Logger                   *zap.Logger
}

// Tree is the in-memory representation of the hierarchical namespace.
// Nodes are bound to the records stored by a persistence.Factory.
//
// All access to nodes is expected to take place through lock-list
// transactions, which acquire the hierarchical locks needed to access
// nodes consistently.
type Tree struct {
	factory                  persistence.Factory
	lockStrategy             co_sync.LockStrategy
	clock                    clock.Clock
	maximumLockWait          time.Duration
	childrenThresholds       ChildrenThresholds
	maximumRetrievedChildren int
	lockDown                 *LockDownSet
	logger                   *zap.Logger
	bulkWatchers             *BulkWatcherCollection
	waitHandlePool           co_sync.WaitHandlePool

	lastTxID atomic.Int64
	nodes    sync.Map
	root     atomic.Pointer[Node]
}

// NewTree creates a Tree whose nodes are bound to the records that
// are currently stored by a persistence.Factory.
func NewTree(factory persistence.Factory, configuration *Configuration) (*Tree, error) {
	nodePrometheusMetrics.Do(func() {
		prometheus.MustRegister(nodePromotions)
	})
	treePrometheusMetrics.Do(func() {
		prometheus.MustRegister(traversalRestarts)
		prometheus.MustRegister(transactionsCompleted)
		prometheus.MustRegister(watcherNotifications)
	})

	lockDown := configuration.LockDown
	if lockDown == nil {
		lockDown = NewLockDownSet(nil)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tree{
		factory:                  factory,
		lockStrategy:             configuration.LockStrategy,
		clock:                    configuration.Clock,
		maximumLockWait:          configuration.MaximumLockWait,
		childrenThresholds:       configuration.ChildrenThresholds,
		maximumRetrievedChildren: configuration.MaximumRetrievedChildren,
		lockDown:                 lockDown,
		logger:                   logger,
		bulkWatchers:             NewBulkWatcherCollection(),
	}
	if err := t.Load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load rebuilds the nodes of the tree from the records stored by the
// persistence.Factory. Nodes that were bound previously are detached.
// It may only be called while no transactions are running.
func (t *Tree) Load() error {
	records := t.factory.Records()
	nodes := make(map[persistence.RecordID]*Node, len(records))
	lastTxID := int64(0)
	for _, r := range records {
		nodes[r.ID()] = &Node{
			tree:     t,
			recordID: r.ID(),
			name:     r.Name(),
		}
		if txID := r.Contents().Stat.LastTxID(); txID > lastTxID {
			lastTxID = txID
		}
	}
	root, ok := nodes[persistence.RootRecordID]
	if !ok {
		return status.Error(codes.InvalidArgument, "Records do not contain a root")
	}
	for _, r := range records {
		if r.ID() == persistence.RootRecordID {
			continue
		}
		parent, ok := nodes[r.ParentID()]
		if !ok {
			return status.Errorf(codes.InvalidArgument, "Parent %d of record %d does not exist", r.ParentID(), r.ID())
		}
		child := nodes[r.ID()]
		child.parent.Store(parent)
		if !parent.Promote().children.insert(child) {
			return status.Errorf(codes.InvalidArgument, "Record %d has multiple children named %#v", r.ParentID(), r.Name())
		}
	}
	for id, n := range nodes {
		depth := 0
		for p := n; p != root; p = p.Parent() {
			if depth > len(nodes) {
				return status.Errorf(codes.InvalidArgument, "Record %d is not reachable from the root", id)
			}
			depth++
		}
	}

	for id, n := range nodes {
		t.bind(id, n)
	}
	t.nodes.Range(func(key, value any) bool {
		if _, ok := nodes[key.(persistence.RecordID)]; !ok {
			t.nodes.Delete(key)
			value.(*Node).detached.Store(true)
		}
		return true
	})
	t.root.Store(root)
	if lastTxID > t.lastTxID.Load() {
		t.lastTxID.Store(lastTxID)
	}
	return nil
}

func (t *Tree) bind(id persistence.RecordID, n *Node) {
	if previous, loaded := t.nodes.Swap(id, n); loaded && previous.(*Node) != n {
		previous.(*Node).detached.Store(true)
	}
}

func (t *Tree) unbind(n *Node) {
	t.nodes.CompareAndDelete(n.recordID, n)
}

// Root returns the root node of the tree.
func (t *Tree) Root() *Node {
	return t.root.Load()
}

// NodeByID returns the node that is bound to a record.
func (t *Tree) NodeByID(id persistence.RecordID) (*Node, bool) {
	n, ok := t.nodes.Load(id)
	if !ok {
		return nil, false
	}
	return n.(*Node), true
}

// Factory returns the persistence.Factory storing the records of the
// tree.
func (t *Tree) Factory() persistence.Factory {
	return t.factory
}

// LockDown returns the set of paths that are locked down. Changes to
// the set take effect immediately.
func (t *Tree) LockDown() *LockDownSet {
	return t.lockDown
}

// BulkWatchers returns the collection of watchers that are notified
// of changes to all nodes below a path prefix.
func (t *Tree) BulkWatchers() *BulkWatcherCollection {
	return t.bulkWatchers
}

// MaximumRetrievedChildren returns the maximum number of children that
// may be requested through a retrieval condition.
func (t *Tree) MaximumRetrievedChildren() int {
	return t.maximumRetrievedChildren
}

// LastTxID returns the identifier of the most recently allocated
// transaction.
func (t *Tree) LastTxID() int64 {
	return t.lastTxID.Load()
}

// NewReadWriteLockList creates a lock-list transaction that may modify
// the tree.
func (t *Tree) NewReadWriteLockList(auth *acl.Authentication, options ReadWriteOptions) LockList {
	return &readWriteLockList{
		tree:    t,
		auth:    auth,
		options: options,
		locks:   NewLayeredLockCollection(t.lockStrategy, t.clock, t.maximumLockWait),
		txID:    options.TxID,
		txTime:  options.TxTime,
	}
}

// NewReadOnlyLockList creates a lock-list transaction that performs
// ACL checks, but does not acquire any locks. It cannot be used to
// modify the tree.
func (t *Tree) NewReadOnlyLockList(auth *acl.Authentication) LockList {
	return &readOnlyLockList{
		auth: auth,
	}
}
