package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	treeStorePrometheusMetrics sync.Once

	treeStoreTransactionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "store_transaction_retries_total",
			Help:      "Number of times a store operation was retried from scratch, because locks could not be acquired in time.",
		},
		[]string{"operation"})
)

// TreeStoreConfiguration contains the tunables of a Store created
// through NewTreeStore().
type TreeStoreConfiguration struct {
	// Number of times an operation is retried when it fails with
	// a retriable error, such as a lock acquisition timeout.
	LockTimeoutRetries int
	// If set, operations that modify the tree only return after
	// their changes have become durable.
	SynchronousCommits bool
	// Wildcard behavior of paths provided to operations that only
	// read from the tree.
	ReadWildcards tree.WildcardBehavior
}

type treeStore struct {
	tree          *tree.Tree
	configuration TreeStoreConfiguration
}

// NewTreeStore creates a Store that performs operations against a
// tree.Tree. Every operation runs as a single lock-list transaction.
func NewTreeStore(tr *tree.Tree, configuration TreeStoreConfiguration) Store {
	treeStorePrometheusMetrics.Do(func() {
		prometheus.MustRegister(treeStoreTransactionRetries)
	})

	return &treeStore{
		tree:          tr,
		configuration: configuration,
	}
}

func (s *treeStore) newReadWriteLockList(auth *acl.Authentication, onlyEphemeral bool) func() tree.LockList {
	return func() tree.LockList {
		return s.tree.NewReadWriteLockList(auth, tree.ReadWriteOptions{
			OnlyEphemeral:     onlyEphemeral,
			SynchronousFinish: s.configuration.SynchronousCommits,
		})
	}
}

// newReadLockList returns a factory of lock lists for operations that
// don't modify the tree. Lock-free sessions don't acquire any locks,
// meaning they can use read-only lock lists.
func (s *treeStore) newReadLockList(auth *acl.Authentication) func() tree.LockList {
	if auth.IsLockFreeSession {
		return func() tree.LockList {
			return s.tree.NewReadOnlyLockList(auth)
		}
	}
	return s.newReadWriteLockList(auth, false)
}

// runTransaction runs a function within a lock-list transaction,
// committing the transaction if the function succeeds. The transaction
// is retried from scratch if it fails with a retriable error.
//
// When committing asynchronously, failures to make the changes durable
// are reported by the persistence.Factory.
func (s *treeStore) runTransaction(ctx context.Context, operation string, newLockList func() tree.LockList, body func(ll tree.LockList) error) error {
	for attempt := 0; ; attempt++ {
		ll := newLockList()
		err := body(ll)
		if err == nil {
			_, err = ll.Complete(ctx)
			ll.Release()
			return err
		}
		ll.Release()
		if !tree.IsRetriable(err) || attempt >= s.configuration.LockTimeoutRetries {
			return err
		}
		treeStoreTransactionRetries.WithLabelValues(operation).Inc()
	}
}

func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

func checkVersion(path, field string, actual, expected int32) error {
	if expected != AnyVersion && actual != expected {
		return status.Errorf(codes.Aborted, "Node %#v has %s %d, while %d was expected", path, field, actual, expected)
	}
	return nil
}

func checkACL(entries []acl.Entry) error {
	if len(entries) == 0 {
		return status.Error(codes.InvalidArgument, "The ACL must contain at least one entry")
	}
	return nil
}

func getContents(n *tree.Node, path string) (*persistence.Contents, error) {
	if n != nil {
		if contents := n.Contents(); contents != nil {
			return contents, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "Node %#v does not exist", path)
}

func (s *treeStore) readLookup(path string) tree.NodeLookup {
	return tree.NodeLookup{
		Path:       path,
		Wildcards:  s.configuration.ReadWildcards,
		NodeAccess: acl.PermRead,
	}
}

// getExistingNode looks up a node, returning NOT_FOUND if it does
// not exist.
func (s *treeStore) getExistingNode(ctx context.Context, ll tree.LockList, lookup tree.NodeLookup) (*tree.Node, *persistence.Contents, error) {
	result, err := s.tree.GetNode(ctx, ll, lookup)
	if err != nil {
		return nil, nil, err
	}
	contents, err := getContents(result.Node, lookup.Path)
	if err != nil {
		return nil, nil, err
	}
	return result.Node, contents, nil
}

func (s *treeStore) create(ctx context.Context, ll tree.LockList, request *CreateRequest) (string, persistence.Stat, error) {
	if err := checkACL(request.ACL); err != nil {
		return "", persistence.Stat{}, err
	}
	pp, err := s.tree.GetPathParent(ctx, ll, tree.NodeLookup{
		Path:             request.Path,
		ParentAccess:     acl.PermCreate,
		IsChildEphemeral: request.Ephemeral,
	})
	if err != nil {
		return "", persistence.Stat{}, err
	}
	if pp.Parent == nil {
		return "", persistence.Stat{}, status.Errorf(codes.NotFound, "Parent of %#v does not exist", request.Path)
	}
	parent := pp.Parent
	parentContents, err := getContents(parent, request.Path)
	if err != nil {
		return "", persistence.Stat{}, err
	}

	name := pp.LastName
	if request.Sequential {
		name = fmt.Sprintf("%s%010d", name, parentContents.Stat.Cversion)
	}
	parentPath := parent.Path()
	path := childPath(parentPath, name)
	if parent.GetChild(name) != nil {
		return "", persistence.Stat{}, status.Errorf(codes.AlreadyExists, "Node %#v already exists", path)
	}

	n, err := ll.AppendCreate(name, request.Data, request.ACL, request.Ephemeral)
	if err != nil {
		return "", persistence.Stat{}, err
	}
	if err := ll.AppendAddChild(parent, n); err != nil {
		return "", persistence.Stat{}, err
	}
	if err := s.tree.ScheduleTriggerWatchers(n, path, tree.ChangeCreated, ll); err != nil {
		return "", persistence.Stat{}, err
	}
	if err := s.tree.ScheduleTriggerWatchers(parent, parentPath, tree.ChangeChildrenAdded, ll); err != nil {
		return "", persistence.Stat{}, err
	}
	return path, n.Contents().Stat, nil
}

func (s *treeStore) Create(ctx context.Context, auth *acl.Authentication, request CreateRequest) (string, persistence.Stat, error) {
	var path string
	var stat persistence.Stat
	// Ephemeral nodes are not persisted, meaning that creating
	// them does not need to go through the change list.
	err := s.runTransaction(ctx, "Create", s.newReadWriteLockList(auth, request.Ephemeral), func(ll tree.LockList) error {
		var err error
		path, stat, err = s.create(ctx, ll, &request)
		return err
	})
	if err != nil {
		return "", persistence.Stat{}, err
	}
	return path, stat, nil
}

type removedNode struct {
	node *tree.Node
	path string
}

// collectSubtree returns all nodes in a subtree in pre-order, together
// with their paths.
func collectSubtree(n *tree.Node, path string, removed []removedNode) []removedNode {
	removed = append(removed, removedNode{node: n, path: path})
	if complete, ok := n.AsComplete(); ok {
		for _, child := range complete.Children() {
			removed = collectSubtree(child, childPath(path, child.Name()), removed)
		}
	}
	return removed
}

func (s *treeStore) delete(ctx context.Context, ll tree.LockList, path string, version int32, recursive bool) (int, error) {
	var result tree.NodeLookupResult
	for {
		var err error
		result, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
			Path:         path,
			ParentAccess: acl.PermDelete,
			RemovesNode:  true,
		})
		if err != nil {
			return 0, err
		}
		if result.Node == nil {
			return 0, status.Errorf(codes.NotFound, "Node %#v does not exist", path)
		}
		if result.Parent == nil {
			return 0, status.Error(codes.InvalidArgument, "The root node cannot be removed")
		}
		if !recursive {
			break
		}
		stable, err := s.tree.LockSubtreeForRemoval(ctx, ll, result.Node, result.Level+1)
		if err != nil {
			return 0, err
		}
		if stable {
			break
		}
	}

	n, parent := result.Node, result.Parent
	contents, err := getContents(n, path)
	if err != nil {
		return 0, err
	}
	if err := checkVersion(path, "version", contents.Stat.Version, version); err != nil {
		return 0, err
	}

	var removed []removedNode
	count := 1
	if recursive {
		removed = collectSubtree(n, path, nil)
		if count, err = ll.AppendRemoveNodeAndAllChildren(n); err != nil {
			return 0, err
		}
	} else {
		removed = []removedNode{{node: n, path: path}}
		if err := ll.AppendRemove(parent, n); err != nil {
			return 0, err
		}
	}
	for _, r := range removed {
		if err := s.tree.ScheduleTriggerWatchers(r.node, r.path, tree.ChangeDeleted, ll); err != nil {
			return 0, err
		}
	}
	if err := s.tree.ScheduleTriggerWatchers(parent, parent.Path(), tree.ChangeChildrenRemoved, ll); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *treeStore) Delete(ctx context.Context, auth *acl.Authentication, path string, version int32, recursive bool) (int, error) {
	var count int
	err := s.runTransaction(ctx, "Delete", s.newReadWriteLockList(auth, false), func(ll tree.LockList) error {
		var err error
		count, err = s.delete(ctx, ll, path, version, recursive)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *treeStore) setData(ctx context.Context, ll tree.LockList, path string, data []byte, version int32) (persistence.Stat, error) {
	n, contents, err := s.getExistingNode(ctx, ll, tree.NodeLookup{
		Path:       path,
		NodeAccess: acl.PermWrite,
	})
	if err != nil {
		return persistence.Stat{}, err
	}
	if err := checkVersion(path, "version", contents.Stat.Version, version); err != nil {
		return persistence.Stat{}, err
	}
	if err := ll.AppendSetData(n, data); err != nil {
		return persistence.Stat{}, err
	}
	if err := s.tree.ScheduleTriggerWatchers(n, path, tree.ChangeDataChanged, ll); err != nil {
		return persistence.Stat{}, err
	}
	return n.Contents().Stat, nil
}

func (s *treeStore) SetData(ctx context.Context, auth *acl.Authentication, path string, data []byte, version int32) (persistence.Stat, error) {
	var stat persistence.Stat
	err := s.runTransaction(ctx, "SetData", s.newReadWriteLockList(auth, false), func(ll tree.LockList) error {
		var err error
		stat, err = s.setData(ctx, ll, path, data, version)
		return err
	})
	if err != nil {
		return persistence.Stat{}, err
	}
	return stat, nil
}

func (s *treeStore) SetACL(ctx context.Context, auth *acl.Authentication, path string, entries []acl.Entry, aclVersion int32) (persistence.Stat, error) {
	if err := checkACL(entries); err != nil {
		return persistence.Stat{}, err
	}
	var stat persistence.Stat
	err := s.runTransaction(ctx, "SetACL", s.newReadWriteLockList(auth, false), func(ll tree.LockList) error {
		n, contents, err := s.getExistingNode(ctx, ll, tree.NodeLookup{
			Path:       path,
			NodeAccess: acl.PermAdmin,
		})
		if err != nil {
			return err
		}
		if err := checkVersion(path, "ACL version", contents.Stat.Aversion, aclVersion); err != nil {
			return err
		}
		if err := ll.AppendSetACL(n, entries); err != nil {
			return err
		}
		if err := s.tree.ScheduleTriggerWatchers(n, path, tree.ChangeACLChanged, ll); err != nil {
			return err
		}
		stat = n.Contents().Stat
		return nil
	})
	if err != nil {
		return persistence.Stat{}, err
	}
	return stat, nil
}

func sameLookupResult(a, b *tree.NodeLookupResult) bool {
	return a.Node == b.Node && a.Parent == b.Parent
}

func (s *treeStore) Move(ctx context.Context, auth *acl.Authentication, path, destinationParent string, version int32) (string, error) {
	var newPath string
	err := s.runTransaction(ctx, "Move", s.newReadWriteLockList(auth, false), func(ll tree.LockList) error {
		// Locks registered by the second lookup may cause the
		// locks of the first lookup to be released temporarily.
		// Repeat both lookups until they yield the same results.
		lookup := func() (source, destination tree.NodeLookupResult, err error) {
			source, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
				Path:         path,
				ParentAccess: acl.PermDelete,
				RemovesNode:  true,
			})
			if err != nil {
				return
			}
			if source.Node == nil {
				err = status.Errorf(codes.NotFound, "Node %#v does not exist", path)
				return
			}
			if source.Parent == nil {
				err = status.Error(codes.InvalidArgument, "The root node cannot be moved")
				return
			}
			destination, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
				Path:       destinationParent,
				NodeAccess: acl.PermCreate,
			})
			if err != nil {
				return
			}
			if destination.Node == nil {
				err = status.Errorf(codes.NotFound, "Node %#v does not exist", destinationParent)
			}
			return
		}
		source, destination, err := lookup()
		if err != nil {
			return err
		}
		for {
			newSource, newDestination, err := lookup()
			if err != nil {
				return err
			}
			if sameLookupResult(&source, &newSource) && sameLookupResult(&destination, &newDestination) {
				break
			}
			source, destination = newSource, newDestination
		}

		n := source.Node
		contents, err := getContents(n, path)
		if err != nil {
			return err
		}
		if err := checkVersion(path, "version", contents.Stat.Version, version); err != nil {
			return err
		}
		if err := ll.AppendMove(source.Parent, destination.Node, n); err != nil {
			return err
		}
		newPath = n.Path()
		if err := s.tree.ScheduleTriggerWatchers(source.Parent, source.Parent.Path(), tree.ChangeChildrenRemoved, ll); err != nil {
			return err
		}
		return s.tree.ScheduleTriggerWatchers(destination.Node, destination.Node.Path(), tree.ChangeChildrenAdded, ll)
	})
	if err != nil {
		return "", err
	}
	return newPath, nil
}

func (s *treeStore) GetData(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) ([]byte, persistence.Stat, error) {
	var data []byte
	var stat persistence.Stat
	err := s.runTransaction(ctx, "GetData", s.newReadLockList(auth), func(ll tree.LockList) error {
		n, contents, err := s.getExistingNode(ctx, ll, s.readLookup(path))
		if err != nil {
			return err
		}
		data, stat = contents.Data, contents.Stat
		if watcher != nil {
			n.Promote().AddWatcher(watcher)
		}
		return nil
	})
	if err != nil {
		return nil, persistence.Stat{}, err
	}
	return data, stat, nil
}

// Exists returns the Stat of a node. Watchers can only be registered
// on nodes that exist, meaning that the watcher is discarded if the
// node does not exist.
func (s *treeStore) Exists(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) (*persistence.Stat, error) {
	var stat *persistence.Stat
	err := s.runTransaction(ctx, "Exists", s.newReadLockList(auth), func(ll tree.LockList) error {
		result, err := s.tree.GetNode(ctx, ll, s.readLookup(path))
		if err != nil {
			return err
		}
		stat = nil
		if result.Node != nil {
			if contents := result.Node.Contents(); contents != nil {
				statCopy := contents.Stat
				stat = &statCopy
				if watcher != nil {
					result.Node.Promote().AddWatcher(watcher)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stat, nil
}

func (s *treeStore) GetChildren(ctx context.Context, auth *acl.Authentication, path, condition string, watcher tree.Watcher) ([]string, persistence.Stat, error) {
	var children []string
	var stat persistence.Stat
	err := s.runTransaction(ctx, "GetChildren", s.newReadLockList(auth), func(ll tree.LockList) error {
		n, contents, err := s.getExistingNode(ctx, ll, s.readLookup(path))
		if err != nil {
			return err
		}
		if children, err = n.RetrieveChildren(condition, s.tree.MaximumRetrievedChildren()); err != nil {
			return err
		}
		stat = contents.Stat
		if watcher != nil {
			n.Promote().AddWatcher(watcher)
		}
		return nil
	})
	if err != nil {
		return nil, persistence.Stat{}, err
	}
	return children, stat, nil
}

func (s *treeStore) GetACL(ctx context.Context, auth *acl.Authentication, path string) ([]acl.Entry, persistence.Stat, error) {
	var entries []acl.Entry
	var stat persistence.Stat
	err := s.runTransaction(ctx, "GetACL", s.newReadLockList(auth), func(ll tree.LockList) error {
		_, contents, err := s.getExistingNode(ctx, ll, s.readLookup(path))
		if err != nil {
			return err
		}
		entries, stat = contents.ACL, contents.Stat
		return nil
	})
	if err != nil {
		return nil, persistence.Stat{}, err
	}
	return entries, stat, nil
}

// lockOperation registers and acquires the locks needed by an
// operation that is part of Multi(), without modifying the tree. Nodes
// that don't exist yet are skipped.
func (s *treeStore) lockOperation(ctx context.Context, ll tree.LockList, operation *Operation) error {
	var err error
	switch operation.Kind {
	case OperationKindCreate:
		_, err = s.tree.GetPathParent(ctx, ll, tree.NodeLookup{
			Path:         operation.Path,
			ParentAccess: acl.PermCreate,
		})
	case OperationKindDelete:
		_, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
			Path:         operation.Path,
			ParentAccess: acl.PermDelete,
			RemovesNode:  true,
		})
	case OperationKindSetData:
		_, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
			Path:       operation.Path,
			NodeAccess: acl.PermWrite,
		})
	case OperationKindCheck:
		_, err = s.tree.GetNode(ctx, ll, tree.NodeLookup{
			Path:       operation.Path,
			NodeAccess: acl.PermRead,
		})
	default:
		err = status.Errorf(codes.InvalidArgument, "Unknown operation kind %d", operation.Kind)
	}
	return err
}

func (s *treeStore) applyOperation(ctx context.Context, ll tree.LockList, operation *Operation) (OperationResult, error) {
	result := OperationResult{
		Kind: operation.Kind,
		Path: operation.Path,
	}
	var err error
	switch operation.Kind {
	case OperationKindCreate:
		result.Path, result.Stat, err = s.create(ctx, ll, &CreateRequest{
			Path:       operation.Path,
			Data:       operation.Data,
			ACL:        operation.ACL,
			Ephemeral:  operation.Ephemeral,
			Sequential: operation.Sequential,
		})
	case OperationKindDelete:
		_, err = s.delete(ctx, ll, operation.Path, operation.Version, false)
	case OperationKindSetData:
		result.Stat, err = s.setData(ctx, ll, operation.Path, operation.Data, operation.Version)
	case OperationKindCheck:
		var contents *persistence.Contents
		if _, contents, err = s.getExistingNode(ctx, ll, tree.NodeLookup{
			Path:       operation.Path,
			NodeAccess: acl.PermRead,
		}); err == nil {
			result.Stat = contents.Stat
			err = checkVersion(operation.Path, "version", contents.Stat.Version, operation.Version)
		}
	default:
		err = status.Errorf(codes.InvalidArgument, "Unknown operation kind %d", operation.Kind)
	}
	return result, err
}

// Multi applies all operations within a single transaction. Locks on
// all nodes that exist are acquired before the first operation is
// applied, so that the locks can be acquired in order.
func (s *treeStore) Multi(ctx context.Context, auth *acl.Authentication, operations []Operation) ([]OperationResult, error) {
	var results []OperationResult
	err := s.runTransaction(ctx, "Multi", s.newReadWriteLockList(auth, false), func(ll tree.LockList) error {
		for i := range operations {
			if err := s.lockOperation(ctx, ll, &operations[i]); err != nil {
				return util.StatusWrapf(err, "Operation %d", i)
			}
		}
		results = make([]OperationResult, 0, len(operations))
		for i := range operations {
			operation := &operations[i]
			result, err := s.applyOperation(ctx, ll, operation)
			if err != nil {
				return util.StatusWrapf(err, "Operation %d", i)
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *treeStore) AddBulkWatcher(spec string, watcher tree.Watcher) (string, error) {
	return s.tree.BulkWatchers().Add(spec, watcher)
}

func (s *treeStore) RemoveBulkWatcher(id string) bool {
	return s.tree.BulkWatchers().Remove(id)
}
