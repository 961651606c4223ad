package tree

import (
	"context"
	"fmt"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"
)

// ReadWriteOptions controls the behavior of a read-write lock-list
// transaction.
type ReadWriteOptions struct {
	// OnlyEphemeral restricts the transaction to modifying
	// ephemeral nodes and creating ephemeral children. Changes made
	// by such transactions are not committed to persistence.
	OnlyEphemeral bool
	// SynchronousFinish causes Complete() to block until the
	// changes are durable.
	SynchronousFinish bool
	// TxID overrides the identifier of the transaction. When zero,
	// an identifier is allocated by the tree.
	TxID int64
	// TxTime overrides the time of the transaction, in milliseconds
	// since the Unix epoch. When zero, the current time is used.
	TxTime int64
}

type readWriteLockList struct {
	tree    *Tree
	auth    *acl.Authentication
	options ReadWriteOptions
	locks   *LayeredLockCollection

	txID   int64
	txTime int64

	changeList     persistence.ChangeList
	abortActions   actionStack
	commitActions  []func()
	markedForAbort bool
	completed      bool
}

func (ll *readWriteLockList) Authentication() *acl.Authentication {
	return ll.auth
}

func (ll *readWriteLockList) AddLockRo(n *Node, level int) error {
	if err := checkReadAccess(n, ll.auth); err != nil {
		return err
	}
	if err := ll.tree.lockDown.check(n); err != nil {
		return err
	}
	if ll.auth.IsLockFreeSession {
		return nil
	}
	return ll.locks.AddLock(n, level, co_sync.LockModeRead)
}

func (ll *readWriteLockList) AddLockRw(n *Node, perm acl.Perm, level int, isChildEphemeral bool) error {
	contents := n.Contents()
	if contents == nil {
		return newNodeNotFoundError(n.Path())
	}
	if !ll.auth.IsSuperSession && !acl.IsAllowed(contents.ACL, ll.auth, perm) {
		return newACLError(n.Path(), perm)
	}
	if ll.options.OnlyEphemeral && !n.IsEphemeral() && (perm != acl.PermCreate || !isChildEphemeral) {
		return status.Errorf(codes.PermissionDenied, "Only ephemeral nodes can be modified by this session, while %#v is not ephemeral", n.Path())
	}
	if err := ll.tree.lockDown.check(n); err != nil {
		return err
	}
	if ll.auth.IsLockFreeSession {
		return nil
	}
	return ll.locks.AddLock(n, level, co_sync.LockModeWrite)
}

func (ll *readWriteLockList) addAncestorLock(n *Node, level int) error {
	if ll.auth.IsLockFreeSession {
		return nil
	}
	return ll.locks.AddLock(n, level, co_sync.LockModeRead)
}

// LockAll acquires all locks that have been registered. Once the
// transaction has modified the tree, locks are no longer released to
// restore the lock order, as that would expose uncommitted changes.
func (ll *readWriteLockList) LockAll(ctx context.Context) (bool, error) {
	if ll.changeList != nil {
		return true, ll.locks.AcquireRetained(ctx)
	}
	return ll.locks.Acquire(ctx)
}

func (ll *readWriteLockList) addRemovalLock(n *Node, level int) error {
	if n.Contents() == nil {
		return newNodeNotFoundError(n.Path())
	}
	if ll.options.OnlyEphemeral && !n.IsEphemeral() {
		return status.Errorf(codes.PermissionDenied, "Only ephemeral nodes can be modified by this session, while %#v is not ephemeral", n.Path())
	}
	if err := ll.tree.lockDown.check(n); err != nil {
		return err
	}
	if ll.auth.IsLockFreeSession {
		return nil
	}
	return ll.locks.AddLock(n, level, co_sync.LockModeWrite)
}

func (ll *readWriteLockList) MarkForAbort() {
	ll.markedForAbort = true
}

func (ll *readWriteLockList) IsMarkedForAbort() bool {
	return ll.markedForAbort
}

func (ll *readWriteLockList) checkModifiable() error {
	if ll.completed {
		return status.Errorf(codes.FailedPrecondition, "Transaction %d has already completed", ll.TxID())
	}
	if ll.markedForAbort {
		return status.Errorf(codes.FailedPrecondition, "Transaction %d has been marked for abort", ll.TxID())
	}
	return nil
}

func (ll *readWriteLockList) RunOnCommit(action func()) error {
	if ll.completed {
		return status.Errorf(codes.FailedPrecondition, "Transaction %d has already completed", ll.TxID())
	}
	ll.commitActions = append(ll.commitActions, action)
	return nil
}

func (ll *readWriteLockList) RunOnAbort(action func()) error {
	if err := ll.checkModifiable(); err != nil {
		return err
	}
	ll.abortActions.push(action)
	return nil
}

func (ll *readWriteLockList) TxID() int64 {
	if ll.txID == 0 {
		ll.txID = ll.tree.lastTxID.Add(1)
	}
	return ll.txID
}

func (ll *readWriteLockList) TxTime() int64 {
	if ll.txTime == 0 {
		ll.txTime = ll.tree.clock.Now().UnixMilli()
	}
	return ll.txTime
}

// beginChange is called by all Append*() methods before making a
// change. It creates the change list when needed.
func (ll *readWriteLockList) beginChange() (persistence.ChangeList, error) {
	if err := ll.checkModifiable(); err != nil {
		return nil, err
	}
	if ll.changeList == nil {
		ll.changeList = ll.tree.factory.NewChangeList()
		ll.changeList.SetTime(ll.TxTime())
	}
	return ll.changeList, nil
}

func (ll *readWriteLockList) getRecord(n *Node) (*persistence.Record, error) {
	r, ok := n.Record()
	if !ok {
		return nil, newNodeNotFoundError(n.Path())
	}
	return r, nil
}

func (ll *readWriteLockList) updateContents(r *persistence.Record, update func(contents *persistence.Contents)) {
	previous := r.Contents()
	updated := *previous
	update(&updated)
	factory := ll.tree.factory
	factory.UpdateContents(r, &updated)
	ll.abortActions.push(func() { factory.UpdateContents(r, previous) })
}

func (ll *readWriteLockList) updateParentStat(parent *persistence.Record, childrenDelta int32) {
	txID := ll.TxID()
	ll.updateContents(parent, func(contents *persistence.Contents) {
		contents.Stat.Cversion++
		contents.Stat.Pzxid = txID
		contents.Stat.NumChildren += childrenDelta
	})
}

func (ll *readWriteLockList) AppendCreate(name string, data []byte, entries []acl.Entry, ephemeral bool) (*Node, error) {
	cl, err := ll.beginChange()
	if err != nil {
		return nil, err
	}
	t := ll.tree
	r := t.factory.CreateRecord(name, ephemeral, &persistence.Contents{
		Data: data,
		ACL:  entries,
		Stat: persistence.NewStat(ll.TxID(), ll.TxTime(), len(data)),
	})
	n := &Node{
		tree:     t,
		recordID: r.ID(),
		name:     name,
	}
	t.bind(r.ID(), n)
	cl.Record(persistence.Change{Kind: persistence.ChangeKindCreate, Image: r.Image()})
	ll.abortActions.push(func() {
		t.unbind(n)
		t.factory.DeleteRecord(r)
	})
	return n, nil
}

func (ll *readWriteLockList) AppendAddChild(parent, child *Node) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	parentRecord, err := ll.getRecord(parent)
	if err != nil {
		return err
	}
	childRecord, err := ll.getRecord(child)
	if err != nil {
		return err
	}
	if child.Parent() != nil {
		return status.Errorf(codes.FailedPrecondition, "Node %#v already has a parent", child.Path())
	}
	if parentRecord.IsEphemeral() {
		return status.Errorf(codes.FailedPrecondition, "Node %#v is ephemeral, meaning it cannot have children", parent.Path())
	}
	children := parent.Promote().children
	if !children.insert(child) {
		return status.Errorf(codes.AlreadyExists, "Node %#v already has a child named %#v", parent.Path(), child.name)
	}
	previousParentID := childRecord.ParentID()
	childRecord.SetParentID(parentRecord.ID())
	child.parent.Store(parent)
	ll.abortActions.push(func() {
		child.parent.Store(nil)
		childRecord.SetParentID(previousParentID)
		children.remove(child.name)
	})
	ll.updateParentStat(parentRecord, 1)

	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: childRecord.Image()})
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: parentRecord.Image()})
	return nil
}

// unlink removes a child from its parent, without deleting any
// records.
func (ll *readWriteLockList) unlink(parent, child *Node, parentRecord *persistence.Record) error {
	complete, ok := parent.AsComplete()
	if !ok || complete.children.get(child.name) != child {
		return status.Errorf(codes.NotFound, "Node %#v is not a child of %#v", child.name, parent.Path())
	}
	complete.children.remove(child.name)
	child.parent.Store(nil)
	ll.abortActions.push(func() {
		child.parent.Store(parent)
		complete.children.insert(child)
	})
	ll.updateParentStat(parentRecord, -1)
	return nil
}

// deleteRecord removes the record of a node from the arena.
func (ll *readWriteLockList) deleteRecord(cl persistence.ChangeList, n *Node, r *persistence.Record) {
	t := ll.tree
	cl.Record(persistence.Change{Kind: persistence.ChangeKindRemove, Image: r.Image()})
	t.unbind(n)
	t.factory.DeleteRecord(r)
	ll.abortActions.push(func() {
		t.factory.UndeleteRecord(r)
		t.bind(r.ID(), n)
	})
}

func (ll *readWriteLockList) AppendRemove(parent, child *Node) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	parentRecord, err := ll.getRecord(parent)
	if err != nil {
		return err
	}
	childRecord, err := ll.getRecord(child)
	if err != nil {
		return err
	}
	if child.ChildCount() > 0 {
		return status.Errorf(codes.FailedPrecondition, "Node %#v is not empty", child.Path())
	}
	if err := ll.unlink(parent, child, parentRecord); err != nil {
		return err
	}
	ll.deleteRecord(cl, child, childRecord)
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: parentRecord.Image()})
	return nil
}

func (ll *readWriteLockList) AppendRemoveNodeAndAllChildren(child *Node) (int, error) {
	cl, err := ll.beginChange()
	if err != nil {
		return 0, err
	}
	parent := child.Parent()
	if parent == nil {
		return 0, status.Error(codes.InvalidArgument, "The root node cannot be removed")
	}
	parentRecord, err := ll.getRecord(parent)
	if err != nil {
		return 0, err
	}

	// Delete the records of all descendants, deepest first. The
	// descendants remain linked to each other, so that only the
	// records need to be restored upon abort.
	count := 0
	var removeDescendants func(n *Node) error
	removeDescendants = func(n *Node) error {
		if complete, ok := n.AsComplete(); ok {
			for _, grandchild := range complete.Children() {
				if err := removeDescendants(grandchild); err != nil {
					return err
				}
			}
		}
		r, err := ll.getRecord(n)
		if err != nil {
			return err
		}
		ll.deleteRecord(cl, n, r)
		count++
		return nil
	}
	if complete, ok := child.AsComplete(); ok {
		for _, grandchild := range complete.Children() {
			if err := removeDescendants(grandchild); err != nil {
				return 0, err
			}
		}
	}

	childRecord, err := ll.getRecord(child)
	if err != nil {
		return 0, err
	}
	if err := ll.unlink(parent, child, parentRecord); err != nil {
		return 0, err
	}
	ll.deleteRecord(cl, child, childRecord)
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: parentRecord.Image()})
	return count + 1, nil
}

func (ll *readWriteLockList) AppendMove(source, destination, child *Node) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	sourceRecord, err := ll.getRecord(source)
	if err != nil {
		return err
	}
	destinationRecord, err := ll.getRecord(destination)
	if err != nil {
		return err
	}
	childRecord, err := ll.getRecord(child)
	if err != nil {
		return err
	}
	if child.Parent() != source {
		return status.Errorf(codes.FailedPrecondition, "Node %#v is not a child of %#v", child.name, source.Path())
	}
	for p := destination; p != nil; p = p.Parent() {
		if p == child {
			return status.Errorf(codes.InvalidArgument, "Node %#v cannot be moved into its own subtree", child.Path())
		}
	}
	if destinationRecord.IsEphemeral() {
		return status.Errorf(codes.FailedPrecondition, "Node %#v is ephemeral, meaning it cannot have children", destination.Path())
	}
	if destination.GetChild(child.name) != nil {
		return status.Errorf(codes.AlreadyExists, "Node %#v already has a child named %#v", destination.Path(), child.name)
	}

	if err := ll.unlink(source, child, sourceRecord); err != nil {
		return err
	}
	children := destination.Promote().children
	children.insert(child)
	child.parent.Store(destination)
	previousParentID := childRecord.ParentID()
	childRecord.SetParentID(destinationRecord.ID())
	ll.abortActions.push(func() {
		childRecord.SetParentID(previousParentID)
		child.parent.Store(nil)
		children.remove(child.name)
	})
	ll.updateParentStat(destinationRecord, 1)

	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: childRecord.Image()})
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: sourceRecord.Image()})
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: destinationRecord.Image()})
	return nil
}

func (ll *readWriteLockList) AppendSetACL(n *Node, entries []acl.Entry) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	r, err := ll.getRecord(n)
	if err != nil {
		return err
	}
	ll.updateContents(r, func(contents *persistence.Contents) {
		contents.ACL = entries
		contents.Stat.Aversion++
	})
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: r.Image()})
	return nil
}

func (ll *readWriteLockList) AppendSetData(n *Node, data []byte) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	r, err := ll.getRecord(n)
	if err != nil {
		return err
	}
	txID, txTime := ll.TxID(), ll.TxTime()
	ll.updateContents(r, func(contents *persistence.Contents) {
		contents.Data = data
		contents.Stat.Version++
		contents.Stat.Mzxid = txID
		contents.Stat.Mtime = txTime
		contents.Stat.DataLength = int32(len(data))
	})
	cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: r.Image()})
	return nil
}

func (ll *readWriteLockList) AppendPoison(n *Node, spec string) error {
	cl, err := ll.beginChange()
	if err != nil {
		return err
	}
	r, err := ll.getRecord(n)
	if err != nil {
		return err
	}
	cl.Record(persistence.Change{Kind: persistence.ChangeKindPoison, Image: r.Image(), PoisonSpec: spec})
	return nil
}

func (ll *readWriteLockList) commitFailed(err error) {
	ll.tree.logger.Error(
		"Failed to commit transaction after applying its changes",
		zap.Int64("transaction_id", ll.TxID()),
		zap.Error(err))
	panic(fmt.Sprintf("Failed to commit transaction %d: %s", ll.TxID(), err))
}

// finish commits or aborts the transaction. Locks are released when
// this function returns, regardless of whether it panics. A
// WaitHandle is returned if the caller needs to wait for the changes
// to become durable.
func (ll *readWriteLockList) finish() (task persistence.CommitTask, waitHandle *co_sync.WaitHandle) {
	defer ll.locks.Release()

	if ll.markedForAbort {
		ll.abortActions.runAll()
		if ll.changeList != nil {
			ll.changeList.Abort()
		}
		transactionsCompletedAborted.Inc()
		return nil, nil
	}

	for _, action := range ll.commitActions {
		action()
	}
	ll.abortActions = actionStack{}
	if ll.changeList == nil {
		transactionsCompletedCommitted.Inc()
		return nil, nil
	}
	if ll.options.OnlyEphemeral {
		ll.changeList.Abort()
		transactionsCompletedEphemeral.Inc()
		return nil, nil
	}
	if ll.options.SynchronousFinish {
		waitHandle = ll.tree.waitHandlePool.Get()
		if err := ll.changeList.CommitSync(ll.TxID(), waitHandle); err != nil {
			ll.commitFailed(err)
		}
	} else {
		var err error
		if task, err = ll.changeList.Commit(ll.TxID()); err != nil {
			ll.commitFailed(err)
		}
	}
	transactionsCompletedCommitted.Inc()
	return task, waitHandle
}

func (ll *readWriteLockList) Complete(ctx context.Context) (persistence.CommitTask, error) {
	if ll.completed {
		return nil, nil
	}
	ll.completed = true

	task, waitHandle := ll.finish()
	if waitHandle != nil {
		if err := waitHandle.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				ll.tree.waitHandlePool.Put(waitHandle)
			}
			return nil, util.StatusWrapf(err, "Failed to wait for transaction %d to become durable", ll.TxID())
		}
		ll.tree.waitHandlePool.Put(waitHandle)
	}
	return task, nil
}

func (ll *readWriteLockList) Release() {
	if !ll.completed {
		ll.completed = true
		ll.markedForAbort = true
		ll.finish()
	}
	ll.locks.Release()
}
