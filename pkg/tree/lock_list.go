package tree

import (
	"context"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LockList is a transaction against the tree, covering a single
// operation of a client. It keeps track of the locks that the
// operation needs, the changes it made and the actions that need to
// be run when the operation commits or aborts.
//
// The lifecycle of a LockList is as follows:
//
//   - Nodes are located using Tree.GetNode() or Tree.GetPathParent(),
//     which call AddLockRo() and AddLockRw() to register locks and
//     LockAll() to acquire them.
//   - Changes are made through the Append*() methods. These apply the
//     change to the tree immediately, while recording a compensating
//     action that undoes the change if the transaction aborts. If one
//     of these methods fails, the transaction needs to be aborted.
//   - Complete() commits the transaction, or aborts it if
//     MarkForAbort() was called.
//   - Release() releases all resources. If Complete() was not called,
//     the transaction is aborted.
//
// A LockList is owned by a single goroutine.
type LockList interface {
	// Authentication returns the identity of the session on whose
	// behalf the transaction runs.
	Authentication() *acl.Authentication

	// AddLockRo registers a read lock on a node, after checking
	// whether the session may read it.
	AddLockRo(n *Node, level int) error
	// AddLockRw registers a write lock on a node, after checking
	// whether the session has a given permission on it.
	// isChildEphemeral indicates whether the change to be made is
	// the creation of an ephemeral child.
	AddLockRw(n *Node, perm acl.Perm, level int, isChildEphemeral bool) error
	// LockAll acquires all locks that have been registered. It
	// returns false if locks that were held previously had to be
	// released temporarily.
	LockAll(ctx context.Context) (bool, error)

	MarkForAbort()
	IsMarkedForAbort() bool
	// RunOnCommit registers an action that is run when the
	// transaction commits.
	RunOnCommit(action func()) error
	// RunOnAbort registers an action that is run when the
	// transaction aborts. Actions are run in reverse order of
	// registration. This function fails if the transaction has
	// already been marked for abort.
	RunOnAbort(action func()) error

	// AppendCreate creates a node that is not yet part of the tree.
	// It needs to be linked into the tree using AppendAddChild().
	AppendCreate(name string, data []byte, entries []acl.Entry, ephemeral bool) (*Node, error)
	AppendAddChild(parent, child *Node) error
	// AppendRemove removes a node that has no children.
	AppendRemove(parent, child *Node) error
	// AppendRemoveNodeAndAllChildren removes a node and all of its
	// descendants, returning the number of nodes removed.
	AppendRemoveNodeAndAllChildren(child *Node) (int, error)
	// AppendMove moves a node from one parent to another, retaining
	// its name.
	AppendMove(source, destination, child *Node) error
	AppendSetACL(n *Node, entries []acl.Entry) error
	AppendSetData(n *Node, data []byte) error
	// AppendPoison records a poison pill for a node. Poison pills
	// don't modify the tree, but are forwarded to persistence.
	AppendPoison(n *Node, spec string) error

	// Complete commits or aborts the transaction and releases all
	// locks. When committing asynchronously, the returned task
	// yields the outcome of making the changes durable.
	Complete(ctx context.Context) (persistence.CommitTask, error)
	// Release aborts the transaction if it has not completed and
	// releases all locks. Calling it multiple times is permitted.
	Release()

	// TxID returns the identifier of the transaction.
	TxID() int64
	// TxTime returns the time of the transaction, in milliseconds
	// since the Unix epoch.
	TxTime() int64

	addAncestorLock(n *Node, level int) error
	addRemovalLock(n *Node, level int) error
}

func checkReadAccess(n *Node, auth *acl.Authentication) error {
	if auth.IsSuperSession {
		return nil
	}
	contents := n.Contents()
	if contents == nil {
		return newNodeNotFoundError(n.Path())
	}
	if !acl.IsAllowed(contents.ACL, auth, acl.PermRead) {
		return newACLError(n.Path(), acl.PermRead)
	}
	return nil
}

type readOnlyLockList struct {
	auth           *acl.Authentication
	markedForAbort bool
}

func newReadOnlyUnimplementedError() error {
	return status.Error(codes.Unimplemented, "Read-only transactions cannot modify the tree")
}

func (ll *readOnlyLockList) Authentication() *acl.Authentication {
	return ll.auth
}

func (ll *readOnlyLockList) AddLockRo(n *Node, level int) error {
	return checkReadAccess(n, ll.auth)
}

func (ll *readOnlyLockList) AddLockRw(n *Node, perm acl.Perm, level int, isChildEphemeral bool) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) LockAll(ctx context.Context) (bool, error) {
	return true, nil
}

func (ll *readOnlyLockList) MarkForAbort() {
	ll.markedForAbort = true
}

func (ll *readOnlyLockList) IsMarkedForAbort() bool {
	return ll.markedForAbort
}

func (ll *readOnlyLockList) RunOnCommit(action func()) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) RunOnAbort(action func()) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendCreate(name string, data []byte, entries []acl.Entry, ephemeral bool) (*Node, error) {
	return nil, newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendAddChild(parent, child *Node) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendRemove(parent, child *Node) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendRemoveNodeAndAllChildren(child *Node) (int, error) {
	return 0, newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendMove(source, destination, child *Node) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendSetACL(n *Node, entries []acl.Entry) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendSetData(n *Node, data []byte) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) AppendPoison(n *Node, spec string) error {
	return newReadOnlyUnimplementedError()
}

func (ll *readOnlyLockList) Complete(ctx context.Context) (persistence.CommitTask, error) {
	return nil, nil
}

func (ll *readOnlyLockList) Release() {}

func (ll *readOnlyLockList) TxID() int64 {
	return 0
}

func (ll *readOnlyLockList) TxTime() int64 {
	return 0
}

func (ll *readOnlyLockList) addAncestorLock(n *Node, level int) error {
	return nil
}

func (ll *readOnlyLockList) addRemovalLock(n *Node, level int) error {
	return newReadOnlyUnimplementedError()
}
