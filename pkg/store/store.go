package store

import (
	"context"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/tree"
)

// AnyVersion may be provided as the expected version of a node to
// indicate that the operation should be performed regardless of the
// node's current version.
const AnyVersion int32 = -1

// CreateRequest contains the parameters of Store.Create().
type CreateRequest struct {
	Path string
	Data []byte
	ACL  []acl.Entry
	// Ephemeral nodes are tied to the lifetime of the session that
	// created them. They are never persisted and cannot have
	// children.
	Ephemeral bool
	// Sequential causes the name of the node to be suffixed with
	// the parent's child version, formatted as ten zero-padded
	// digits.
	Sequential bool
}

// OperationKind is the type of an Operation that is part of a call to
// Store.Multi().
type OperationKind int

const (
	// OperationKindCreate creates a node, just like Store.Create().
	OperationKindCreate OperationKind = iota
	// OperationKindDelete deletes a node that has no children.
	OperationKindDelete
	// OperationKindSetData sets the data of a node, just like
	// Store.SetData().
	OperationKindSetData
	// OperationKindCheck only checks the version of a node.
	OperationKindCheck
)

func (k OperationKind) String() string {
	switch k {
	case OperationKindCreate:
		return "Create"
	case OperationKindDelete:
		return "Delete"
	case OperationKindSetData:
		return "SetData"
	case OperationKindCheck:
		return "Check"
	default:
		return "Unknown"
	}
}

// Operation that is part of a call to Store.Multi().
type Operation struct {
	Kind OperationKind
	Path string
	// Fields used by OperationKindCreate and OperationKindSetData.
	Data       []byte
	ACL        []acl.Entry
	Ephemeral  bool
	Sequential bool
	// Expected version of the node, used by OperationKindDelete,
	// OperationKindSetData and OperationKindCheck.
	Version int32
}

// OperationResult is the outcome of a single Operation that was part
// of a call to Store.Multi().
type OperationResult struct {
	Kind OperationKind
	// Path of the node that was created, for OperationKindCreate.
	// Otherwise equal to the path of the operation.
	Path string
	// Stat of the node after the operation completed. Not set for
	// OperationKindDelete.
	Stat persistence.Stat
}

// Store provides the operations that clients may perform against the
// tree. Every operation runs as a single lock-list transaction.
//
// Operations that read a node accept an optional tree.Watcher, which
// is registered on the node that was read.
type Store interface {
	Create(ctx context.Context, auth *acl.Authentication, request CreateRequest) (string, persistence.Stat, error)
	// Delete a node. If recursive is set, all descendants of the
	// node are deleted as well. The number of nodes deleted is
	// returned.
	Delete(ctx context.Context, auth *acl.Authentication, path string, version int32, recursive bool) (int, error)
	SetData(ctx context.Context, auth *acl.Authentication, path string, data []byte, version int32) (persistence.Stat, error)
	SetACL(ctx context.Context, auth *acl.Authentication, path string, entries []acl.Entry, aclVersion int32) (persistence.Stat, error)
	// Move a node, so that it becomes a child of another node. The
	// new path of the node is returned.
	Move(ctx context.Context, auth *acl.Authentication, path, destinationParent string, version int32) (string, error)

	GetData(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) ([]byte, persistence.Stat, error)
	// Exists returns the Stat of a node, or nil if the node does not
	// exist.
	Exists(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) (*persistence.Stat, error)
	GetChildren(ctx context.Context, auth *acl.Authentication, path, condition string, watcher tree.Watcher) ([]string, persistence.Stat, error)
	GetACL(ctx context.Context, auth *acl.Authentication, path string) ([]acl.Entry, persistence.Stat, error)

	// Multi performs a sequence of operations atomically. Either all
	// operations succeed, or none of them are applied.
	Multi(ctx context.Context, auth *acl.Authentication, operations []Operation) ([]OperationResult, error)

	AddBulkWatcher(spec string, watcher tree.Watcher) (string, error)
	RemoveBulkWatcher(id string) bool
}
