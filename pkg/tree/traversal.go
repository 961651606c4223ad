package tree

import (
	"context"
	"strings"

	"github.com/buildbarn/bb-coordination/pkg/acl"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WildcardBehavior controls where nodes named "*" and "**" may be
// matched during traversal.
type WildcardBehavior int

const (
	// WildcardsNotAllowed causes all path components to be matched
	// literally.
	WildcardsNotAllowed WildcardBehavior = 0
	// WildcardsAllowedInLeaf permits the last path component to
	// match a child named "*" or "**".
	WildcardsAllowedInLeaf WildcardBehavior = 1
	// WildcardsAllowedInBranches permits all path components except
	// the last to match a child named "*" or "**".
	WildcardsAllowedInBranches WildcardBehavior = 2
	// WildcardsAllowedEverywhere permits all path components to
	// match wildcards.
	WildcardsAllowedEverywhere = WildcardsAllowedInLeaf | WildcardsAllowedInBranches
)

func (b WildcardBehavior) allowedInLeaf() bool {
	return b&WildcardsAllowedInLeaf != 0
}

func (b WildcardBehavior) allowedInBranches() bool {
	return b&WildcardsAllowedInBranches != 0
}

const doubleStarName = "**"

// splitPath splits an absolute path into its components. The root
// directory has no components.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, status.Errorf(codes.InvalidArgument, "Path %#v is not absolute", path)
	}
	if path == "/" {
		return nil, nil
	}
	components := strings.Split(path[1:], "/")
	for _, component := range components {
		if component == "" {
			return nil, status.Errorf(codes.InvalidArgument, "Path %#v contains an empty component", path)
		}
	}
	return components, nil
}

// NodeLookup describes a node to be located in the tree, and how it is
// going to be accessed.
type NodeLookup struct {
	Path      string
	Wildcards WildcardBehavior
	// Access needed on the node itself and on its parent. PermNone
	// causes no lock to be registered. PermRead causes a read lock
	// to be registered. Any other permission causes a write lock to
	// be registered.
	NodeAccess   acl.Perm
	ParentAccess acl.Perm
	// If set, the deepest node along the path whose data satisfies
	// this predicate is returned as well. This permits the caller
	// to fall back to an ancestor in case the node does not exist.
	FaultBack func(data []byte) bool
	// Whether the access to the parent concerns the creation of an
	// ephemeral child.
	IsChildEphemeral bool
	// If set, a write lock is registered on the node regardless of
	// NodeAccess, without checking the node's ACL. Permission to
	// remove a node is granted by its parent.
	RemovesNode bool
}

// PathParent is the result of Tree.GetPathParent().
type PathParent struct {
	// Parent of the final path component. Nil if the parent does
	// not exist.
	Parent *Node
	// Name of the final path component.
	LastName string
	// Level of the parent in the tree.
	Level int
	// Deepest node matching the fault-back predicate.
	FaultBackMatch *Node
}

// NodeLookupResult is the result of Tree.GetNode().
type NodeLookupResult struct {
	PathParent
	// Node that was found. Nil if the node does not exist.
	Node *Node
}

func (lookup *NodeLookup) validate() error {
	if lookup.FaultBack != nil && (lookup.NodeAccess > acl.PermRead || lookup.ParentAccess > acl.PermRead || lookup.RemovesNode) {
		return status.Error(codes.InvalidArgument, "Fault-back lookups cannot be combined with write access")
	}
	return nil
}

func addAccessLock(ll LockList, n *Node, access acl.Perm, level int, isChildEphemeral bool) error {
	switch access {
	case acl.PermNone:
		return nil
	case acl.PermRead:
		return ll.AddLockRo(n, level)
	default:
		return ll.AddLockRw(n, access, level, isChildEphemeral)
	}
}

// traversal holds the state of a single pass of walking down the tree.
type traversal struct {
	ctx    context.Context
	ll     LockList
	lookup *NodeLookup
	stable bool
}

// lock acquires all locks registered so far. Any instability is
// recorded, so that the pass can be retried.
func (tr *traversal) lock() error {
	stable, err := tr.ll.LockAll(tr.ctx)
	if err != nil {
		return err
	}
	tr.stable = tr.stable && stable
	return nil
}

func (tr *traversal) checkFaultBack(n *Node, match **Node) {
	if tr.lookup.FaultBack == nil {
		return
	}
	if contents := n.Contents(); contents != nil && tr.lookup.FaultBack(contents.Data) {
		*match = n
	}
}

// lockParent registers and acquires the lock on the node that is
// returned as the parent of the final path component. The parent is
// always locked, as its children are inspected afterwards.
func (tr *traversal) lockParent(parent *Node, level int) error {
	var err error
	if tr.lookup.ParentAccess == acl.PermNone {
		err = tr.ll.addAncestorLock(parent, level)
	} else {
		err = addAccessLock(tr.ll, parent, tr.lookup.ParentAccess, level, tr.lookup.IsChildEphemeral)
	}
	if err != nil {
		return err
	}
	return tr.lock()
}

// walkToParent walks down the tree, returning the parent of the final
// path component. Read locks are acquired on every node that is
// traversed, before its children are inspected.
func (t *Tree) walkToParent(tr *traversal, components []string) (PathParent, error) {
	allowBranches := tr.lookup.Wildcards.allowedInBranches()
	current, level := t.Root(), 0
	var doubleStar *Node
	doubleStarLevel := 0
	var faultBackMatch *Node

	reRootAtDoubleStar := func() (PathParent, error) {
		parent, parentLevel := doubleStar.Parent(), doubleStarLevel-1
		if err := tr.lockParent(parent, parentLevel); err != nil {
			return PathParent{}, err
		}
		return PathParent{
			Parent:         parent,
			LastName:       doubleStarName,
			Level:          parentLevel,
			FaultBackMatch: faultBackMatch,
		}, nil
	}

	lastIndex := len(components) - 1
	for _, name := range components[:lastIndex] {
		if err := tr.ll.addAncestorLock(current, level); err != nil {
			return PathParent{}, err
		}
		if err := tr.lock(); err != nil {
			return PathParent{}, err
		}
		tr.checkFaultBack(current, &faultBackMatch)

		child := current.TryGetChild(name, allowBranches)
		if child == nil {
			if doubleStar != nil {
				return reRootAtDoubleStar()
			}
			if tr.lookup.FaultBack != nil {
				return PathParent{
					Parent:         current,
					LastName:       name,
					Level:          level,
					FaultBackMatch: faultBackMatch,
				}, nil
			}
			return PathParent{LastName: components[lastIndex]}, nil
		}
		current, level = child, level+1
		// Under the leaf policy "**" only matches the final
		// component, which TryGetChild() already handles.
		if allowBranches && child.name == doubleStarName {
			doubleStar, doubleStarLevel = child, level
		}
	}

	if err := tr.lockParent(current, level); err != nil {
		return PathParent{}, err
	}
	tr.checkFaultBack(current, &faultBackMatch)
	lastName := components[lastIndex]
	if doubleStar != nil && allowBranches && current.TryGetChild(lastName, tr.lookup.Wildcards.allowedInLeaf()) == nil {
		return reRootAtDoubleStar()
	}
	return PathParent{
		Parent:         current,
		LastName:       lastName,
		Level:          level,
		FaultBackMatch: faultBackMatch,
	}, nil
}

// GetPathParent locates the parent of the final component of a path,
// registering and acquiring locks on all nodes along the way. The
// root has no parent, meaning it cannot be provided.
func (t *Tree) GetPathParent(ctx context.Context, ll LockList, lookup NodeLookup) (PathParent, error) {
	if err := lookup.validate(); err != nil {
		return PathParent{}, err
	}
	components, err := splitPath(lookup.Path)
	if err != nil {
		return PathParent{}, err
	}
	if len(components) == 0 {
		return PathParent{}, status.Error(codes.InvalidArgument, "The root node has no parent")
	}
	for {
		tr := traversal{ctx: ctx, ll: ll, lookup: &lookup, stable: true}
		pp, err := t.walkToParent(&tr, components)
		if err != nil || tr.stable {
			return pp, err
		}
		traversalRestarts.Inc()
	}
}

// GetNode locates a node in the tree, registering and acquiring locks
// on all nodes along the way. If the node does not exist, the result
// contains a nil node and no error is returned.
func (t *Tree) GetNode(ctx context.Context, ll LockList, lookup NodeLookup) (NodeLookupResult, error) {
	if err := lookup.validate(); err != nil {
		return NodeLookupResult{}, err
	}
	components, err := splitPath(lookup.Path)
	if err != nil {
		return NodeLookupResult{}, err
	}
	if len(components) == 0 {
		root := t.Root()
		for {
			tr := traversal{ctx: ctx, ll: ll, lookup: &lookup, stable: true}
			if err := addAccessLock(ll, root, lookup.NodeAccess, 0, false); err != nil {
				return NodeLookupResult{}, err
			}
			if err := tr.lock(); err != nil {
				return NodeLookupResult{}, err
			}
			result := NodeLookupResult{Node: root}
			tr.checkFaultBack(root, &result.FaultBackMatch)
			if tr.stable {
				return result, nil
			}
			traversalRestarts.Inc()
		}
	}

	for {
		tr := traversal{ctx: ctx, ll: ll, lookup: &lookup, stable: true}
		pp, err := t.walkToParent(&tr, components)
		if err != nil {
			return NodeLookupResult{}, err
		}
		result := NodeLookupResult{PathParent: pp}
		if pp.Parent != nil {
			if child := pp.Parent.TryGetChild(pp.LastName, lookup.Wildcards.allowedInLeaf()); child != nil {
				if lookup.RemovesNode {
					err = ll.addRemovalLock(child, pp.Level+1)
				} else {
					err = addAccessLock(ll, child, lookup.NodeAccess, pp.Level+1, false)
				}
				if err != nil {
					return NodeLookupResult{}, err
				}
				if err := tr.lock(); err != nil {
					return NodeLookupResult{}, err
				}
				if child.Parent() == pp.Parent {
					result.Node = child
					tr.checkFaultBack(child, &result.FaultBackMatch)
				}
			}
		}
		if tr.stable {
			return result, nil
		}
		traversalRestarts.Inc()
	}
}

// LockSubtreeForRemoval registers and acquires write locks on all
// descendants of a node that is about to be removed together with its
// children. Removing the children of a node requires PermDelete on
// that node. Leaves are locked without checking their ACL.
//
// The node itself is expected to be locked through
// NodeLookup.RemovesNode. Just like LockList.LockAll(), this function
// returns false if locks that were held had to be released
// temporarily, in which case the caller needs to look up the node
// again.
func (t *Tree) LockSubtreeForRemoval(ctx context.Context, ll LockList, n *Node, level int) (bool, error) {
	var addLocks func(n *Node, level int) error
	addLocks = func(n *Node, level int) error {
		complete, ok := n.AsComplete()
		if !ok || complete.children.len() == 0 {
			return nil
		}
		if err := ll.AddLockRw(n, acl.PermDelete, level, false); err != nil {
			return err
		}
		for _, child := range complete.Children() {
			if err := ll.addRemovalLock(child, level+1); err != nil {
				return err
			}
			if err := addLocks(child, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := addLocks(n, level); err != nil {
		return false, err
	}
	return ll.LockAll(ctx)
}
