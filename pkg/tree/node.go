package tree

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	nodePrometheusMetrics sync.Once

	nodePromotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "node_promotions_total",
			Help:      "Number of plain nodes that were promoted to complete nodes, so that they can hold children or watchers.",
		})
)

// NodeKind indicates which variant of node is in use.
type NodeKind int

const (
	// NodeKindPlain indicates that a node has no storage for
	// children or watchers.
	NodeKindPlain NodeKind = iota
	// NodeKindComplete indicates that a node has been promoted and
	// carries a children collection and a watcher set.
	NodeKindComplete
)

func (k NodeKind) String() string {
	if k == NodeKindComplete {
		return "complete"
	}
	return "plain"
}

// Node is the in-memory representation of a record in the tree. It
// refers to its record by identifier, so that the record can be
// looked up in the arena of the persistence.Factory.
//
// Every node starts out as a plain node, which is cheap to store for
// leaves. The first time a child or watcher is added, the node is
// promoted to a complete node. Promotion is irreversible and does not
// change the identity of the node.
type Node struct {
	tree     *Tree
	recordID persistence.RecordID
	name     string

	parent   atomic.Pointer[Node]
	complete atomic.Pointer[CompleteNode]
	detached atomic.Bool
}

// ID returns the identifier of the record backing the node.
func (n *Node) ID() persistence.RecordID {
	return n.recordID
}

// Name of the node within its parent.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent of the node, or nil for the root and
// nodes that have been unlinked from the tree.
func (n *Node) Parent() *Node {
	return n.parent.Load()
}

// Record returns the record backing the node. It returns false if the
// record has been removed from the arena.
func (n *Node) Record() (*persistence.Record, bool) {
	return n.tree.factory.GetRecord(n.recordID)
}

// Contents returns the current contents of the record backing the
// node, or nil if the record no longer exists.
func (n *Node) Contents() *persistence.Contents {
	r, ok := n.Record()
	if !ok {
		return nil
	}
	return r.Contents()
}

// IsEphemeral returns whether the node is tied to the lifetime of a
// session.
func (n *Node) IsEphemeral() bool {
	r, ok := n.Record()
	return ok && r.IsEphemeral()
}

// IsDetached returns true if the record backing this node has since
// been bound to another node, for example because the tree has been
// reloaded.
func (n *Node) IsDetached() bool {
	return n.detached.Load()
}

// Kind returns whether the node is a plain or a complete node.
func (n *Node) Kind() NodeKind {
	if n.complete.Load() != nil {
		return NodeKindComplete
	}
	return NodeKindPlain
}

// AsComplete returns the complete variant of the node, if the node
// has been promoted.
func (n *Node) AsComplete() (*CompleteNode, bool) {
	c := n.complete.Load()
	return c, c != nil
}

// Promote the node to a complete node, if it isn't one already.
func (n *Node) Promote() *CompleteNode {
	if c := n.complete.Load(); c != nil {
		return c
	}
	c := &CompleteNode{
		node:     n,
		children: newChildrenCollection(&n.tree.childrenThresholds),
	}
	if n.complete.CompareAndSwap(nil, c) {
		nodePromotions.Inc()
		return c
	}
	return n.complete.Load()
}

// Level returns the depth of the node in the tree. The root is
// located at level zero.
func (n *Node) Level() int {
	level := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		level++
	}
	return level
}

// Path returns the absolute path of the node.
func (n *Node) Path() string {
	var components []string
	for c := n; c.Parent() != nil; c = c.Parent() {
		components = append(components, c.name)
	}
	if len(components) == 0 {
		return "/"
	}
	var sb strings.Builder
	for i := len(components) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(components[i])
	}
	return sb.String()
}

// ChildCount returns the number of children of the node.
func (n *Node) ChildCount() int {
	if c, ok := n.AsComplete(); ok {
		return c.children.len()
	}
	return 0
}

// GetChild looks up a child by name. Nil is returned if no such child
// exists.
func (n *Node) GetChild(name string) *Node {
	if c, ok := n.AsComplete(); ok {
		return c.children.get(name)
	}
	return nil
}

// TryGetChild looks up a child by name. If allowWildcards is set and
// no child exists with the literal name, a child named "*" is
// returned. If that doesn't exist either, a child named "**" is
// returned.
func (n *Node) TryGetChild(name string, allowWildcards bool) *Node {
	c, ok := n.AsComplete()
	if !ok {
		return nil
	}
	if child := c.children.get(name); child != nil || !allowWildcards {
		return child
	}
	if child := c.children.get("*"); child != nil {
		return child
	}
	return c.children.get("**")
}

// RetrieveChildren is identical to CompleteNode.RetrieveChildren(),
// except that it may also be called on plain nodes. Plain nodes have
// no children.
func (n *Node) RetrieveChildren(condition string, maximumChildren int) ([]string, error) {
	if c, ok := n.AsComplete(); ok {
		return c.RetrieveChildren(condition, maximumChildren)
	}
	if condition != "" {
		if _, err := parseRetrievalCondition(condition, maximumChildren); err != nil {
			return nil, err
		}
	}
	return []string{}, nil
}

// CompleteNode is the variant of Node that can hold children and
// watchers.
type CompleteNode struct {
	node     *Node
	children *childrenCollection

	watchersLock sync.Mutex
	watchers     []Watcher
}

// Node returns the node that was promoted.
func (c *CompleteNode) Node() *Node {
	return c.node
}

// Children returns the children of the node, sorted by name.
func (c *CompleteNode) Children() []*Node {
	return c.children.sorted()
}

// RetrieveChildren returns the names of the children of the node that
// match a retrieval condition. An empty condition selects all
// children. Conditions of the form ">:<top>:<name>" select up to top
// children whose names sort after name.
func (c *CompleteNode) RetrieveChildren(condition string, maximumChildren int) ([]string, error) {
	if condition == "" {
		children := c.children.sorted()
		names := make([]string, 0, len(children))
		for _, child := range children {
			names = append(names, child.name)
		}
		return names, nil
	}
	rc, err := parseRetrievalCondition(condition, maximumChildren)
	if err != nil {
		return nil, err
	}
	return c.children.namesAfter(rc.startAfter, rc.top), nil
}

// AddWatcher adds a watcher that is notified of changes to the node.
func (c *CompleteNode) AddWatcher(w Watcher) {
	c.watchersLock.Lock()
	c.watchers = append(c.watchers, w)
	c.watchersLock.Unlock()
}

// RemoveWatcher removes a watcher from the node. It returns false if
// the watcher was not registered.
func (c *CompleteNode) RemoveWatcher(w Watcher) bool {
	c.watchersLock.Lock()
	defer c.watchersLock.Unlock()
	for i, existing := range c.watchers {
		if existing == w {
			c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
			return true
		}
	}
	return false
}

// Watchers returns the watchers that are currently registered.
func (c *CompleteNode) Watchers() []Watcher {
	c.watchersLock.Lock()
	defer c.watchersLock.Unlock()
	return append([]Watcher(nil), c.watchers...)
}

// stripOneUseWatchers returns all watchers registered on the node,
// while removing the ones that may only be notified once. The
// returned function reinserts the removed watchers.
func (c *CompleteNode) stripOneUseWatchers() ([]Watcher, func()) {
	c.watchersLock.Lock()
	defer c.watchersLock.Unlock()

	all := append([]Watcher(nil), c.watchers...)
	var kept, stripped []Watcher
	for _, w := range c.watchers {
		if w.Kind()&WatcherKindOneUse != 0 {
			stripped = append(stripped, w)
		} else {
			kept = append(kept, w)
		}
	}
	if len(stripped) == 0 {
		return all, func() {}
	}
	c.watchers = kept
	return all, func() {
		c.watchersLock.Lock()
		c.watchers = append(c.watchers, stripped...)
		c.watchersLock.Unlock()
	}
}
