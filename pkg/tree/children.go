package tree

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	childrenPrometheusMetrics sync.Once

	childrenTierTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "children_tier_transitions_total",
			Help:      "Number of times the storage of the children of a node switched between representations.",
		},
		[]string{"from", "to"})
)

// ChildrenThresholds controls when the storage of the children of a
// node switches between representations. Small sets of children are
// stored in a sorted slice. Once the number of children exceeds
// MaximumSliceChildren, a hash map is used. Once it exceeds
// MaximumMapChildren, a B-tree is used, which permits paginated
// enumeration without sorting all names.
//
// Demotion happens when the number of children drops below
// MinimumTreeChildren and MinimumMapChildren, respectively. Keeping
// the minimums well below the maximums prevents nodes from switching
// back and forth continuously.
type ChildrenThresholds struct {
	MinimumMapChildren   int
	MaximumSliceChildren int
	MinimumTreeChildren  int
	MaximumMapChildren   int
}

// DefaultChildrenThresholds are the thresholds used when none are
// configured explicitly.
var DefaultChildrenThresholds = ChildrenThresholds{
	MinimumMapChildren:   16,
	MaximumSliceChildren: 128,
	MinimumTreeChildren:  40000,
	MaximumMapChildren:   50000,
}

type childrenTier int

const (
	childrenTierSlice childrenTier = iota
	childrenTierMap
	childrenTierTree
)

var childrenTierNames = [...]string{"Slice", "Map", "Tree"}

func lessNodeName(a, b *Node) bool {
	return a.name < b.name
}

// childrenCollection stores the children of a CompleteNode, indexed
// by name. Names are compared ordinally.
//
// The collection is protected by its own lock. Consistency between
// the children of a node and the rest of the tree is provided by the
// hierarchical locks. This lock only ensures that readers that don't
// acquire hierarchical locks observe a consistent collection.
type childrenCollection struct {
	thresholds *ChildrenThresholds

	lock    sync.RWMutex
	tier    childrenTier
	slice   []*Node
	hashed  map[string]*Node
	ordered *btree.BTreeG[*Node]
}

func newChildrenCollection(thresholds *ChildrenThresholds) *childrenCollection {
	childrenPrometheusMetrics.Do(func() {
		prometheus.MustRegister(childrenTierTransitions)
	})

	return &childrenCollection{
		thresholds: thresholds,
	}
}

func (cc *childrenCollection) sliceIndex(name string) (int, bool) {
	i := sort.Search(len(cc.slice), func(i int) bool { return cc.slice[i].name >= name })
	return i, i < len(cc.slice) && cc.slice[i].name == name
}

func (cc *childrenCollection) lenLocked() int {
	switch cc.tier {
	case childrenTierSlice:
		return len(cc.slice)
	case childrenTierMap:
		return len(cc.hashed)
	default:
		return cc.ordered.Len()
	}
}

func (cc *childrenCollection) len() int {
	cc.lock.RLock()
	defer cc.lock.RUnlock()
	return cc.lenLocked()
}

func (cc *childrenCollection) get(name string) *Node {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	switch cc.tier {
	case childrenTierSlice:
		if i, ok := cc.sliceIndex(name); ok {
			return cc.slice[i]
		}
		return nil
	case childrenTierMap:
		return cc.hashed[name]
	default:
		n, _ := cc.ordered.Get(&Node{name: name})
		return n
	}
}

// insert a child into the collection. This function returns false if
// a child with the same name already exists.
func (cc *childrenCollection) insert(child *Node) bool {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	switch cc.tier {
	case childrenTierSlice:
		i, ok := cc.sliceIndex(child.name)
		if ok {
			return false
		}
		cc.slice = append(cc.slice, nil)
		copy(cc.slice[i+1:], cc.slice[i:])
		cc.slice[i] = child
	case childrenTierMap:
		if _, ok := cc.hashed[child.name]; ok {
			return false
		}
		cc.hashed[child.name] = child
	default:
		if cc.ordered.Has(child) {
			return false
		}
		cc.ordered.ReplaceOrInsert(child)
	}
	cc.rebalanceLocked()
	return true
}

// remove a child from the collection, returning the child that was
// removed.
func (cc *childrenCollection) remove(name string) *Node {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	var child *Node
	switch cc.tier {
	case childrenTierSlice:
		i, ok := cc.sliceIndex(name)
		if !ok {
			return nil
		}
		child = cc.slice[i]
		cc.slice = append(cc.slice[:i], cc.slice[i+1:]...)
	case childrenTierMap:
		var ok bool
		if child, ok = cc.hashed[name]; !ok {
			return nil
		}
		delete(cc.hashed, name)
	default:
		var ok bool
		if child, ok = cc.ordered.Delete(&Node{name: name}); !ok {
			return nil
		}
	}
	cc.rebalanceLocked()
	return child
}

// sortedLocked returns all children, sorted by name.
func (cc *childrenCollection) sortedLocked() []*Node {
	switch cc.tier {
	case childrenTierSlice:
		return append([]*Node(nil), cc.slice...)
	case childrenTierMap:
		children := make([]*Node, 0, len(cc.hashed))
		for _, child := range cc.hashed {
			children = append(children, child)
		}
		sort.Slice(children, func(i, j int) bool { return lessNodeName(children[i], children[j]) })
		return children
	default:
		children := make([]*Node, 0, cc.ordered.Len())
		cc.ordered.Ascend(func(child *Node) bool {
			children = append(children, child)
			return true
		})
		return children
	}
}

func (cc *childrenCollection) sorted() []*Node {
	cc.lock.RLock()
	defer cc.lock.RUnlock()
	return cc.sortedLocked()
}

// namesAfter returns up to limit names of children that sort strictly
// after a given name.
func (cc *childrenCollection) namesAfter(startAfter string, limit int) []string {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	names := []string{}
	switch cc.tier {
	case childrenTierSlice:
		i := sort.Search(len(cc.slice), func(i int) bool { return cc.slice[i].name > startAfter })
		for ; i < len(cc.slice) && len(names) < limit; i++ {
			names = append(names, cc.slice[i].name)
		}
	case childrenTierMap:
		for name := range cc.hashed {
			if name > startAfter {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		if len(names) > limit {
			names = names[:limit]
		}
	default:
		if limit > 0 {
			cc.ordered.AscendGreaterOrEqual(&Node{name: startAfter}, func(child *Node) bool {
				if child.name != startAfter {
					names = append(names, child.name)
				}
				return len(names) < limit
			})
		}
	}
	return names
}

func (cc *childrenCollection) setTierLocked(tier childrenTier, children []*Node) {
	childrenTierTransitions.WithLabelValues(childrenTierNames[cc.tier], childrenTierNames[tier]).Inc()
	cc.tier = tier
	cc.slice = nil
	cc.hashed = nil
	cc.ordered = nil
	switch tier {
	case childrenTierSlice:
		cc.slice = children
	case childrenTierMap:
		cc.hashed = make(map[string]*Node, len(children))
		for _, child := range children {
			cc.hashed[child.name] = child
		}
	default:
		cc.ordered = btree.NewG(32, lessNodeName)
		for _, child := range children {
			cc.ordered.ReplaceOrInsert(child)
		}
	}
}

func (cc *childrenCollection) rebalanceLocked() {
	count := cc.lenLocked()
	t := cc.thresholds
	switch cc.tier {
	case childrenTierSlice:
		if count > t.MaximumSliceChildren {
			cc.setTierLocked(childrenTierMap, cc.slice)
		}
	case childrenTierMap:
		if count > t.MaximumMapChildren {
			cc.setTierLocked(childrenTierTree, cc.sortedLocked())
		} else if count < t.MinimumMapChildren {
			cc.setTierLocked(childrenTierSlice, cc.sortedLocked())
		}
	default:
		if count < t.MinimumTreeChildren {
			cc.setTierLocked(childrenTierMap, cc.sortedLocked())
		}
	}
}
