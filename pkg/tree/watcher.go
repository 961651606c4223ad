package tree

import (
	"github.com/buildbarn/bb-coordination/pkg/persistence"
)

// WatcherKind is a set of flags that control how a Watcher is
// notified.
type WatcherKind uint32

const (
	// WatcherKindOneUse indicates that the watcher is removed as
	// soon as it has been scheduled for notification. Watchers
	// without this flag are persistent.
	WatcherKindOneUse WatcherKind = 1 << iota
	// WatcherKindIncludeData indicates that events passed to the
	// watcher should contain the data of the node.
	WatcherKindIncludeData
)

// EventType of a WatchedEvent.
type EventType int

const (
	// EventTypeNodeCreated is emitted when a node is created.
	EventTypeNodeCreated EventType = iota + 1
	// EventTypeNodeDeleted is emitted when a node is deleted.
	EventTypeNodeDeleted
	// EventTypeNodeDataChanged is emitted when the data of a node
	// is changed.
	EventTypeNodeDataChanged
	// EventTypeNodeChildrenChanged is emitted when a child is added
	// to or removed from a node.
	EventTypeNodeChildrenChanged
)

func (t EventType) String() string {
	switch t {
	case EventTypeNodeCreated:
		return "NodeCreated"
	case EventTypeNodeDeleted:
		return "NodeDeleted"
	case EventTypeNodeDataChanged:
		return "NodeDataChanged"
	case EventTypeNodeChildrenChanged:
		return "NodeChildrenChanged"
	default:
		return "Unknown"
	}
}

// WatchedEvent is passed to a Watcher when a change it is interested
// in has been committed.
type WatchedEvent struct {
	Type EventType
	Path string
	// Data of the node. Only set for watchers that have
	// WatcherKindIncludeData set, and only for event types that
	// carry data.
	Data []byte
	// Stat of the node. Nil for deletions.
	Stat *persistence.Stat
}

// Watcher is a subscriber to changes of a node, or to changes of all
// nodes below a path prefix.
type Watcher interface {
	Kind() WatcherKind
	Process(event WatchedEvent)
}

// ChangeKind describes a change that was made to a node, which may
// cause watchers to be notified.
type ChangeKind int

const (
	// ChangeCreated indicates the node was created.
	ChangeCreated ChangeKind = iota
	// ChangeDataChanged indicates the data of the node was changed.
	ChangeDataChanged
	// ChangeChildrenAdded indicates a child was added to the node.
	ChangeChildrenAdded
	// ChangeChildrenRemoved indicates a child was removed from the
	// node.
	ChangeChildrenRemoved
	// ChangeDeleted indicates the node was deleted.
	ChangeDeleted
	// ChangeACLChanged indicates the ACL of the node was changed.
	// Watchers are not notified of these changes.
	ChangeACLChanged
)

func (k ChangeKind) eventType() (EventType, bool) {
	switch k {
	case ChangeCreated:
		return EventTypeNodeCreated, true
	case ChangeDataChanged:
		return EventTypeNodeDataChanged, true
	case ChangeChildrenAdded, ChangeChildrenRemoved:
		return EventTypeNodeChildrenChanged, true
	case ChangeDeleted:
		return EventTypeNodeDeleted, true
	default:
		return 0, false
	}
}
