package tree

import (
	"fmt"

	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-storage/pkg/util"

	"go.uber.org/zap"
)

// ScheduleTriggerWatchers notifies the watchers of a node and the bulk
// watchers matching its path of a change to the node. The path needs
// to be provided by the caller, as nodes that have been removed no
// longer have a path.
//
// When a LockList is provided, watchers are only notified if the
// transaction commits. One-use watchers are removed from the node
// immediately, and are restored if the transaction aborts. Without a
// LockList, watchers are notified immediately.
func (t *Tree) ScheduleTriggerWatchers(n *Node, path string, kind ChangeKind, ll LockList) error {
	eventType, ok := kind.eventType()
	if !ok {
		return nil
	}

	var watchers []Watcher
	restore := func() {}
	if complete, ok := n.AsComplete(); ok {
		watchers, restore = complete.stripOneUseWatchers()
	}

	var data []byte
	var stat *persistence.Stat
	if eventType != EventTypeNodeDeleted {
		if contents := n.Contents(); contents != nil {
			statCopy := contents.Stat
			stat = &statCopy
			if eventType != EventTypeNodeChildrenChanged {
				data = contents.Data
			}
		}
	}
	fire := func() {
		t.fireWatchers(append(watchers, t.bulkWatchers.Matching(path)...), WatchedEvent{
			Type: eventType,
			Path: path,
			Stat: stat,
		}, data)
	}

	if ll == nil {
		fire()
		return nil
	}
	if err := ll.RunOnAbort(restore); err != nil {
		restore()
		return util.StatusWrapf(err, "Failed to schedule notification of watchers of %#v", path)
	}
	if err := ll.RunOnCommit(fire); err != nil {
		return util.StatusWrapf(err, "Failed to schedule notification of watchers of %#v", path)
	}
	return nil
}

func (t *Tree) fireWatchers(watchers []Watcher, event WatchedEvent, data []byte) {
	if len(watchers) == 0 {
		return
	}
	counter := watcherNotifications.WithLabelValues(event.Type.String())
	for _, w := range watchers {
		e := event
		if w.Kind()&WatcherKindIncludeData != 0 {
			e.Data = data
		}
		t.processWatcher(w, e)
		counter.Inc()
	}
}

func (t *Tree) processWatcher(w Watcher, event WatchedEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(
				"Watcher panicked while processing event",
				zap.Stringer("event_type", event.Type),
				zap.String("path", event.Path),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	w.Process(event)
}
