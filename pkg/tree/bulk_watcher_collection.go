package tree

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const bulkWatcherPrefixSelector = "$startswith:"

type bulkWatcher struct {
	prefix  string
	watcher Watcher
}

// BulkWatcherCollection holds watchers that are interested in changes
// to all nodes below a path prefix, as opposed to a single node.
//
// Prefixes are matched at path component boundaries. A watcher for
// "/foo" is notified of changes to "/foo" and "/foo/bar", but not
// "/foobar".
type BulkWatcherCollection struct {
	lock     sync.RWMutex
	prefixes map[string]map[string]*bulkWatcher
	byID     map[string]*bulkWatcher
}

// NewBulkWatcherCollection creates a BulkWatcherCollection that
// contains no watchers.
func NewBulkWatcherCollection() *BulkWatcherCollection {
	return &BulkWatcherCollection{
		prefixes: map[string]map[string]*bulkWatcher{},
		byID:     map[string]*bulkWatcher{},
	}
}

// parseBulkWatcherSpec extracts the path prefix from a specification
// consisting of comma separated selectors. Exactly one selector of the
// form "$startswith:<prefix>" must be present.
func parseBulkWatcherSpec(spec string) (string, error) {
	prefix, found := "", false
	for _, selector := range strings.Split(spec, ",") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(selector), bulkWatcherPrefixSelector); ok {
			if found {
				return "", status.Errorf(codes.InvalidArgument, "Bulk watcher specification %#v contains multiple prefixes", spec)
			}
			prefix, found = p, true
		}
	}
	if !found {
		return "", status.Errorf(codes.InvalidArgument, "Bulk watcher specification %#v does not contain a %#v selector", spec, bulkWatcherPrefixSelector)
	}
	if prefix != "/" {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	if _, err := splitPath(prefix); err != nil {
		return "", err
	}
	return prefix, nil
}

// Add a watcher for the prefix contained in a specification. An
// identifier is returned that can be used to remove the watcher.
func (c *BulkWatcherCollection) Add(spec string, w Watcher) (string, error) {
	prefix, err := parseBulkWatcherSpec(spec)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewRandom()).String()
	bw := &bulkWatcher{
		prefix:  prefix,
		watcher: w,
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	watchers, ok := c.prefixes[prefix]
	if !ok {
		watchers = map[string]*bulkWatcher{}
		c.prefixes[prefix] = watchers
	}
	watchers[id] = bw
	c.byID[id] = bw
	return id, nil
}

func (c *BulkWatcherCollection) removeLocked(id string) bool {
	bw, ok := c.byID[id]
	if !ok {
		return false
	}
	delete(c.byID, id)
	watchers := c.prefixes[bw.prefix]
	delete(watchers, id)
	if len(watchers) == 0 {
		delete(c.prefixes, bw.prefix)
	}
	return true
}

// Remove a watcher by identifier. It returns false if no watcher with
// the identifier exists.
func (c *BulkWatcherCollection) Remove(id string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.removeLocked(id)
}

// Len returns the number of registered watchers.
func (c *BulkWatcherCollection) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.byID)
}

// Matching returns all watchers whose prefix matches a path. Watchers
// that may only be used once are removed from the collection.
func (c *BulkWatcherCollection) Matching(path string) []Watcher {
	c.lock.RLock()
	if len(c.byID) == 0 {
		c.lock.RUnlock()
		return nil
	}
	var matches []Watcher
	var oneUse []string
	visit := func(prefix string) {
		for id, bw := range c.prefixes[prefix] {
			if bw.watcher.Kind()&WatcherKindOneUse != 0 {
				oneUse = append(oneUse, id)
			} else {
				matches = append(matches, bw.watcher)
			}
		}
	}
	visit("/")
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			visit(path[:i])
		}
	}
	if path != "/" {
		visit(path)
	}
	c.lock.RUnlock()

	if len(oneUse) > 0 {
		// Only return one-use watchers that this call managed to
		// remove, as concurrent calls may match them as well.
		c.lock.Lock()
		for _, id := range oneUse {
			if bw, ok := c.byID[id]; ok {
				c.removeLocked(id)
				matches = append(matches, bw.watcher)
			}
		}
		c.lock.Unlock()
	}
	return matches
}
