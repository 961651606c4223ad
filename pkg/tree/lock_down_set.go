package tree

import (
	"sync"
)

// LockDownSet contains the paths of nodes that have been frozen
// administratively. Transactions that attempt to access these nodes
// fail with a LockDownError.
type LockDownSet struct {
	lock           sync.RWMutex
	paths          map[string]struct{}
	ignoreAllPaths bool
}

// NewLockDownSet creates a LockDownSet that contains a list of paths.
func NewLockDownSet(paths []string) *LockDownSet {
	s := &LockDownSet{}
	s.ReplacePaths(paths)
	return s
}

// ReplacePaths replaces the set of paths that are locked down.
func (s *LockDownSet) ReplacePaths(paths []string) {
	newPaths := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		newPaths[path] = struct{}{}
	}
	s.lock.Lock()
	s.paths = newPaths
	s.lock.Unlock()
}

// SetIgnoreAllPaths temporarily disables the lockdown of all paths,
// without discarding the configured set of paths.
func (s *LockDownSet) SetIgnoreAllPaths(ignoreAllPaths bool) {
	s.lock.Lock()
	s.ignoreAllPaths = ignoreAllPaths
	s.lock.Unlock()
}

// IsEmpty returns true if no paths are currently locked down.
func (s *LockDownSet) IsEmpty() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.ignoreAllPaths || len(s.paths) == 0
}

// Contains returns true if a path is currently locked down.
func (s *LockDownSet) Contains(path string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.ignoreAllPaths {
		return false
	}
	_, ok := s.paths[path]
	return ok
}

func (s *LockDownSet) check(n *Node) error {
	if s.IsEmpty() {
		return nil
	}
	if path := n.Path(); s.Contains(path) {
		return &LockDownError{Path: path}
	}
	return nil
}
