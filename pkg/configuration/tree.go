package configuration

import (
	"time"

	"github.com/buildbarn/bb-coordination/pkg/store"
	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"
)

// NewLockStrategyFromConfiguration creates the LockStrategy that is
// used to obtain hierarchical locks.
func NewLockStrategyFromConfiguration(configuration *ApplicationConfiguration) (co_sync.LockStrategy, error) {
	switch configuration.LockStrategy {
	case "multiLevelPool":
		pool, err := co_sync.NewMultiLevelLockPool(configuration.LockPoolSizes)
		if err != nil {
			return nil, util.StatusWrap(err, "Failed to create lock pool")
		}
		return co_sync.NewMultiLevelLockStrategy(pool, configuration.ReadsGoUnlocked), nil
	case "singleLock":
		return co_sync.NewSingleLockStrategy(configuration.ReadsGoUnlocked), nil
	case "externallySerialized":
		return co_sync.ExternallySerializedLockStrategy, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "Unknown lock strategy %#v", configuration.LockStrategy)
	}
}

// NewTreeConfiguration creates the options of a tree.Tree.
func NewTreeConfiguration(configuration *ApplicationConfiguration, logger *zap.Logger) (*tree.Configuration, error) {
	lockStrategy, err := NewLockStrategyFromConfiguration(configuration)
	if err != nil {
		return nil, err
	}
	maximumLockWait, err := time.ParseDuration(configuration.MaximumLockWait)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid maximum lock wait %#v: %s", configuration.MaximumLockWait, err)
	}
	if maximumLockWait <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Maximum lock wait must be positive, while %s was provided", maximumLockWait)
	}

	childrenThresholds := tree.DefaultChildrenThresholds
	if t := configuration.ChildrenThresholds; t != nil {
		childrenThresholds = tree.ChildrenThresholds{
			MinimumMapChildren:   t.MinimumMapChildren,
			MaximumSliceChildren: t.MaximumSliceChildren,
			MinimumTreeChildren:  t.MinimumTreeChildren,
			MaximumMapChildren:   t.MaximumMapChildren,
		}
		if childrenThresholds.MinimumMapChildren > childrenThresholds.MaximumSliceChildren ||
			childrenThresholds.MaximumSliceChildren > childrenThresholds.MinimumTreeChildren ||
			childrenThresholds.MinimumTreeChildren > childrenThresholds.MaximumMapChildren {
			return nil, status.Error(codes.InvalidArgument, "Children thresholds must be non-decreasing")
		}
	}

	return &tree.Configuration{
		LockStrategy:             lockStrategy,
		Clock:                    clock.SystemClock,
		MaximumLockWait:          maximumLockWait,
		ChildrenThresholds:       childrenThresholds,
		MaximumRetrievedChildren: configuration.MaximumRetrievedChildren,
		LockDown:                 tree.NewLockDownSet(configuration.LockDownPaths),
		Logger:                   logger,
	}, nil
}

var wildcardBehaviors = map[string]tree.WildcardBehavior{
	"none":       tree.WildcardsNotAllowed,
	"leaf":       tree.WildcardsAllowedInLeaf,
	"branches":   tree.WildcardsAllowedInBranches,
	"everywhere": tree.WildcardsAllowedEverywhere,
}

// NewTreeStoreConfiguration creates the options of a Store returned
// by store.NewTreeStore().
func NewTreeStoreConfiguration(configuration *ApplicationConfiguration) (store.TreeStoreConfiguration, error) {
	readWildcards, ok := wildcardBehaviors[configuration.ReadWildcards]
	if !ok {
		return store.TreeStoreConfiguration{}, status.Errorf(codes.InvalidArgument, "Unknown wildcard behavior %#v", configuration.ReadWildcards)
	}
	lockTimeoutRetries := 0
	if configuration.LockTimeoutRetries != nil {
		lockTimeoutRetries = *configuration.LockTimeoutRetries
	}
	if lockTimeoutRetries < 0 {
		return store.TreeStoreConfiguration{}, status.Errorf(codes.InvalidArgument, "Lock timeout retries must be non-negative, while %d was provided", lockTimeoutRetries)
	}
	return store.TreeStoreConfiguration{
		LockTimeoutRetries: lockTimeoutRetries,
		SynchronousCommits: configuration.SynchronousCommits,
		ReadWildcards:      readWildcards,
	}, nil
}
