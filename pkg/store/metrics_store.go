package store

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/status"
)

var (
	storePrometheusMetrics sync.Once

	storeOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "store_operation_duration_seconds",
			Help:      "Amount of time spent per store operation, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		},
		[]string{"operation", "grpc_code"})
	storeMultiOperations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "store_multi_operations",
			Help:      "Number of operations contained in calls to Multi().",
			Buckets:   util.DecimalExponentialBuckets(0, 4, 2),
		})
	storeNodesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "store_nodes_deleted_total",
			Help:      "Number of nodes deleted through Delete(), including descendants removed by recursive deletions.",
		})
)

type metricsStore struct {
	base  Store
	clock clock.Clock
}

// NewMetricsStore creates a decorator for Store that exposes the
// duration and outcome of every operation as Prometheus metrics.
func NewMetricsStore(base Store, clock clock.Clock) Store {
	storePrometheusMetrics.Do(func() {
		prometheus.MustRegister(storeOperationDurationSeconds)
		prometheus.MustRegister(storeMultiOperations)
		prometheus.MustRegister(storeNodesDeleted)
	})

	return &metricsStore{
		base:  base,
		clock: clock,
	}
}

func (s *metricsStore) observe(operation string, timeStart time.Time, err error) {
	storeOperationDurationSeconds.WithLabelValues(operation, status.Code(err).String()).Observe(s.clock.Now().Sub(timeStart).Seconds())
}

func (s *metricsStore) Create(ctx context.Context, auth *acl.Authentication, request CreateRequest) (string, persistence.Stat, error) {
	timeStart := s.clock.Now()
	path, stat, err := s.base.Create(ctx, auth, request)
	s.observe("Create", timeStart, err)
	return path, stat, err
}

func (s *metricsStore) Delete(ctx context.Context, auth *acl.Authentication, path string, version int32, recursive bool) (int, error) {
	timeStart := s.clock.Now()
	count, err := s.base.Delete(ctx, auth, path, version, recursive)
	s.observe("Delete", timeStart, err)
	storeNodesDeleted.Add(float64(count))
	return count, err
}

func (s *metricsStore) SetData(ctx context.Context, auth *acl.Authentication, path string, data []byte, version int32) (persistence.Stat, error) {
	timeStart := s.clock.Now()
	stat, err := s.base.SetData(ctx, auth, path, data, version)
	s.observe("SetData", timeStart, err)
	return stat, err
}

func (s *metricsStore) SetACL(ctx context.Context, auth *acl.Authentication, path string, entries []acl.Entry, aclVersion int32) (persistence.Stat, error) {
	timeStart := s.clock.Now()
	stat, err := s.base.SetACL(ctx, auth, path, entries, aclVersion)
	s.observe("SetACL", timeStart, err)
	return stat, err
}

func (s *metricsStore) Move(ctx context.Context, auth *acl.Authentication, path, destinationParent string, version int32) (string, error) {
	timeStart := s.clock.Now()
	newPath, err := s.base.Move(ctx, auth, path, destinationParent, version)
	s.observe("Move", timeStart, err)
	return newPath, err
}

func (s *metricsStore) GetData(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) ([]byte, persistence.Stat, error) {
	timeStart := s.clock.Now()
	data, stat, err := s.base.GetData(ctx, auth, path, watcher)
	s.observe("GetData", timeStart, err)
	return data, stat, err
}

func (s *metricsStore) Exists(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) (*persistence.Stat, error) {
	timeStart := s.clock.Now()
	stat, err := s.base.Exists(ctx, auth, path, watcher)
	s.observe("Exists", timeStart, err)
	return stat, err
}

func (s *metricsStore) GetChildren(ctx context.Context, auth *acl.Authentication, path, condition string, watcher tree.Watcher) ([]string, persistence.Stat, error) {
	timeStart := s.clock.Now()
	children, stat, err := s.base.GetChildren(ctx, auth, path, condition, watcher)
	s.observe("GetChildren", timeStart, err)
	return children, stat, err
}

func (s *metricsStore) GetACL(ctx context.Context, auth *acl.Authentication, path string) ([]acl.Entry, persistence.Stat, error) {
	timeStart := s.clock.Now()
	entries, stat, err := s.base.GetACL(ctx, auth, path)
	s.observe("GetACL", timeStart, err)
	return entries, stat, err
}

func (s *metricsStore) Multi(ctx context.Context, auth *acl.Authentication, operations []Operation) ([]OperationResult, error) {
	timeStart := s.clock.Now()
	results, err := s.base.Multi(ctx, auth, operations)
	s.observe("Multi", timeStart, err)
	storeMultiOperations.Observe(float64(len(operations)))
	return results, err
}

func (s *metricsStore) AddBulkWatcher(spec string, watcher tree.Watcher) (string, error) {
	return s.base.AddBulkWatcher(spec, watcher)
}

func (s *metricsStore) RemoveBulkWatcher(id string) bool {
	return s.base.RemoveBulkWatcher(id)
}
