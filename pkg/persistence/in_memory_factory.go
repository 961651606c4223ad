package persistence

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	inMemoryFactoryPrometheusMetrics sync.Once

	inMemoryFactoryBatchesCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "coordination",
			Name:      "factory_batches_committed_total",
			Help:      "Number of change lists committed by in-memory record factories, per outcome.",
		},
		[]string{"outcome"})
	inMemoryFactoryBatchesCommittedSuccess = inMemoryFactoryBatchesCommitted.WithLabelValues("Success")
	inMemoryFactoryBatchesCommittedFailure = inMemoryFactoryBatchesCommitted.WithLabelValues("Failure")
	inMemoryFactoryBatchesCommittedEmpty   = inMemoryFactoryBatchesCommitted.WithLabelValues("Empty")
)

type pendingCommit struct {
	batch *Batch
	done  func(error)
}

// InMemoryFactory is an implementation of Factory that keeps all
// records in memory. Changes may optionally be forwarded to a Journal,
// so that they can be replayed after a restart.
//
// Writes to the Journal are performed by ProcessCommits(), which must
// be run in the background when a Journal is provided.
type InMemoryFactory struct {
	journal     Journal
	errorLogger util.ErrorLogger
	pending     chan pendingCommit

	// Closed when ProcessCommits() returns. Senders on pending hold
	// stopLock for reading.
	stopped  chan struct{}
	stopLock sync.RWMutex

	lock          sync.RWMutex
	records       map[RecordID]*Record
	nextID        atomic.Uint64
	totalDataSize atomic.Int64
}

var _ Factory = (*InMemoryFactory)(nil)

// NewInMemoryFactory creates an InMemoryFactory that contains nothing
// but the root record. The Journal may be nil, in which case changes
// are committed immediately.
func NewInMemoryFactory(journal Journal, pendingCommitsLimit int, errorLogger util.ErrorLogger) *InMemoryFactory {
	inMemoryFactoryPrometheusMetrics.Do(func() {
		prometheus.MustRegister(inMemoryFactoryBatchesCommitted)
	})

	f := &InMemoryFactory{
		journal:     journal,
		errorLogger: errorLogger,
		pending:     make(chan pendingCommit, pendingCommitsLimit),
		stopped:     make(chan struct{}),
		records:     map[RecordID]*Record{},
	}
	root := newRecord(RootRecordID, "", false, 0, &Contents{
		ACL: acl.OpenACLUnsafe,
	})
	f.records[RootRecordID] = root
	f.nextID.Store(uint64(RootRecordID) + 1)
	return f
}

// CreateRecord allocates a new record that has no parent.
func (f *InMemoryFactory) CreateRecord(name string, ephemeral bool, contents *Contents) *Record {
	r := newRecord(RecordID(f.nextID.Add(1)-1), name, ephemeral, 0, contents)
	f.UndeleteRecord(r)
	return r
}

// DeleteRecord removes a record from the arena.
func (f *InMemoryFactory) DeleteRecord(r *Record) {
	f.lock.Lock()
	if _, ok := f.records[r.id]; !ok {
		f.lock.Unlock()
		panic("Attempted to delete a record that is not part of the arena")
	}
	delete(f.records, r.id)
	f.lock.Unlock()
	f.totalDataSize.Add(-int64(len(r.Contents().Data)))
}

// UndeleteRecord reinserts a record into the arena.
func (f *InMemoryFactory) UndeleteRecord(r *Record) {
	f.lock.Lock()
	if _, ok := f.records[r.id]; ok {
		f.lock.Unlock()
		panic("Attempted to insert a record that is already part of the arena")
	}
	f.records[r.id] = r
	f.lock.Unlock()
	f.totalDataSize.Add(int64(len(r.Contents().Data)))
}

// UpdateContents replaces the contents of a record.
func (f *InMemoryFactory) UpdateContents(r *Record, contents *Contents) {
	previous := r.contents.Swap(contents)
	f.totalDataSize.Add(int64(len(contents.Data) - len(previous.Data)))
}

// GetRecord looks up a record by identifier.
func (f *InMemoryFactory) GetRecord(id RecordID) (*Record, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	r, ok := f.records[id]
	return r, ok
}

// Records returns all records stored in the arena.
func (f *InMemoryFactory) Records() []*Record {
	f.lock.RLock()
	defer f.lock.RUnlock()
	records := make([]*Record, 0, len(f.records))
	for _, r := range f.records {
		records = append(records, r)
	}
	return records
}

// TotalNodes returns the number of records in the arena.
func (f *InMemoryFactory) TotalNodes() int64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return int64(len(f.records))
}

// TotalDataSize returns the sum of the data sizes of all records.
func (f *InMemoryFactory) TotalDataSize() int64 {
	return f.totalDataSize.Load()
}

// Restore replaces the contents of the arena with a set of record
// images. It may only be called before the records are used by a
// tree.
func (f *InMemoryFactory) Restore(images []RecordImage) error {
	records := make(map[RecordID]*Record, len(images))
	maximumID := RootRecordID
	totalDataSize := int64(0)
	for i := range images {
		image := &images[i]
		if image.ID == 0 {
			return status.Errorf(codes.InvalidArgument, "Record %#v has no identifier", image.Name)
		}
		if _, ok := records[image.ID]; ok {
			return status.Errorf(codes.InvalidArgument, "Multiple records have identifier %d", image.ID)
		}
		records[image.ID] = newRecord(image.ID, image.Name, image.Ephemeral, image.ParentID, &Contents{
			Data: image.Data,
			ACL:  image.ACL,
			Stat: image.Stat,
		})
		if image.ID > maximumID {
			maximumID = image.ID
		}
		totalDataSize += int64(len(image.Data))
	}
	root, ok := records[RootRecordID]
	if !ok {
		return status.Error(codes.InvalidArgument, "Records do not contain a root")
	}
	if root.ParentID() != 0 {
		return status.Error(codes.InvalidArgument, "Root record has a parent")
	}
	for _, r := range records {
		if r.id != RootRecordID {
			if _, ok := records[r.ParentID()]; !ok {
				return status.Errorf(codes.InvalidArgument, "Parent %d of record %d does not exist", r.ParentID(), r.id)
			}
		}
	}

	f.lock.Lock()
	f.records = records
	f.lock.Unlock()
	f.nextID.Store(uint64(maximumID) + 1)
	f.totalDataSize.Store(totalDataSize)
	return nil
}

// LoadFromJournal replaces the contents of the arena with the records
// stored in the Journal. Nothing is changed if the Journal is empty.
func (f *InMemoryFactory) LoadFromJournal(ctx context.Context) error {
	if f.journal == nil {
		return nil
	}
	var images []RecordImage
	if err := f.journal.Replay(ctx, func(image RecordImage) error {
		images = append(images, image)
		return nil
	}); err != nil {
		return util.StatusWrap(err, "Failed to replay journal")
	}
	if len(images) == 0 {
		return nil
	}
	return f.Restore(images)
}

// SaveTo writes a snapshot of all records to a stream. Records that
// are modified while the snapshot is being created may or may not be
// captured in their latest state.
func (f *InMemoryFactory) SaveTo(w io.Writer) error {
	records := f.Records()
	images := make([]RecordImage, 0, len(records))
	for _, r := range records {
		if !r.IsEphemeral() {
			images = append(images, r.Image())
		}
	}
	return WriteSnapshot(w, images)
}

// LoadFrom replaces the contents of the arena with a snapshot that
// was written by SaveTo().
func (f *InMemoryFactory) LoadFrom(r io.Reader) error {
	images, err := ReadSnapshot(r)
	if err != nil {
		return err
	}
	return f.Restore(images)
}

// NewChangeList creates a ChangeList that forwards its changes to the
// Journal upon commit.
func (f *InMemoryFactory) NewChangeList() ChangeList {
	return &inMemoryChangeList{
		factory: f,
		id:      uuid.Must(uuid.NewRandom()).String(),
	}
}

func (f *InMemoryFactory) enqueue(batch *Batch, done func(error)) {
	if f.journal == nil || len(batch.Changes) == 0 {
		inMemoryFactoryBatchesCommittedEmpty.Inc()
		done(nil)
		return
	}

	pc := pendingCommit{batch: batch, done: done}
	f.stopLock.RLock()
	defer f.stopLock.RUnlock()
	select {
	case <-f.stopped:
		f.reject(pc)
		return
	default:
	}
	select {
	case f.pending <- pc:
	case <-f.stopped:
		f.reject(pc)
	}
}

func (f *InMemoryFactory) reject(pc pendingCommit) {
	inMemoryFactoryBatchesCommittedFailure.Inc()
	err := status.Errorf(codes.Unavailable, "Cannot journal change list %s of transaction %d, as the journal has been shut down", pc.batch.ID, pc.batch.TxID)
	f.errorLogger.Log(err)
	pc.done(err)
}

// stop causes all pending and future commits to fail.
func (f *InMemoryFactory) stop() {
	close(f.stopped)
	f.stopLock.Lock()
	f.stopLock.Unlock()
	for {
		select {
		case pc := <-f.pending:
			f.reject(pc)
		default:
			return
		}
	}
}

// ProcessCommits writes the batches of committed change lists to the
// Journal, in the order in which they were committed. It runs until
// the context is cancelled. Batches that have not been written by then
// fail with Unavailable. It may only be called once.
func (f *InMemoryFactory) ProcessCommits(ctx context.Context) error {
	defer f.stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case pc := <-f.pending:
			err := f.journal.Append(ctx, pc.batch)
			if err == nil {
				inMemoryFactoryBatchesCommittedSuccess.Inc()
			} else {
				inMemoryFactoryBatchesCommittedFailure.Inc()
				err = util.StatusWrapf(err, "Failed to journal change list %s of transaction %d", pc.batch.ID, pc.batch.TxID)
				f.errorLogger.Log(err)
			}
			pc.done(err)
		}
	}
}

type inMemoryChangeList struct {
	factory   *InMemoryFactory
	id        string
	txTime    int64
	changes   []Change
	completed bool
}

func (cl *inMemoryChangeList) SetTime(txTime int64) {
	cl.txTime = txTime
}

func (cl *inMemoryChangeList) Record(change Change) {
	if cl.completed {
		panic("Attempted to record a change in a change list that has already been completed")
	}
	if !change.Image.Ephemeral {
		cl.changes = append(cl.changes, change)
	}
}

func (cl *inMemoryChangeList) complete(txID int64) (*Batch, error) {
	if cl.completed {
		return nil, status.Errorf(codes.FailedPrecondition, "Change list %s has already been completed", cl.id)
	}
	cl.completed = true
	return &Batch{
		ID:      cl.id,
		TxID:    txID,
		TxTime:  cl.txTime,
		Changes: cl.changes,
	}, nil
}

func (cl *inMemoryChangeList) Commit(txID int64) (CommitTask, error) {
	batch, err := cl.complete(txID)
	if err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	cl.factory.enqueue(batch, func(err error) { result <- err })
	return result, nil
}

func (cl *inMemoryChangeList) CommitSync(txID int64, waitHandle *co_sync.WaitHandle) error {
	batch, err := cl.complete(txID)
	if err != nil {
		return err
	}
	cl.factory.enqueue(batch, waitHandle.Set)
	return nil
}

func (cl *inMemoryChangeList) Abort() {
	cl.completed = true
	cl.changes = nil
}
