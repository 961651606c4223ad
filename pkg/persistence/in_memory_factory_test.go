package persistence_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/buildbarn/bb-coordination/internal/mock"
	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/mock/gomock"
)

func TestInMemoryFactoryRecords(t *testing.T) {
	ctrl := gomock.NewController(t)

	factory := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))

	t.Run("Root", func(t *testing.T) {
		root, ok := factory.GetRecord(persistence.RootRecordID)
		require.True(t, ok)
		require.Equal(t, "", root.Name())
		require.Equal(t, persistence.RecordID(0), root.ParentID())
		require.Equal(t, int64(1), factory.TotalNodes())
		require.Equal(t, int64(0), factory.TotalDataSize())
	})

	t.Run("CreateAndDelete", func(t *testing.T) {
		r := factory.CreateRecord("hello", false, &persistence.Contents{
			Data: []byte("world"),
			Stat: persistence.NewStat(5, 1000, 5),
		})
		require.NotEqual(t, persistence.RootRecordID, r.ID())
		require.Equal(t, int64(2), factory.TotalNodes())
		require.Equal(t, int64(5), factory.TotalDataSize())

		r2, ok := factory.GetRecord(r.ID())
		require.True(t, ok)
		require.Same(t, r, r2)

		factory.UpdateContents(r, &persistence.Contents{Data: []byte("hi")})
		require.Equal(t, int64(2), factory.TotalDataSize())

		factory.DeleteRecord(r)
		_, ok = factory.GetRecord(r.ID())
		require.False(t, ok)
		require.Equal(t, int64(1), factory.TotalNodes())
		require.Equal(t, int64(0), factory.TotalDataSize())

		// Undeletion restores the record under the same
		// identifier.
		factory.UndeleteRecord(r)
		r2, ok = factory.GetRecord(r.ID())
		require.True(t, ok)
		require.Same(t, r, r2)
		require.Equal(t, int64(2), factory.TotalDataSize())

		require.Panics(t, func() { factory.UndeleteRecord(r) })
	})

	t.Run("IdentifiersNotReused", func(t *testing.T) {
		r1 := factory.CreateRecord("a", false, &persistence.Contents{})
		factory.DeleteRecord(r1)
		r2 := factory.CreateRecord("a", false, &persistence.Contents{})
		require.Greater(t, r2.ID(), r1.ID())
	})
}

func TestInMemoryFactoryChangeListWithoutJournal(t *testing.T) {
	ctrl := gomock.NewController(t)

	factory := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))
	r := factory.CreateRecord("node", false, &persistence.Contents{})

	t.Run("Commit", func(t *testing.T) {
		cl := factory.NewChangeList()
		cl.SetTime(1000)
		cl.Record(persistence.Change{Kind: persistence.ChangeKindCreate, Image: r.Image()})
		done, err := cl.Commit(12)
		require.NoError(t, err)
		require.NoError(t, <-done)

		// Change lists can only be completed once.
		_, err = cl.Commit(13)
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
	})

	t.Run("CommitSync", func(t *testing.T) {
		var pool sync.WaitHandlePool
		wh := pool.Get()
		cl := factory.NewChangeList()
		cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: r.Image()})
		require.NoError(t, cl.CommitSync(14, wh))
		require.NoError(t, wh.Wait(context.Background()))
		pool.Put(wh)
	})

	t.Run("Abort", func(t *testing.T) {
		cl := factory.NewChangeList()
		cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: r.Image()})
		cl.Abort()
		_, err := cl.Commit(15)
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
	})
}

func TestInMemoryFactoryChangeListWithJournal(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	journal := mock.NewMockJournal(ctrl)
	errorLogger := mock.NewMockErrorLogger(ctrl)
	factory := persistence.NewInMemoryFactory(journal, 10, errorLogger)

	processCtx, cancel := context.WithCancel(ctx)
	processDone := make(chan error, 1)
	go func() { processDone <- factory.ProcessCommits(processCtx) }()
	defer func() {
		cancel()
		require.NoError(t, <-processDone)
	}()

	persistent := factory.CreateRecord("persistent", false, &persistence.Contents{Data: []byte("x")})
	ephemeral := factory.CreateRecord("ephemeral", true, &persistence.Contents{})

	t.Run("Success", func(t *testing.T) {
		// Changes to ephemeral records should not be
		// journaled.
		cl := factory.NewChangeList()
		cl.SetTime(2000)
		cl.Record(persistence.Change{Kind: persistence.ChangeKindCreate, Image: persistent.Image()})
		cl.Record(persistence.Change{Kind: persistence.ChangeKindCreate, Image: ephemeral.Image()})

		journal.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, batch *persistence.Batch) error {
				require.Equal(t, int64(20), batch.TxID)
				require.Equal(t, int64(2000), batch.TxTime)
				require.Equal(t, []persistence.Change{
					{Kind: persistence.ChangeKindCreate, Image: persistent.Image()},
				}, batch.Changes)
				return nil
			})
		done, err := cl.Commit(20)
		require.NoError(t, err)
		require.NoError(t, <-done)
	})

	t.Run("EphemeralOnly", func(t *testing.T) {
		// Batches that contain nothing to journal complete
		// immediately.
		cl := factory.NewChangeList()
		cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: ephemeral.Image()})
		done, err := cl.Commit(21)
		require.NoError(t, err)
		require.NoError(t, <-done)
	})

	t.Run("Failure", func(t *testing.T) {
		var pool sync.WaitHandlePool
		wh := pool.Get()
		cl := factory.NewChangeList()
		cl.Record(persistence.Change{Kind: persistence.ChangeKindRemove, Image: persistent.Image()})

		journal.EXPECT().Append(gomock.Any(), gomock.Any()).Return(status.Error(codes.Unavailable, "Disk full"))
		errorLogger.EXPECT().Log(gomock.Any()).Do(func(err error) {
			require.Equal(t, codes.Unavailable, status.Code(err))
		})
		require.NoError(t, cl.CommitSync(22, wh))
		err := wh.Wait(ctx)
		require.Equal(t, codes.Unavailable, status.Code(err))
		require.Contains(t, status.Convert(err).Message(), "of transaction 22: Disk full")
		pool.Put(wh)
	})
}

func TestInMemoryFactoryChangeListAfterShutdown(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	journal := mock.NewMockJournal(ctrl)
	errorLogger := mock.NewMockErrorLogger(ctrl)
	factory := persistence.NewInMemoryFactory(journal, 1, errorLogger)
	r := factory.CreateRecord("r", false, &persistence.Contents{})

	newChangeList := func() persistence.ChangeList {
		cl := factory.NewChangeList()
		cl.Record(persistence.Change{Kind: persistence.ChangeKindUpdate, Image: r.Image()})
		return cl
	}

	// The first batch fills up the queue. The second one blocks
	// until the journal is shut down.
	done1, err := newChangeList().Commit(1)
	require.NoError(t, err)
	cl2 := newChangeList()
	done2 := make(chan persistence.CommitTask, 1)
	go func() {
		done, _ := cl2.Commit(2)
		done2 <- done
	}()

	// Batches that were never written must fail, as opposed to
	// being dropped silently.
	errorLogger.EXPECT().Log(gomock.Any()).Times(2)
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, factory.ProcessCommits(cancelledCtx))
	require.Equal(t, codes.Unavailable, status.Code(<-done1))
	require.Equal(t, codes.Unavailable, status.Code(<-<-done2))

	// Batches committed afterwards fail immediately.
	errorLogger.EXPECT().Log(gomock.Any())
	var pool sync.WaitHandlePool
	wh := pool.Get()
	require.NoError(t, newChangeList().CommitSync(3, wh))
	err = wh.Wait(ctx)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "of transaction 3, as the journal has been shut down")
	pool.Put(wh)
}

func TestInMemoryFactorySnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)

	factory := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))
	child := factory.CreateRecord("child", false, &persistence.Contents{
		Data: []byte("Hello"),
		ACL:  acl.ReadACLUnsafe,
		Stat: persistence.NewStat(7, 1234, 5),
	})
	child.SetParentID(persistence.RootRecordID)
	factory.CreateRecord("session", true, &persistence.Contents{}).SetParentID(persistence.RootRecordID)

	var buffer bytes.Buffer
	require.NoError(t, factory.SaveTo(&buffer))

	restored := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))
	require.NoError(t, restored.LoadFrom(&buffer))

	// Ephemeral records are not part of snapshots.
	require.Equal(t, int64(2), restored.TotalNodes())
	require.Equal(t, int64(5), restored.TotalDataSize())
	r, ok := restored.GetRecord(child.ID())
	require.True(t, ok)
	require.Equal(t, child.Image(), r.Image())

	// Newly created records should not collide with restored ones.
	require.Greater(t, restored.CreateRecord("new", false, &persistence.Contents{}).ID(), child.ID())
}

func TestInMemoryFactoryRestore(t *testing.T) {
	ctrl := gomock.NewController(t)

	factory := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))

	t.Run("NoRoot", func(t *testing.T) {
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Records do not contain a root"),
			factory.Restore([]persistence.RecordImage{{ID: 2, ParentID: 1, Name: "a"}}))
	})

	t.Run("DuplicateID", func(t *testing.T) {
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Multiple records have identifier 1"),
			factory.Restore([]persistence.RecordImage{{ID: 1}, {ID: 1}}))
	})

	t.Run("MissingParent", func(t *testing.T) {
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Parent 3 of record 2 does not exist"),
			factory.Restore([]persistence.RecordImage{{ID: 1}, {ID: 2, ParentID: 3, Name: "a"}}))
	})

	t.Run("MalformedSnapshot", func(t *testing.T) {
		err := factory.LoadFrom(bytes.NewBufferString("not cbor"))
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
