package tree_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildbarn/bb-coordination/internal/mock"
	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	co_sync "github.com/buildbarn/bb-coordination/pkg/sync"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/mock/gomock"
)

// changeListFactory is a persistence.Factory that can be instructed to
// hand out a mocked ChangeList.
type changeListFactory struct {
	*persistence.InMemoryFactory
	changeList persistence.ChangeList
}

func (f *changeListFactory) NewChangeList() persistence.ChangeList {
	if cl := f.changeList; cl != nil {
		f.changeList = nil
		return cl
	}
	return f.InMemoryFactory.NewChangeList()
}

func getNodeForWriting(ctx context.Context, t *testing.T, tr *tree.Tree, ll tree.LockList, path string) *tree.Node {
	result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
		Path:       path,
		NodeAccess: acl.PermWrite,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Node)
	return result.Node
}

func setData(ctx context.Context, t *testing.T, tr *tree.Tree, path, data string) {
	ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
	defer ll.Release()
	require.NoError(t, ll.AppendSetData(getNodeForWriting(ctx, t, tr, ll, path), []byte(data)))
	_, err := ll.Complete(ctx)
	require.NoError(t, err)
}

func TestReadWriteLockListAbort(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	tr, factory := newTestTree(t, ctrl)

	a := createNode(ctx, t, tr, "/a", "Hello")
	createNode(ctx, t, tr, "/a/x", "")
	b := createNode(ctx, t, tr, "/b", "World")

	t.Run("NoChanges", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll, "/a")
		ll.MarkForAbort()
		require.True(t, ll.IsMarkedForAbort())
		task, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		ll.Release()
	})

	t.Run("SingleChange", func(t *testing.T) {
		contentsBefore := *a.Contents()

		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		require.NoError(t, ll.AppendSetData(getNodeForWriting(ctx, t, tr, ll, "/a"), []byte("Goodbye")))
		require.Equal(t, []byte("Goodbye"), a.Contents().Data)

		// Releasing a transaction without completing it causes
		// it to be aborted.
		ll.Release()
		require.Equal(t, contentsBefore, *a.Contents())
		ll.Release()
	})

	t.Run("ManyChanges", func(t *testing.T) {
		root := tr.Root()
		rootContentsBefore := *root.Contents()
		aContentsBefore := *a.Contents()
		totalNodesBefore := factory.TotalNodes()
		totalDataSizeBefore := factory.TotalDataSize()

		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		require.NoError(t, ll.AppendSetData(getNodeForWriting(ctx, t, tr, ll, "/a"), []byte("Changed")))
		require.NoError(t, ll.AppendSetACL(a, acl.ReadACLUnsafe))

		pp, err := tr.GetPathParent(ctx, ll, tree.NodeLookup{
			Path:         "/a/y",
			ParentAccess: acl.PermCreate,
		})
		require.NoError(t, err)
		y, err := ll.AppendCreate(pp.LastName, []byte("New"), acl.OpenACLUnsafe, false)
		require.NoError(t, err)
		require.NoError(t, ll.AppendAddChild(pp.Parent, y))

		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:         "/b",
			ParentAccess: acl.PermDelete,
		})
		require.NoError(t, err)
		require.NoError(t, ll.AppendRemove(result.Parent, result.Node))

		require.Equal(t, []string{"x", "y"}, childNames(a))
		require.Equal(t, []string{"a"}, childNames(root))
		_, ok := tr.NodeByID(b.ID())
		require.False(t, ok)

		ll.MarkForAbort()
		_, err = ll.Complete(ctx)
		require.NoError(t, err)
		ll.Release()

		require.Equal(t, rootContentsBefore, *root.Contents())
		require.Equal(t, aContentsBefore, *a.Contents())
		require.Equal(t, []string{"x"}, childNames(a))
		require.Equal(t, []string{"a", "b"}, childNames(root))
		require.Same(t, root, b.Parent())
		require.Nil(t, y.Parent())
		_, ok = tr.NodeByID(y.ID())
		require.False(t, ok)
		nodeB, ok := tr.NodeByID(b.ID())
		require.True(t, ok)
		require.Same(t, b, nodeB)
		require.Equal(t, totalNodesBefore, factory.TotalNodes())
		require.Equal(t, totalDataSizeBefore, factory.TotalDataSize())
	})

	t.Run("RunOnAbort", func(t *testing.T) {
		var calls []int
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		require.NoError(t, ll.RunOnAbort(func() { calls = append(calls, 1) }))
		require.NoError(t, ll.RunOnAbort(func() { calls = append(calls, 2) }))
		require.NoError(t, ll.RunOnCommit(func() { t.Fatal("Commit action called") }))
		ll.MarkForAbort()
		testutil.RequireEqualStatus(t, status.Errorf(codes.FailedPrecondition, "Transaction %d has been marked for abort", ll.TxID()), ll.RunOnAbort(func() {}))
		_, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Equal(t, []int{2, 1}, calls)

		// Completing multiple times has no effect.
		_, err = ll.Complete(ctx)
		require.NoError(t, err)
		require.Equal(t, []int{2, 1}, calls)
		ll.Release()
	})
}

func TestReadWriteLockListStat(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	tr, _ := newTestTree(t, ctrl)

	n := createNode(ctx, t, tr, "/node", "Hello")
	created := n.Contents().Stat
	require.Equal(t, created.Czxid, created.Mzxid)
	require.Equal(t, created.Czxid, created.Pzxid)
	require.Equal(t, created.Ctime, created.Mtime)
	require.Equal(t, int32(0), created.Version)
	require.Equal(t, int32(5), created.DataLength)

	rootStat := tr.Root().Contents().Stat
	require.Equal(t, int32(1), rootStat.Cversion)
	require.Equal(t, int32(1), rootStat.NumChildren)
	require.Equal(t, created.Czxid, rootStat.Pzxid)

	setData(ctx, t, tr, "/node", "Hi")
	setData(ctx, t, tr, "/node", "Hey there")
	modified := n.Contents().Stat
	require.Equal(t, created.Czxid, modified.Czxid)
	require.Greater(t, modified.Mzxid, created.Mzxid)
	require.Equal(t, created.Ctime, modified.Ctime)
	require.GreaterOrEqual(t, modified.Mtime, created.Mtime)
	require.Equal(t, int32(2), modified.Version)
	require.Equal(t, int32(9), modified.DataLength)
	require.Equal(t, []byte("Hey there"), n.Contents().Data)

	ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
	require.NoError(t, ll.AppendSetACL(getNodeForWriting(ctx, t, tr, ll, "/node"), acl.ReadACLUnsafe))
	_, err := ll.Complete(ctx)
	require.NoError(t, err)
	ll.Release()
	require.Equal(t, int32(1), n.Contents().Stat.Aversion)
	require.Equal(t, acl.ReadACLUnsafe, n.Contents().ACL)
	require.Equal(t, int32(2), n.Contents().Stat.Version)
}

func TestReadWriteLockListRemove(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	tr, factory := newTestTree(t, ctrl)

	d := createNode(ctx, t, tr, "/d", "")
	e := createNode(ctx, t, tr, "/d/e", "")
	f := createNode(ctx, t, tr, "/d/e/f", "")
	g := createNode(ctx, t, tr, "/d/g", "")
	totalNodesBefore := factory.TotalNodes()

	t.Run("NotEmpty", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:         "/d",
			ParentAccess: acl.PermDelete,
		})
		require.NoError(t, err)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Node \"/d\" is not empty"), ll.AppendRemove(result.Parent, result.Node))
		ll.Release()
		require.Equal(t, totalNodesBefore, factory.TotalNodes())
	})

	t.Run("Root", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		_, err := ll.AppendRemoveNodeAndAllChildren(tr.Root())
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "The root node cannot be removed"), err)
		ll.Release()
	})

	t.Run("RecursiveAbort", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:         "/d",
			ParentAccess: acl.PermDelete,
		})
		require.NoError(t, err)
		count, err := ll.AppendRemoveNodeAndAllChildren(result.Node)
		require.NoError(t, err)
		require.Equal(t, 4, count)
		ll.Release()

		require.Equal(t, totalNodesBefore, factory.TotalNodes())
		require.Equal(t, "/d/e/f", f.Path())
		for _, n := range []*tree.Node{d, e, f, g} {
			_, ok := tr.NodeByID(n.ID())
			require.True(t, ok)
		}
	})

	t.Run("Recursive", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:         "/d/e",
			ParentAccess: acl.PermDelete,
		})
		require.NoError(t, err)
		count, err := ll.AppendRemoveNodeAndAllChildren(result.Node)
		require.NoError(t, err)
		require.Equal(t, 2, count)
		_, err = ll.Complete(ctx)
		require.NoError(t, err)
		ll.Release()

		require.Equal(t, totalNodesBefore-2, factory.TotalNodes())
		require.Equal(t, []string{"g"}, childNames(d))
		require.Equal(t, int32(1), d.Contents().Stat.NumChildren)
		for _, n := range []*tree.Node{e, f} {
			_, ok := tr.NodeByID(n.ID())
			require.False(t, ok)
			require.Nil(t, n.Contents())
		}
	})
}

func TestReadWriteLockListMove(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	tr, _ := newTestTree(t, ctrl)

	m := createNode(ctx, t, tr, "/m", "")
	src := createNode(ctx, t, tr, "/m/src", "")
	dst := createNode(ctx, t, tr, "/m/dst", "")
	item := createNode(ctx, t, tr, "/m/src/item", "")
	createNode(ctx, t, tr, "/m/dst/existing", "")

	lockAll := func(ll tree.LockList) {
		_, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/m",
			NodeAccess: acl.PermWrite,
		})
		require.NoError(t, err)
	}

	t.Run("IntoOwnSubtree", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		lockAll(ll)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Node \"/m/src\" cannot be moved into its own subtree"), ll.AppendMove(m, item, src))
		ll.Release()
	})

	t.Run("NameCollision", func(t *testing.T) {
		existing := createNode(ctx, t, tr, "/m/src/existing", "")
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		lockAll(ll)
		testutil.RequireEqualStatus(t, status.Error(codes.AlreadyExists, "Node \"/m/dst\" already has a child named \"existing\""), ll.AppendMove(src, dst, existing))
		require.NoError(t, ll.AppendRemove(src, existing))
		_, err := ll.Complete(ctx)
		require.NoError(t, err)
		ll.Release()
	})

	t.Run("Success", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		lockAll(ll)
		require.NoError(t, ll.AppendMove(src, dst, item))
		_, err := ll.Complete(ctx)
		require.NoError(t, err)
		ll.Release()

		require.Equal(t, "/m/dst/item", item.Path())
		require.Empty(t, childNames(src))
		require.Equal(t, []string{"existing", "item"}, childNames(dst))
		require.Equal(t, int32(0), src.Contents().Stat.NumChildren)
		require.Equal(t, int32(2), dst.Contents().Stat.NumChildren)
		record, ok := item.Record()
		require.True(t, ok)
		require.Equal(t, dst.ID(), record.ParentID())
	})
}

func TestReadWriteLockListCommit(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	factory := &changeListFactory{
		InMemoryFactory: persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl)),
	}
	tr, err := tree.NewTree(factory, newTestConfiguration(t, 5*time.Second))
	require.NoError(t, err)
	createNode(ctx, t, tr, "/a", "")

	setDataWithMock := func(options tree.ReadWriteOptions) (tree.LockList, *mock.MockChangeList) {
		changeList := mock.NewMockChangeList(ctrl)
		factory.changeList = changeList
		ll := tr.NewReadWriteLockList(superSession, options)
		changeList.EXPECT().SetTime(int64(12345))
		changeList.EXPECT().Record(gomock.Any()).Do(func(change persistence.Change) {
			require.Equal(t, persistence.ChangeKindUpdate, change.Kind)
			require.Equal(t, []byte("Hello"), change.Image.Data)
		})
		require.NoError(t, ll.AppendSetData(getNodeForWriting(ctx, t, tr, ll, "/a"), []byte("Hello")))
		return ll, changeList
	}

	t.Run("Asynchronous", func(t *testing.T) {
		ll, changeList := setDataWithMock(tree.ReadWriteOptions{TxID: 1000, TxTime: 12345})
		commitTask := make(chan error, 1)
		changeList.EXPECT().Commit(int64(1000)).Return(persistence.CommitTask(commitTask), nil)

		task, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Equal(t, persistence.CommitTask(commitTask), task)
		ll.Release()
	})

	t.Run("Synchronous", func(t *testing.T) {
		ll, changeList := setDataWithMock(tree.ReadWriteOptions{SynchronousFinish: true, TxID: 1001, TxTime: 12345})
		changeList.EXPECT().CommitSync(int64(1001), gomock.Any()).DoAndReturn(
			func(txID int64, waitHandle *co_sync.WaitHandle) error {
				waitHandle.Set(nil)
				return nil
			})

		task, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		ll.Release()
	})

	t.Run("SynchronousFailure", func(t *testing.T) {
		ll, changeList := setDataWithMock(tree.ReadWriteOptions{SynchronousFinish: true, TxID: 1002, TxTime: 12345})
		changeList.EXPECT().CommitSync(int64(1002), gomock.Any()).DoAndReturn(
			func(txID int64, waitHandle *co_sync.WaitHandle) error {
				waitHandle.Set(status.Error(codes.Internal, "Disk on fire"))
				return nil
			})

		_, err := ll.Complete(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Failed to wait for transaction 1002 to become durable: Disk on fire"), err)
		ll.Release()
	})

	t.Run("CommitFailure", func(t *testing.T) {
		// Changes have already been applied to the tree by the
		// time the commit fails. There is no way to recover from
		// that.
		ll, changeList := setDataWithMock(tree.ReadWriteOptions{TxID: 1003, TxTime: 12345})
		changeList.EXPECT().Commit(int64(1003)).Return(nil, status.Error(codes.FailedPrecondition, "Change list has already been completed"))

		require.Panics(t, func() { ll.Complete(ctx) })

		// Locks must have been released nonetheless.
		ll2 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll2, "/a")
		ll2.Release()
	})

	t.Run("Poison", func(t *testing.T) {
		// Poison pills are only recorded. The contents of the
		// node remain unchanged.
		changeList := mock.NewMockChangeList(ctrl)
		factory.changeList = changeList
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{TxID: 1004, TxTime: 12345})
		n := getNodeForWriting(ctx, t, tr, ll, "/a")
		contentsBefore := *n.Contents()
		changeList.EXPECT().SetTime(int64(12345))
		changeList.EXPECT().Record(gomock.Any()).Do(func(change persistence.Change) {
			require.Equal(t, persistence.ChangeKindPoison, change.Kind)
			require.Equal(t, "$poison:replica=2", change.PoisonSpec)
		})
		require.NoError(t, ll.AppendPoison(n, "$poison:replica=2"))
		changeList.EXPECT().Commit(int64(1004)).Return(nil, nil)

		_, err := ll.Complete(ctx)
		require.NoError(t, err)
		ll.Release()
		require.Equal(t, contentsBefore, *n.Contents())
	})

	t.Run("OnlyEphemeral", func(t *testing.T) {
		changeList := mock.NewMockChangeList(ctrl)
		factory.changeList = changeList
		ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{OnlyEphemeral: true, TxTime: 12345})

		_, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/a",
			NodeAccess: acl.PermWrite,
		})
		testutil.RequireEqualStatus(t, status.Error(codes.PermissionDenied, "Only ephemeral nodes can be modified by this session, while \"/a\" is not ephemeral"), err)

		pp, err := tr.GetPathParent(ctx, ll, tree.NodeLookup{
			Path:             "/session",
			ParentAccess:     acl.PermCreate,
			IsChildEphemeral: true,
		})
		require.NoError(t, err)
		changeList.EXPECT().SetTime(int64(12345))
		changeList.EXPECT().Record(gomock.Any()).Times(3)
		n, err := ll.AppendCreate(pp.LastName, nil, acl.OpenACLUnsafe, true)
		require.NoError(t, err)
		require.NoError(t, ll.AppendAddChild(pp.Parent, n))

		// Changes made by these transactions are never
		// persisted.
		changeList.EXPECT().Abort()
		task, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		ll.Release()

		require.True(t, n.IsEphemeral())
		require.Equal(t, "/session", n.Path())

		// Ephemeral nodes cannot have children.
		ll = tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll, "/session")
		child, err := ll.AppendCreate("child", nil, acl.OpenACLUnsafe, false)
		require.NoError(t, err)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Node \"/session\" is ephemeral, meaning it cannot have children"), ll.AppendAddChild(n, child))
		ll.Release()
	})
}

func TestLockListAccessControl(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	lockDown := tree.NewLockDownSet([]string{"/frozen"})
	configuration := newTestConfiguration(t, 5*time.Second)
	configuration.LockDown = lockDown
	tr, err := tree.NewTree(persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl)), configuration)
	require.NoError(t, err)

	createNode(ctx, t, tr, "/frozen", "")
	readOnly := createNode(ctx, t, tr, "/readonly", "")
	ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
	require.NoError(t, ll.AppendSetACL(getNodeForWriting(ctx, t, tr, ll, "/readonly"), acl.ReadACLUnsafe))
	_, err = ll.Complete(ctx)
	require.NoError(t, err)
	ll.Release()

	session := &acl.Authentication{ClientIdentity: "alice"}

	t.Run("PermissionDenied", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(session, tree.ReadWriteOptions{})
		defer ll.Release()
		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/readonly",
			NodeAccess: acl.PermRead,
		})
		require.NoError(t, err)
		require.Same(t, readOnly, result.Node)

		_, err = tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/readonly",
			NodeAccess: acl.PermWrite,
		})
		testutil.RequireEqualStatus(t, status.Error(codes.PermissionDenied, "Access to \"/readonly\" with permission write is denied"), err)
		require.False(t, tree.IsLockDown(err))
	})

	t.Run("LockDown", func(t *testing.T) {
		ll := tr.NewReadWriteLockList(session, tree.ReadWriteOptions{})
		_, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/frozen",
			NodeAccess: acl.PermRead,
		})
		require.Equal(t, codes.PermissionDenied, status.Code(err))
		require.True(t, tree.IsLockDown(err))
		ll.Release()

		lockDown.SetIgnoreAllPaths(true)
		defer lockDown.SetIgnoreAllPaths(false)
		ll = tr.NewReadWriteLockList(session, tree.ReadWriteOptions{})
		_, err = tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/frozen",
			NodeAccess: acl.PermRead,
		})
		require.NoError(t, err)
		ll.Release()
	})

	t.Run("ReadOnly", func(t *testing.T) {
		ll := tr.NewReadOnlyLockList(session)
		result, err := tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/readonly",
			NodeAccess: acl.PermRead,
		})
		require.NoError(t, err)

		testutil.RequireEqualStatus(t, status.Error(codes.Unimplemented, "Read-only transactions cannot modify the tree"), ll.AppendSetData(result.Node, nil))
		_, err = tr.GetNode(ctx, ll, tree.NodeLookup{
			Path:       "/frozen",
			NodeAccess: acl.PermWrite,
		})
		testutil.RequireEqualStatus(t, status.Error(codes.Unimplemented, "Read-only transactions cannot modify the tree"), err)
		task, err := ll.Complete(ctx)
		require.NoError(t, err)
		require.Nil(t, task)
		ll.Release()
	})
}

func TestLockListConcurrency(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	factory := persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl))
	tr, err := tree.NewTree(factory, newTestConfiguration(t, 50*time.Millisecond))
	require.NoError(t, err)
	createNode(ctx, t, tr, "/a", "")
	createNode(ctx, t, tr, "/b", "")

	t.Run("Timeout", func(t *testing.T) {
		ll1 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll1, "/a")

		ll2 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		_, err := tr.GetNode(ctx, ll2, tree.NodeLookup{
			Path:       "/a",
			NodeAccess: acl.PermWrite,
		})
		require.Equal(t, codes.Unavailable, status.Code(err))
		require.True(t, tree.IsRetriable(err))
		ll2.Release()

		ll1.Release()
		ll3 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll3, "/a")
		ll3.Release()
	})

	t.Run("DisjointSubtrees", func(t *testing.T) {
		ll1 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll1, "/a")
		ll2 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll2, "/b")
		ll2.Release()
		ll1.Release()
	})

	t.Run("LockFreeSession", func(t *testing.T) {
		ll1 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll1, "/a")

		ll2 := tr.NewReadWriteLockList(&acl.Authentication{IsLockFreeSession: true}, tree.ReadWriteOptions{})
		result, err := tr.GetNode(ctx, ll2, tree.NodeLookup{
			Path:       "/a",
			NodeAccess: acl.PermRead,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Node)
		ll2.Release()
		ll1.Release()
	})

	t.Run("LockFreeSessionWrites", func(t *testing.T) {
		// Lock-free sessions are serialized by their caller.
		// They must not wait for locks held by others, not even
		// when modifying the tree.
		createNode(ctx, t, tr, "/b/c", "")
		ll1 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		getNodeForWriting(ctx, t, tr, ll1, "/a")
		getNodeForWriting(ctx, t, tr, ll1, "/b/c")

		lockFreeSession := &acl.Authentication{IsSuperSession: true, IsLockFreeSession: true}
		ll2 := tr.NewReadWriteLockList(lockFreeSession, tree.ReadWriteOptions{})
		a := getNodeForWriting(ctx, t, tr, ll2, "/a")
		require.NoError(t, ll2.AppendSetData(a, []byte("Hello")))
		result, err := tr.GetNode(ctx, ll2, tree.NodeLookup{
			Path:         "/b/c",
			ParentAccess: acl.PermDelete,
			RemovesNode:  true,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Node)
		require.NoError(t, ll2.AppendRemove(result.Parent, result.Node))
		_, err = ll2.Complete(ctx)
		require.NoError(t, err)
		ll2.Release()
		ll1.Release()

		require.Equal(t, []byte("Hello"), a.Contents().Data)
		ll3 := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
		result, err = tr.GetNode(ctx, ll3, tree.NodeLookup{
			Path:       "/b/c",
			NodeAccess: acl.PermRead,
		})
		require.NoError(t, err)
		require.Nil(t, result.Node)
		ll3.Release()
	})
}

func TestLockListNoDeadlocks(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	// Transactions lock pairs of nodes in arbitrary order. As
	// locks are always acquired in the same global order, none of
	// the transactions should time out.
	tr, err := tree.NewTree(persistence.NewInMemoryFactory(nil, 0, mock.NewMockErrorLogger(ctrl)), newTestConfiguration(t, 10*time.Second))
	require.NoError(t, err)
	const nodeCount = 8
	var nodes [nodeCount]*tree.Node
	var writes [nodeCount]atomic.Int32
	createNode(ctx, t, tr, "/dir0", "")
	createNode(ctx, t, tr, "/dir1", "")
	for i := range nodes {
		nodes[i] = createNode(ctx, t, tr, fmt.Sprintf("/dir%d/node%d", i%2, i), "")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for worker := 0; worker < 8; worker++ {
		group.Go(func() error {
			for iteration := 0; iteration < 100; iteration++ {
				i, j := rand.IntN(nodeCount), rand.IntN(nodeCount)
				if i == j {
					continue
				}
				ll := tr.NewReadWriteLockList(superSession, tree.ReadWriteOptions{})
				var found []*tree.Node
				for _, k := range []int{i, j} {
					result, err := tr.GetNode(groupCtx, ll, tree.NodeLookup{
						Path:       nodes[k].Path(),
						NodeAccess: acl.PermWrite,
					})
					if err != nil {
						ll.Release()
						return err
					}
					found = append(found, result.Node)
				}
				for _, n := range found {
					if err := ll.AppendSetData(n, []byte(fmt.Sprintf("%d", worker))); err != nil {
						ll.Release()
						return err
					}
				}
				writes[i].Add(1)
				writes[j].Add(1)
				_, err := ll.Complete(groupCtx)
				ll.Release()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	for i, n := range nodes {
		require.Equal(t, writes[i].Load(), n.Contents().Stat.Version)
	}
}
