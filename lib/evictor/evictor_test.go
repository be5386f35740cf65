package evictor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ValentinKolb/btcache/lib/wal"
	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Latch discipline
// --------------------------------------------------------------------------

func TestNoLatchLeakOnSuccess(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	bin := root.Target(0)

	freed, err := f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Zero(t, f.ev.owner.Held())

	freed, err = f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Zero(t, f.ev.owner.Held())
	assert.False(t, bin.Latch().IsHeld())
	assert.False(t, root.Latch().IsHeld())
}

func TestNoLatchLeakOnStaleVictim(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	bin := root.Target(0)

	// busy victim
	other := latch.NewOwner()
	bin.Latch().Acquire(other)
	freed, err := f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.Zero(t, f.ev.owner.Held())
	require.NoError(t, bin.Latch().Release(other))

	// victim touched between selection and detach
	f.stripAll(root)
	root.Latch().Acquire(other)
	done := make(chan int64)
	go func() {
		freed, _ := f.ev.evict(bin, f.tenant, false)
		done <- freed
	}()
	// wait until the victim was released and the descent blocks on the root
	require.Eventually(t, func() bool {
		return f.ev.owner.Held() == 1 && !bin.Latch().IsHeld()
	}, 5*time.Second, time.Millisecond)
	bin.Touch()
	require.NoError(t, root.Latch().Release(other))

	assert.Zero(t, <-done)
	assert.Zero(t, f.ev.owner.Held())
	assert.Same(t, bin, root.Target(0))
	assert.False(t, root.Latch().IsHeld())
}

func TestNoLatchLeakOnLogError(t *testing.T) {
	f := newFixture(t, 64<<20, nil)

	// leaf write fails while stripping a deferred-write BIN
	_, dwRoot := f.twoBINs(tree.DatabaseConfig{DeferredWrite: true})
	f.log.FailNext(nil)
	_, err := f.ev.evict(dwRoot.Target(0), f.tenant, false)
	require.Error(t, err)
	assert.True(t, merry.Is(err, wal.ErrInjected))
	assert.Zero(t, f.ev.owner.Held())

	// node write fails after the parent was latched
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	bin := root.Target(1)
	f.log.FailNext(nil)
	freed, err := f.ev.evict(bin, f.tenant, false)
	require.Error(t, err)
	assert.True(t, merry.Is(err, wal.ErrInjected))
	assert.Zero(t, freed)
	assert.Zero(t, f.ev.owner.Held())
	assert.False(t, root.Latch().IsHeld())
	assert.False(t, bin.Latch().IsHeld())
	assert.Same(t, bin, root.Target(1))
	assert.True(t, f.reg.Contains(bin))
}

func TestLatchGuardReleasesChildFirst(t *testing.T) {
	owner := latch.NewOwner()
	parent, child := latch.New("parent"), latch.New("child")

	g := newLatchGuard(owner)
	g.acquire(parent)
	require.True(t, g.tryAcquire(child))
	assert.True(t, g.holds(child))
	assert.Equal(t, 2, owner.Held())

	g.releaseAll()
	assert.Zero(t, owner.Held())
	assert.False(t, parent.IsHeld())
	assert.False(t, child.IsHeld())

	// early release is not repeated
	g.acquire(child)
	require.NoError(t, g.release(child))
	g.releaseAll()
	assert.Zero(t, owner.Held())
}

// --------------------------------------------------------------------------
// Driver
// --------------------------------------------------------------------------

func TestAtMostOneActivePass(t *testing.T) {
	f := newFixture(t, 64<<20, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f.ev.SetRunnableHook(func() bool {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return false
	})

	first := make(chan error)
	go func() { first <- f.ev.RunEviction(SourceManual, false, false) }()
	<-entered
	assert.True(t, f.ev.IsActive())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.ev.RunEviction(SourceManual, false, false))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.NoError(t, <-first)
	assert.False(t, f.ev.IsActive())
}

func TestActiveFlagClearedAfterError(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DatabaseConfig{DeferredWrite: true})
	require.NotNil(t, root)
	f.ev.SetRunnableHook(func() bool { return true })

	f.log.FailNext(nil)
	err := f.ev.RunEviction(SourceManual, false, false)
	require.Error(t, err)
	assert.False(t, f.ev.IsActive())
	assert.Zero(t, f.ev.owner.Held())

	require.NoError(t, f.ev.RunEviction(SourceManual, false, false))
}

func TestBudgetConvergence(t *testing.T) {
	f := newFixture(t, 256*1024, nil)
	db := f.newDB(tree.DatabaseConfig{MaxEntries: 16})
	f.fill(db, 2000, 100)

	before := f.budget.CacheUsage()
	runnable, required := f.budget.IsRunnable()
	require.True(t, runnable)

	require.NoError(t, f.ev.RunEviction(SourceManual, false, false))

	after := f.budget.CacheUsage()
	assert.Less(t, after, before)
	assert.GreaterOrEqual(t, before-after, required)
	assert.LessOrEqual(t, after, f.budget.MaxMemory())
	assert.Equal(t, f.residentTotal(), f.budget.TreeUsage())
	assert.Zero(t, f.ev.owner.Held())

	st := f.ev.LoadStatistics(false)
	assert.Equal(t, required, st.RequiredBytesLastPass)
	assert.LessOrEqual(t, st.Passes, int64(f.ev.Config().MaxBatches))
	assert.Positive(t, st.BINsStripped)
	assert.Equal(t, int64(1), st.Runs)

	// every key is still readable
	for i := 0; i < 2000; i += 97 {
		_, ok, err := db.Tree().Get(f.writer, testKey(i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestNoProgressTerminatesAfterOneBatch(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	for i := 0; i < root.NEntries(); i++ {
		root.Target(i).AddCursor()
	}
	f.ev.SetRunnableHook(func() bool { return true })

	require.NoError(t, f.ev.RunEviction(SourceManual, false, false))

	st := f.ev.LoadStatistics(true)
	assert.Equal(t, int64(1), st.Passes)
	assert.Zero(t, st.NodesEvicted)
	assert.Zero(t, st.NodesSelected)
	assert.Equal(t, int64(3), st.NodesScanned)
	assert.Equal(t, 3, f.reg.Size())

	assert.Zero(t, f.ev.LoadStatistics(false).Passes)
}

func TestShutdownStopsNonCriticalPasses(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.ev.SetRunnableHook(func() bool { return true })

	f.ev.shutdown.Store(true)
	require.NoError(t, f.ev.RunEviction(SourceDaemon, false, true))
	assert.Zero(t, f.ev.LoadStatistics(false).Passes)

	require.NoError(t, f.ev.RunEviction(SourceCritical, true, true))
	assert.Positive(t, f.ev.LoadStatistics(false).Passes)
	assert.Nil(t, root.Target(0))
}

func TestCriticalEviction(t *testing.T) {
	f := newFixture(t, 256*1024, func(c *Config) { c.ForcedYield = true })
	db := f.newDB(tree.DatabaseConfig{MaxEntries: 16})

	// below the maximum nothing happens
	f.fill(db, 100, 100)
	require.NoError(t, f.ev.DoCriticalEviction(true))
	assert.Zero(t, f.ev.LoadStatistics(false).Passes)

	f.fill(db, 2000, 100)
	require.Positive(t, f.budget.Overage())
	require.NoError(t, f.ev.DoCriticalEviction(true))
	assert.Positive(t, f.ev.LoadStatistics(false).Passes)
	assert.LessOrEqual(t, f.budget.CacheUsage(), f.budget.MaxMemory())
}

// --------------------------------------------------------------------------
// Executor
// --------------------------------------------------------------------------

func TestStripBeforeEvict(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	bin := root.Target(0)
	usage := f.budget.TreeUsage()

	freed, err := f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Same(t, bin, root.Target(0), "stripped node stays attached")
	assert.True(t, f.reg.Contains(bin))
	assert.Equal(t, usage-freed, f.budget.TreeUsage())
	assert.Equal(t, tree.MayEvictNode, bin.EvictionType())

	size := bin.InMemorySize()
	freed, err = f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Equal(t, size, freed)
	assert.Nil(t, root.Target(0))
	assert.False(t, f.reg.Contains(bin))
	assert.False(t, bin.IsResident())

	st := f.ev.LoadStatistics(false)
	assert.Equal(t, int64(1), st.BINsStripped)
	assert.Equal(t, int64(1), st.NodesEvicted)
}

func TestDirtyFlushLogsOnce(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	bin := root.Target(1)
	require.True(t, bin.IsDirty())
	f.log.ResetNodeWrites()

	_, err := f.ev.evict(bin, f.tenant, true)
	require.NoError(t, err)

	writes := f.log.NodeWrites()
	require.Len(t, writes, 1)
	w := writes[0]
	assert.Equal(t, bin.ID(), w.NodeID)
	assert.False(t, w.Options.AllowDeltas)
	assert.True(t, w.Options.AllowCleanerMigration)
	assert.True(t, w.Options.BackgroundIO)
	assert.False(t, w.Options.Provisional)
	assert.Same(t, root, w.Options.Parent)
	assert.Equal(t, w.LSN, root.LSN(1))
	assert.True(t, root.IsDirty())
}

func TestCleanNodeReusesParentLSN(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db, root := f.twoBINs(tree.DefaultDatabaseConfig())
	_, err := db.Tree().Sync(f.writer)
	require.NoError(t, err)
	f.stripAll(root)

	bin := root.Target(0)
	lsn := root.LSN(0)
	require.False(t, bin.IsDirty())
	require.False(t, root.IsDirty())
	f.log.ResetNodeWrites()

	freed, err := f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Empty(t, f.log.NodeWrites())
	assert.Equal(t, lsn, root.LSN(0))
	assert.False(t, root.IsDirty(), "detaching a clean child keeps the parent clean")
}

func TestProvisionalLogging(t *testing.T) {
	f := newFixture(t, 64<<20, nil)

	db, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	f.checkpoint.Begin(db, root.Level())
	f.log.ResetNodeWrites()
	_, err := f.ev.evict(root.Target(0), f.tenant, false)
	require.NoError(t, err)
	f.checkpoint.End(db)

	_, dwRoot := f.twoBINs(tree.DatabaseConfig{DeferredWrite: true})
	f.stripAll(dwRoot)
	_, err = f.ev.evict(dwRoot.Target(0), f.tenant, false)
	require.NoError(t, err)

	writes := f.log.NodeWrites()
	require.Len(t, writes, 2)
	assert.True(t, writes[0].Options.Provisional, "checkpoint flushed past the node")
	assert.True(t, writes[1].Options.Provisional, "deferred-write database")
}

func TestRootEviction(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db := f.newDB(tree.DefaultDatabaseConfig())
	f.fill(db, 3, 16)
	root := db.Tree().ResidentRoot()
	require.Equal(t, tree.KindBIN, root.Kind())

	freed, err := f.ev.evict(root, f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	require.NotNil(t, db.Tree().ResidentRoot(), "leaves are stripped first")

	freed, err = f.ev.evict(root, f.tenant, false)
	require.NoError(t, err)
	assert.Equal(t, tree.NodeOverhead+3*(tree.SlotOverhead+int64(len(testKey(0)))), freed)
	assert.Nil(t, db.Tree().ResidentRoot())
	assert.False(t, f.reg.Contains(root))
	assert.Zero(t, f.ev.owner.Held())

	mapped, ok := f.log.RootOf(db.ID())
	require.True(t, ok)
	assert.Equal(t, db.Tree().RootLSN(), mapped)
	assert.Equal(t, int64(1), f.ev.LoadStatistics(false).RootNodesEvicted)

	v, ok, err := db.Tree().Get(f.writer, testKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v, 16)
}

func TestReadOnlyDirtyRootStaysResident(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db := f.newDB(tree.DatabaseConfig{MaxEntries: 4})
	f.fill(db, 40, 16)
	_, err := db.Tree().Sync(f.writer)
	require.NoError(t, err)

	f.tenant.ReadOnly = true
	dirtied := db.Tree().DirtyResident(f.writer)
	require.Positive(t, dirtied)
	f.log.ResetNodeWrites()
	f.ev.SetRunnableHook(func() bool { return true })

	require.NoError(t, f.ev.RunEviction(SourceManual, false, false))

	root := db.Tree().ResidentRoot()
	require.NotNil(t, root)
	assert.True(t, root.IsDirty())
	assert.True(t, f.reg.Contains(root))
	assert.Empty(t, f.log.NodeWrites())
	// no dirty node is detached, only leaves are stripped
	assert.Equal(t, dirtied, f.reg.Size())
	assert.Zero(t, f.ev.LoadStatistics(false).NodesEvicted)
	assert.Zero(t, f.ev.owner.Held())
}

func TestReadOnlyDirtyBINStaysResident(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	_, err := db.Tree().Sync(f.writer)
	require.NoError(t, err)

	bin := root.Target(0)
	require.NotEqual(t, tree.NullLSN, root.LSN(0))
	bin.SetDirty(true)
	f.tenant.ReadOnly = true
	f.log.ResetNodeWrites()

	freed, err := f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.Same(t, bin, root.Target(0))
	assert.True(t, f.reg.Contains(bin))
	assert.True(t, bin.IsDirty())
	assert.Empty(t, f.log.NodeWrites())
	assert.Zero(t, f.ev.LoadStatistics(false).NodesEvicted)
	assert.Zero(t, f.ev.owner.Held())

	// the clean sibling is still evicted
	freed, err = f.ev.evict(root.Target(1), f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Nil(t, root.Target(1))
}

func TestRootOfDeletedDatabaseIsNotEvicted(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db := f.newDB(tree.DefaultDatabaseConfig())
	f.fill(db, 3, 16)
	root := db.Tree().ResidentRoot()
	require.Equal(t, tree.KindBIN, root.Kind())

	// strip the leaves, the next attempt would evict the root itself
	freed, err := f.ev.evict(root, f.tenant, false)
	require.NoError(t, err)
	require.Positive(t, freed)
	require.True(t, root.IsDirty())

	db.MarkDeleted()
	f.log.ResetNodeWrites()
	_, mappedBefore := f.log.RootOf(db.ID())

	freed, err = f.ev.evict(root, f.tenant, false)
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.Same(t, root, db.Tree().ResidentRoot())
	assert.True(t, f.reg.Contains(root))
	assert.Empty(t, f.log.NodeWrites())
	_, mappedAfter := f.log.RootOf(db.ID())
	assert.Equal(t, mappedBefore, mappedAfter)
	assert.Zero(t, f.ev.LoadStatistics(false).RootNodesEvicted)
	assert.Zero(t, f.ev.owner.Held())
}

func TestEvictINSkipsNodeDroppedFromRegistry(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	_, err := db.Tree().Sync(f.writer)
	require.NoError(t, err)

	bin := root.Target(0)
	usage := f.budget.TreeUsage()

	// delete post-processing drops the node while the parent is latched
	g := newLatchGuard(f.ev.owner)
	g.acquire(root.Latch())
	require.True(t, f.reg.Remove(bin))
	freed, err := f.ev.evictIN(g, bin, bin.Generation(), root, 0, f.tenant, false)
	g.releaseAll()

	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.Equal(t, usage, f.budget.TreeUsage())
	assert.Zero(t, f.ev.LoadStatistics(false).NodesEvicted)
	assert.Zero(t, f.ev.owner.Held())
}

func TestBusyLogIsRetried(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	_, root := f.twoBINs(tree.DefaultDatabaseConfig())
	f.stripAll(root)
	f.log.ResetNodeWrites()

	f.log.FailNext(tree.ErrLogBusy)
	freed, err := f.ev.evict(root.Target(0), f.tenant, false)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Len(t, f.log.NodeWrites(), 1)
}

func TestCompressCountsObsoleteSpace(t *testing.T) {
	f := newFixture(t, 64<<20, nil)
	db, root := f.twoBINs(tree.DefaultDatabaseConfig())
	_, err := db.Tree().Delete(f.writer, testKey(0))
	require.NoError(t, err)

	bin := root.Target(0)
	entries := bin.NEntries()
	_, err = f.ev.evict(bin, f.tenant, false)
	require.NoError(t, err)
	assert.Equal(t, entries-1, bin.NEntries())

	var obsolete int64
	for _, s := range f.profile.Summaries() {
		obsolete += s.ObsoleteEntries
	}
	assert.Equal(t, int64(1), obsolete)
	assert.Equal(t, f.residentTotal(), f.budget.TreeUsage())
}

// --------------------------------------------------------------------------
// Daemon
// --------------------------------------------------------------------------

func TestDaemonEvictsOnAlert(t *testing.T) {
	f := newFixture(t, 256*1024, func(c *Config) { c.WakeupInterval = time.Hour })
	f.ev.Start()
	f.ev.Start()
	defer f.ev.Stop()

	db := f.newDB(tree.DatabaseConfig{MaxEntries: 16})
	f.fill(db, 2000, 100)
	require.Positive(t, f.budget.Overage())

	assert.True(t, f.ev.AlertIfNeeded())
	require.Eventually(t, func() bool {
		return !f.ev.IsActive() && f.budget.Overage() <= 0
	}, 5*time.Second, 10*time.Millisecond)

	f.ev.Stop()
	assert.False(t, f.ev.AlertIfNeeded())
}
