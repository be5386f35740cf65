package evictor

import (
	"github.com/ValentinKolb/btcache/lib/cleaner"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ansel1/merry"
)

// --------------------------------------------------------------------------
// Victim dispatch
// --------------------------------------------------------------------------

// evict evicts or strips victim and returns the number of bytes freed. No
// latch of the evictor owner is held when it returns. Obsolete log space
// found on the way is flushed to the utilization profile of the tenant
// after all latches are released.
func (e *Evictor) evict(victim *tree.Node, t *Tenant, backgroundIO bool) (int64, error) {
	// a root BIN holding leaves is stripped like any other BIN first
	if victim.IsDbRoot() && victim.EvictionType() != tree.MayEvictLNs {
		return e.evictRoot(victim, t, backgroundIO)
	}

	tracker := cleaner.NewLocalTracker()
	freed, err := e.evictNonRoot(victim, t, backgroundIO, tracker)
	if !tracker.IsEmpty() && t.Utilization != nil {
		if flushErr := t.Utilization.FlushLocalTracker(tracker); flushErr != nil && err == nil {
			err = flushErr
		}
	}
	return freed, err
}

func (e *Evictor) evictNonRoot(victim *tree.Node, t *Tenant, backgroundIO bool, tracker *cleaner.LocalTracker) (int64, error) {
	g := newLatchGuard(e.owner)
	defer g.releaseAll()

	// a busy node was used recently and is a poor victim anyway
	if !g.tryAcquire(victim.Latch()) {
		return 0, nil
	}
	db := victim.Database()
	if !victim.IsResident() || db.IsDeleted() {
		return 0, nil
	}
	generation := victim.Generation()

	if victim.Kind() == tree.KindBIN {
		if compressed := db.Tree().Compress(e.owner, victim, tracker); compressed > 0 {
			t.Budget.UpdateTreeUsage(-compressed)
		}

		stripped, err := victim.EvictLeaves(func(key []byte, leaf *tree.Leaf) (tree.LSN, error) {
			return e.logLeaf(t, db, key, leaf, backgroundIO)
		})
		if stripped > 0 {
			t.Budget.UpdateTreeUsage(-stripped)
			e.stats.binsStripped.Inc()
		}
		if err != nil || stripped > 0 {
			return stripped, err
		}
	}

	if !victim.IsEvictable() {
		return 0, nil
	}

	// the parent is latched top down, so the victim must be released first
	if err := g.release(victim.Latch()); err != nil {
		return 0, err
	}
	parent, index, found, err := db.Tree().FindParent(e.owner, victim, true)
	if err != nil || !found {
		return 0, err
	}
	g.adopt(parent.Latch())

	return e.evictIN(g, victim, generation, parent, index, t, backgroundIO)
}

// --------------------------------------------------------------------------
// Parent detach
// --------------------------------------------------------------------------

// evictIN detaches child from the latched parent. The child is latched
// without blocking and re-validated first: it must still be referenced by
// the parent and must not have been used since oldGeneration was read.
func (e *Evictor) evictIN(g *latchGuard, child *tree.Node, oldGeneration uint64, parent *tree.Node, index int, t *Tenant, backgroundIO bool) (int64, error) {
	renewed := parent.Target(index)
	if renewed == nil || renewed != child || renewed.Generation() > oldGeneration {
		return 0, nil
	}
	if !g.tryAcquire(renewed.Latch()) {
		return 0, nil
	}
	if !renewed.IsEvictable() {
		return 0, nil
	}

	// a dirty child of a read-only environment has no log write to fall
	// back on, only a clean child may reuse the LSN in the parent slot
	lsn := tree.NullLSN
	logged := false
	if renewed.IsDirty() {
		if t.ReadOnly {
			return 0, nil
		}
		var err error
		lsn, err = e.logNode(t, renewed, tree.LogOptions{
			AllowDeltas:           false,
			Provisional:           isProvisionalRequired(renewed, t),
			AllowCleanerMigration: true,
			BackgroundIO:          backgroundIO,
			Parent:                parent,
		})
		if err != nil {
			return 0, err
		}
		logged = true
	} else {
		lsn = parent.LSN(index)
	}
	if lsn == tree.NullLSN {
		return 0, nil
	}

	// delete post-processing may have dropped the child already
	bytes := renewed.InMemorySize()
	if !t.Registry.Remove(renewed) {
		return 0, nil
	}
	t.Budget.UpdateTreeUsage(-bytes)
	if logged {
		parent.UpdateEntry(index, nil, lsn)
	} else {
		parent.DetachChild(index)
	}
	e.stats.nodesEvicted.Inc()
	return bytes, nil
}

// --------------------------------------------------------------------------
// Root eviction
// --------------------------------------------------------------------------

// evictRoot evicts the root of a tree under the root latch. A dirty root is
// logged first, a read-only environment keeps dirty roots resident.
func (e *Evictor) evictRoot(victim *tree.Node, t *Tenant, backgroundIO bool) (int64, error) {
	db := victim.Database()
	var freed int64
	flushed := false

	err := db.Tree().WithRootLatchedExclusive(e.owner, func(root *tree.RootRef) error {
		g := newLatchGuard(e.owner)
		defer g.releaseAll()

		rootNode := root.Target()
		if rootNode == nil {
			return nil
		}
		g.acquire(rootNode.Latch())
		if rootNode != victim || !rootNode.IsDbRoot() || !rootNode.IsEvictable() || db.IsDeleted() {
			return nil
		}

		if rootNode.IsDirty() {
			if t.ReadOnly {
				return nil
			}
			lsn, err := e.logNode(t, rootNode, tree.LogOptions{
				AllowDeltas:           false,
				Provisional:           isProvisionalRequired(rootNode, t),
				AllowCleanerMigration: true,
				BackgroundIO:          backgroundIO,
			})
			if err != nil {
				return err
			}
			root.SetLSN(lsn)
			flushed = true
		} else if root.LSN() == tree.NullLSN {
			return nil
		}

		root.ClearTarget()
		if !t.Registry.Remove(rootNode) {
			return nil
		}
		freed = rootNode.InMemorySize()
		t.Budget.UpdateTreeUsage(-freed)
		e.stats.rootNodesEvicted.Inc()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if flushed && t.MapTree != nil {
		if err := t.MapTree.ModifyDbRoot(db); err != nil {
			return freed, merry.Wrap(err).WithValue("database", db.Name())
		}
	}
	return freed, nil
}

// --------------------------------------------------------------------------
// Log writes
// --------------------------------------------------------------------------

// isProvisionalRequired reports whether n must be logged provisionally: its
// database defers writes, or a running checkpoint already flushed a level
// above n and will log the parent itself.
func isProvisionalRequired(n *tree.Node, t *Tenant) bool {
	db := n.Database()
	if db.IsDeferredWrite() {
		return true
	}
	if t.Checkpointer != nil && n.Level() < t.Checkpointer.HighestFlushLevel(db) {
		return true
	}
	return false
}

func (e *Evictor) logNode(t *Tenant, n *tree.Node, opts tree.LogOptions) (tree.LSN, error) {
	var lsn tree.LSN
	err := e.retry(func() (err error) {
		lsn, err = t.Log.LogNode(n, opts)
		return err
	})
	return lsn, err
}

func (e *Evictor) logLeaf(t *Tenant, db *tree.Database, key []byte, leaf *tree.Leaf, backgroundIO bool) (tree.LSN, error) {
	var lsn tree.LSN
	err := e.retry(func() (err error) {
		lsn, err = t.Log.LogLeaf(db, key, leaf, backgroundIO)
		return err
	})
	return lsn, err
}

// retry runs write until it succeeds or fails with an error other than
// tree.ErrLogBusy, at most DeadlockRetry extra times
func (e *Evictor) retry(write func() error) error {
	var err error
	for attempt := 0; attempt <= e.config.DeadlockRetry; attempt++ {
		if err = write(); err == nil || !merry.Is(err, tree.ErrLogBusy) {
			return err
		}
		Logger.Debugf("log busy, retrying write (attempt %d)", attempt+1)
	}
	return err
}
