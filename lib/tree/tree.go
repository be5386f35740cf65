package tree

import (
	"bytes"
	"sync/atomic"

	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ansel1/merry"
)

// ErrDanglingSlot is returned when a slot has neither a resident target nor
// a log address.
var ErrDanglingSlot = merry.New("slot has no target and no lsn")

// Tree is the B-tree of one database.
type Tree struct {
	db        *Database
	log       Log
	listener  Listener
	rootLatch *latch.Latch

	// written under the root latch
	root    atomic.Pointer[Node]
	rootLSN atomic.Uint64
}

func newTree(db *Database, log Log) *Tree {
	t := &Tree{
		db:        db,
		log:       log,
		listener:  nopListener{},
		rootLatch: latch.New("root-" + db.name),
	}
	t.rootLSN.Store(uint64(NullLSN))
	return t
}

// SetListener registers the listener for write path changes. It must be
// called before the tree is used.
func (t *Tree) SetListener(l Listener) {
	if l == nil {
		l = nopListener{}
	}
	t.listener = l
}

// Database returns the database of the tree
func (t *Tree) Database() *Database { return t.db }

// ResidentRoot returns the resident root node or nil
func (t *Tree) ResidentRoot() *Node { return t.root.Load() }

// RootLSN returns the log address of the root
func (t *Tree) RootLSN() LSN { return LSN(t.rootLSN.Load()) }

// --------------------------------------------------------------------------
// Root access
// --------------------------------------------------------------------------

// RootRef gives a WithRootLatchedExclusive callback access to the root
// reference. It must not be used after the callback returns.
type RootRef struct {
	t *Tree
}

// Target returns the resident root node, or nil if the root is not resident
func (r *RootRef) Target() *Node { return r.t.root.Load() }

// LSN returns the log address of the root
func (r *RootRef) LSN() LSN { return r.t.RootLSN() }

// SetLSN records a new log address for the root
func (r *RootRef) SetLSN(lsn LSN) { r.t.rootLSN.Store(uint64(lsn)) }

// ClearTarget drops the in-memory reference to the root
func (r *RootRef) ClearTarget() { r.t.root.Store(nil) }

// WithRootLatchedExclusive runs fn while owner holds the root latch
// exclusively. The latch is released when fn returns or panics.
func (t *Tree) WithRootLatchedExclusive(owner *latch.Owner, fn func(root *RootRef) error) error {
	t.rootLatch.Acquire(owner)
	defer t.rootLatch.ReleaseIfOwner(owner)
	return fn(&RootRef{t: t})
}

// --------------------------------------------------------------------------
// Evictor hooks
// --------------------------------------------------------------------------

// FindParent searches the parent of child. No latch on child may be held by
// owner. On success the parent is returned latched by owner together with
// the index of the slot referencing child. If requireExactMatch is set and
// the slot at child's position does not reference child, nothing is latched
// and found is false. Without an exact match the parent of the position is
// returned latched.
func (t *Tree) FindParent(owner *latch.Owner, child *Node, requireExactMatch bool) (parent *Node, index int, found bool, err error) {
	if child.IsDbRoot() {
		return nil, -1, false, nil
	}

	key := child.IdentifierKey()
	childLevel := child.Level() & LevelMask

	t.rootLatch.Acquire(owner)
	node := t.root.Load()
	if node == nil || node == child {
		_ = t.rootLatch.Release(owner)
		return nil, -1, false, nil
	}
	node.latch.Acquire(owner)
	_ = t.rootLatch.Release(owner)

	for {
		level := node.Level() & LevelMask
		if node.kind != KindIN || level <= childLevel {
			_ = node.latch.Release(owner)
			return nil, -1, false, nil
		}

		idx, _ := node.findSlot(key)
		target := node.slots[idx].child

		if level == childLevel+1 {
			if target == child {
				return node, idx, true, nil
			}
			if requireExactMatch {
				_ = node.latch.Release(owner)
				return nil, -1, false, nil
			}
			return node, idx, false, nil
		}

		// a non-resident node on the path cannot have child below it
		if target == nil {
			_ = node.latch.Release(owner)
			return nil, -1, false, nil
		}
		target.latch.Acquire(owner)
		_ = node.latch.Release(owner)
		node = target
	}
}

// Compress removes known-deleted slots from a BIN latched by owner without
// fetching anything. The log space of removed slots is counted in tracker.
// Returns the number of bytes removed from the node.
func (t *Tree) Compress(owner *latch.Owner, bin *Node, tracker ObsoleteCounter) int64 {
	if bin.kind != KindBIN || !bin.latch.IsOwner(owner) || bin.Cursors() > 0 {
		return 0
	}

	var freed int64
	for i := len(bin.slots) - 1; i >= 0; i-- {
		s := &bin.slots[i]
		if !s.knownDeleted && (s.leaf == nil || !s.leaf.deleted) {
			continue
		}
		if s.lsn != NullLSN && tracker != nil {
			tracker.CountObsolete(s.lsn, s.size())
		}
		freed -= bin.removeSlot(i)
	}
	if freed > 0 {
		bin.SetDirty(true)
	}
	return freed
}

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

// Insert stores value under key, splitting full nodes on the way down.
func (t *Tree) Insert(owner *latch.Owner, key, value []byte) error {
	bin, err := t.descend(owner, key, true)
	if err != nil {
		return err
	}
	defer bin.latch.ReleaseIfOwner(owner)

	data := append([]byte(nil), value...)
	leaf := NewLeaf(data, t.db.IsDeferredWrite())
	lsn := NullLSN
	if !t.db.IsDeferredWrite() {
		if lsn, err = t.log.LogLeaf(t.db, key, leaf, false); err != nil {
			return err
		}
	}

	var delta int64
	idx, exact := bin.findSlot(key)
	if exact {
		delta = bin.setLeaf(idx, leaf)
		bin.size.Add(delta)
		bin.slots[idx].knownDeleted = false
		if lsn != NullLSN {
			bin.slots[idx].lsn = lsn
		}
	} else {
		delta = bin.insertSlot(idx, slot{key: append([]byte(nil), key...), leaf: leaf, lsn: lsn})
	}
	bin.SetDirty(true)
	t.listener.SizeChanged(t.db, delta)
	return nil
}

// Get returns the value stored under key, faulting in evicted nodes and
// leaves.
func (t *Tree) Get(owner *latch.Owner, key []byte) ([]byte, bool, error) {
	bin, err := t.descend(owner, key, false)
	if err != nil || bin == nil {
		return nil, false, err
	}
	defer bin.latch.ReleaseIfOwner(owner)

	idx, exact := bin.findSlot(key)
	if !exact || bin.slots[idx].knownDeleted {
		return nil, false, nil
	}
	s := &bin.slots[idx]
	if s.leaf == nil {
		if s.lsn == NullLSN {
			return nil, false, merry.Wrap(ErrDanglingSlot).WithValue("node", bin.id)
		}
		data, err := t.log.FetchLeaf(s.lsn)
		if err != nil {
			return nil, false, err
		}
		delta := bin.setLeaf(idx, NewLeaf(data, false))
		bin.size.Add(delta)
		t.listener.SizeChanged(t.db, delta)
	}
	if s.leaf.deleted {
		return nil, false, nil
	}
	return append([]byte(nil), s.leaf.data...), true, nil
}

// Delete marks key as known-deleted and drops its resident leaf. The slot
// itself is removed later by compression.
func (t *Tree) Delete(owner *latch.Owner, key []byte) (bool, error) {
	bin, err := t.descend(owner, key, false)
	if err != nil || bin == nil {
		return false, err
	}
	defer bin.latch.ReleaseIfOwner(owner)

	idx, exact := bin.findSlot(key)
	if !exact || bin.slots[idx].knownDeleted {
		return false, nil
	}

	if !t.db.IsDeferredWrite() {
		lsn, err := t.log.LogLeaf(t.db, key, &Leaf{deleted: true}, false)
		if err != nil {
			return false, err
		}
		bin.slots[idx].lsn = lsn
	}
	delta := bin.setLeaf(idx, nil)
	bin.size.Add(delta)
	bin.slots[idx].knownDeleted = true
	bin.SetDirty(true)
	t.listener.SizeChanged(t.db, delta)
	return true, nil
}

// Sync logs every dirty resident node bottom-up and records the new root
// LSN. Nodes below the root are logged provisionally. Returns the number of
// nodes logged.
func (t *Tree) Sync(owner *latch.Owner) (int, error) {
	t.rootLatch.Acquire(owner)
	defer t.rootLatch.ReleaseIfOwner(owner)

	root := t.root.Load()
	if root == nil {
		return 0, nil
	}
	root.latch.Acquire(owner)
	defer root.latch.ReleaseIfOwner(owner)

	count, lsn, logged, err := t.syncNode(owner, root, nil)
	if err != nil {
		return count, err
	}
	if logged {
		t.rootLSN.Store(uint64(lsn))
	}
	return count, nil
}

func (t *Tree) syncNode(owner *latch.Owner, n, parent *Node) (int, LSN, bool, error) {
	count := 0
	for i := range n.slots {
		s := &n.slots[i]
		switch {
		case s.child != nil:
			child := s.child
			child.latch.Acquire(owner)
			c, lsn, logged, err := t.syncNode(owner, child, n)
			_ = child.latch.Release(owner)
			count += c
			if err != nil {
				return count, NullLSN, false, err
			}
			if logged {
				s.lsn = lsn
				n.SetDirty(true)
			}
		case s.leaf != nil && s.leaf.dirty:
			lsn, err := t.log.LogLeaf(t.db, s.key, s.leaf, true)
			if err != nil {
				return count, NullLSN, false, err
			}
			s.leaf.dirty = false
			s.lsn = lsn
			n.SetDirty(true)
		}
	}

	if !n.IsDirty() {
		return count, NullLSN, false, nil
	}
	lsn, err := t.log.LogNode(n, LogOptions{
		Provisional:  parent != nil,
		BackgroundIO: true,
		Parent:       parent,
	})
	if err != nil {
		return count, NullLSN, false, err
	}
	n.SetDirty(false)
	return count + 1, lsn, true, nil
}

// Preload faults every node of the tree into the cache. Leaves stay in the
// log. Returns the number of nodes visited.
func (t *Tree) Preload(owner *latch.Owner) (int, error) {
	root, err := t.latchRoot(owner, false)
	if err != nil || root == nil {
		return 0, err
	}
	defer root.latch.ReleaseIfOwner(owner)
	return t.preloadNode(owner, root)
}

func (t *Tree) preloadNode(owner *latch.Owner, n *Node) (int, error) {
	count := 1
	if n.kind != KindIN {
		return count, nil
	}
	for i := range n.slots {
		child, err := t.fetchChild(n, i)
		if err != nil {
			return count, err
		}
		child.latch.Acquire(owner)
		c, err := t.preloadNode(owner, child)
		_ = child.latch.Release(owner)
		count += c
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// DirtyResident marks every resident node dirty, the way recovery replays
// the log into the cache. Returns the number of nodes dirtied.
func (t *Tree) DirtyResident(owner *latch.Owner) int {
	t.rootLatch.Acquire(owner)
	defer t.rootLatch.ReleaseIfOwner(owner)

	root := t.root.Load()
	if root == nil {
		return 0
	}
	root.latch.Acquire(owner)
	defer root.latch.ReleaseIfOwner(owner)
	return t.dirtyNode(owner, root)
}

func (t *Tree) dirtyNode(owner *latch.Owner, n *Node) int {
	count := 1
	n.SetDirty(true)
	for i := range n.slots {
		if child := n.slots[i].child; child != nil {
			child.latch.Acquire(owner)
			count += t.dirtyNode(owner, child)
			_ = child.latch.Release(owner)
		}
	}
	return count
}

// --------------------------------------------------------------------------
// Descent helpers
// --------------------------------------------------------------------------

// descend latch-couples from the root to the BIN covering key and returns
// it latched by owner. With forWrite set an empty tree gets a root and full
// nodes are split on the way down. Without it nil is returned for an empty
// tree.
func (t *Tree) descend(owner *latch.Owner, key []byte, forWrite bool) (*Node, error) {
	node, err := t.latchRoot(owner, forWrite)
	if err != nil || node == nil {
		return nil, err
	}

	for node.kind == KindIN {
		idx, _ := node.findSlot(key)
		child, err := t.fetchChild(node, idx)
		if err != nil {
			_ = node.latch.Release(owner)
			return nil, err
		}
		child.latch.Acquire(owner)

		if forWrite && child.NEntries() >= t.db.config.MaxEntries {
			sibling, delta := t.split(node, idx, child)
			t.listener.SizeChanged(t.db, delta)
			if bytes.Compare(key, sibling.IdentifierKey()) >= 0 {
				sibling.latch.Acquire(owner)
				_ = child.latch.Release(owner)
				child = sibling
			}
		}

		_ = node.latch.Release(owner)
		child.Touch()
		node = child
	}
	return node, nil
}

// latchRoot returns the root latched by owner, fetching or creating it as
// needed. A full root is split first when forWrite is set.
func (t *Tree) latchRoot(owner *latch.Owner, forWrite bool) (*Node, error) {
	t.rootLatch.Acquire(owner)
	defer t.rootLatch.ReleaseIfOwner(owner)

	root := t.root.Load()
	if root == nil {
		switch {
		case t.RootLSN() != NullLSN:
			img, err := t.log.FetchNode(t.RootLSN())
			if err != nil {
				return nil, err
			}
			root = nodeFromImage(t.db, img)
		case forWrite:
			root = NewBIN(t.db)
			root.SetDirty(true)
		default:
			return nil, nil
		}
		root.root.Store(true)
		t.root.Store(root)
		t.listener.NodeAttached(root)
	}

	root.latch.Acquire(owner)
	if forWrite && root.NEntries() >= t.db.config.MaxEntries {
		newRoot := NewIN(t.db, root.level+1)
		newRoot.insertSlot(0, slot{key: root.IdentifierKey(), child: root, lsn: t.RootLSN()})
		t.split(newRoot, 0, root)

		root.root.Store(false)
		newRoot.root.Store(true)
		newRoot.SetDirty(true)
		t.root.Store(newRoot)
		t.rootLSN.Store(uint64(NullLSN))
		t.listener.NodeAttached(newRoot)

		newRoot.latch.Acquire(owner)
		_ = root.latch.Release(owner)
		root = newRoot
	}
	root.Touch()
	return root, nil
}

// fetchChild returns the child of slot idx of the latched node, faulting it
// in from the log if it is not resident.
func (t *Tree) fetchChild(node *Node, idx int) (*Node, error) {
	s := &node.slots[idx]
	if s.child != nil {
		return s.child, nil
	}
	if s.lsn == NullLSN {
		return nil, merry.Wrap(ErrDanglingSlot).WithValue("node", node.id).WithValue("slot", idx)
	}
	img, err := t.log.FetchNode(s.lsn)
	if err != nil {
		return nil, err
	}
	child := nodeFromImage(t.db, img)
	node.setChild(idx, child)
	t.listener.NodeAttached(child)
	return child, nil
}

// split moves the upper half of the latched child into a new sibling that is
// inserted into the latched parent after idx. Returns the sibling and the
// size delta of the parent.
func (t *Tree) split(parent *Node, idx int, child *Node) (*Node, int64) {
	sibling := newNode(nextNodeID.Add(1), t.db, child.kind, child.level)
	moved := child.splitInto(sibling)
	t.listener.SizeChanged(t.db, -moved)

	delta := parent.insertSlot(idx+1, slot{
		key:   sibling.IdentifierKey(),
		child: sibling,
		lsn:   NullLSN,
	})
	child.SetDirty(true)
	sibling.SetDirty(true)
	parent.SetDirty(true)
	t.listener.NodeAttached(sibling)
	return sibling, delta
}
