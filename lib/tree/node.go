package tree

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/btcache/lib/latch"
)

// --------------------------------------------------------------------------
// Memory accounting constants
// --------------------------------------------------------------------------

const (
	// NodeOverhead is the budgeted size of an empty node
	NodeOverhead int64 = 320
	// SlotOverhead is the budgeted size of one slot, excluding its key
	SlotOverhead int64 = 40
	// LeafOverhead is the budgeted size of a leaf, excluding its data
	LeafOverhead int64 = 48
)

var (
	nextNodeID        atomic.Uint64
	generationCounter atomic.Uint64
)

// NextGeneration returns the next value of the process wide generation counter
func NextGeneration() uint64 {
	return generationCounter.Add(1)
}

// --------------------------------------------------------------------------
// Leaf values
// --------------------------------------------------------------------------

// Leaf is a leaf value referenced by a BIN slot. It is guarded by the latch
// of the BIN that references it.
type Leaf struct {
	data    []byte
	dirty   bool
	deleted bool
}

// NewLeaf creates a leaf. Leaves of deferred-write databases start dirty.
func NewLeaf(data []byte, dirty bool) *Leaf {
	return &Leaf{data: data, dirty: dirty}
}

// Data returns the value held by the leaf
func (l *Leaf) Data() []byte { return l.data }

// IsDirty reports whether the leaf was modified since it was last logged
func (l *Leaf) IsDirty() bool { return l.dirty }

// IsDeleted reports whether the leaf records a deletion
func (l *Leaf) IsDeleted() bool { return l.deleted }

// Size returns the budgeted size of the leaf
func (l *Leaf) Size() int64 {
	return LeafOverhead + int64(len(l.data))
}

// --------------------------------------------------------------------------
// Slots
// --------------------------------------------------------------------------

// slot is one entry of a node. A slot of an IN references a child node, a
// slot of a BIN references a leaf.
type slot struct {
	key          []byte
	child        *Node
	leaf         *Leaf
	lsn          LSN
	knownDeleted bool
	migrate      bool
}

func (s *slot) resident() bool {
	return s.child != nil || s.leaf != nil
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is an IN or BIN held in memory.
type Node struct {
	id    uint64
	kind  Kind
	level int32
	db    *Database
	latch *latch.Latch

	generation atomic.Uint64
	dirty      atomic.Bool
	resident   atomic.Bool
	root       atomic.Bool
	cursors    atomic.Int32
	size       atomic.Int64

	// maintained under the latch, readable without it
	residentChildren atomic.Int32
	nonLeafChildren  atomic.Int32
	strippable       atomic.Int32

	idKey atomic.Pointer[[]byte]
	slots []slot // guarded by latch
}

// NewIN creates an empty internal node of the given level
func NewIN(db *Database, level int32) *Node {
	return newNode(nextNodeID.Add(1), db, KindIN, level)
}

// NewBIN creates an empty bottom internal node
func NewBIN(db *Database) *Node {
	return newNode(nextNodeID.Add(1), db, KindBIN, db.levelPrefix()|1)
}

func newNode(id uint64, db *Database, kind Kind, level int32) *Node {
	n := &Node{
		id:    id,
		kind:  kind,
		level: level,
		db:    db,
		latch: latch.New(fmt.Sprintf("%s-%d", kind, id)),
	}
	n.size.Store(NodeOverhead)
	n.Touch()
	return n
}

// ID returns the stable node id
func (n *Node) ID() uint64 { return n.id }

// Kind returns whether this is an IN or a BIN
func (n *Node) Kind() Kind { return n.kind }

// Level returns the encoded tree level
func (n *Node) Level() int32 { return n.level }

// Database returns the database owning this node
func (n *Node) Database() *Database { return n.db }

// Latch returns the node latch
func (n *Node) Latch() *latch.Latch { return n.latch }

// Generation returns the LRU generation of the node
func (n *Node) Generation() uint64 { return n.generation.Load() }

// SetGeneration overrides the generation, used to build deterministic trees
func (n *Node) SetGeneration(g uint64) { n.generation.Store(g) }

// Touch marks the node as recently used
func (n *Node) Touch() { n.generation.Store(NextGeneration()) }

// IsDirty reports whether the node changed since it was last logged
func (n *Node) IsDirty() bool { return n.dirty.Load() }

// SetDirty sets the dirty flag
func (n *Node) SetDirty(dirty bool) { n.dirty.Store(dirty) }

// IsResident reports whether the node is in a node registry
func (n *Node) IsResident() bool { return n.resident.Load() }

// SetResident is maintained by the node registry
func (n *Node) SetResident(resident bool) { n.resident.Store(resident) }

// IsDbRoot reports whether the node is the root of its database tree
func (n *Node) IsDbRoot() bool { return n.root.Load() }

// AddCursor registers a cursor positioned on this node
func (n *Node) AddCursor() { n.cursors.Add(1) }

// RemoveCursor unregisters a cursor
func (n *Node) RemoveCursor() { n.cursors.Add(-1) }

// Cursors returns the number of cursors positioned on this node
func (n *Node) Cursors() int { return int(n.cursors.Load()) }

// InMemorySize returns the budgeted size of the node including its
// resident leaves. Child nodes are budgeted separately.
func (n *Node) InMemorySize() int64 { return n.size.Load() }

func (n *Node) String() string {
	return fmt.Sprintf("%s(id=%d level=0x%x db=%s)", n.kind, n.id, n.level, n.db.Name())
}

// --------------------------------------------------------------------------
// Slot access (latch must be held)
// --------------------------------------------------------------------------

// NEntries returns the number of slots
func (n *Node) NEntries() int { return len(n.slots) }

// Key returns the key of slot i
func (n *Node) Key(i int) []byte { return n.slots[i].key }

// Target returns the resident child of slot i or nil
func (n *Node) Target(i int) *Node { return n.slots[i].child }

// LeafAt returns the resident leaf of slot i or nil
func (n *Node) LeafAt(i int) *Leaf { return n.slots[i].leaf }

// LSN returns the log address of the target of slot i
func (n *Node) LSN(i int) LSN { return n.slots[i].lsn }

// IsKnownDeleted reports whether slot i is known to be deleted
func (n *Node) IsKnownDeleted(i int) bool { return n.slots[i].knownDeleted }

// IdentifierKey returns the first key of the node. It keeps the last first
// key when the node becomes empty and does not need the latch.
func (n *Node) IdentifierKey() []byte {
	if k := n.idKey.Load(); k != nil {
		return *k
	}
	return nil
}

func (n *Node) refreshIdentifierKey() {
	if len(n.slots) > 0 {
		k := n.slots[0].key
		n.idKey.Store(&k)
	}
}

// SetMigrate marks slot i for cleaner migration. Leaves pending migration
// are not stripped.
func (n *Node) SetMigrate(i int, migrate bool) {
	s := &n.slots[i]
	n.countTarget(s, -1)
	s.migrate = migrate
	n.countTarget(s, 1)
}

// UpdateEntry sets the child and LSN of slot i and dirties the node.
func (n *Node) UpdateEntry(i int, child *Node, lsn LSN) {
	n.setChild(i, child)
	n.slots[i].lsn = lsn
	n.SetDirty(true)
}

// DetachChild clears the in-memory reference of slot i without dirtying the
// node, only the out-of-memory pointer changes.
func (n *Node) DetachChild(i int) {
	n.setChild(i, nil)
}

// --------------------------------------------------------------------------
// Eviction support
// --------------------------------------------------------------------------

// IsEvictionProhibited reports whether the node must stay resident no matter
// what its children look like. BINs with cursors, dirty roots of
// deferred-write databases and the roots of internal databases are
// prohibited.
func (n *Node) IsEvictionProhibited() bool {
	if n.kind == KindBIN && n.cursors.Load() > 0 {
		return true
	}
	if n.IsDbRoot() {
		if n.db.IsDeferredWrite() && n.IsDirty() {
			return true
		}
		if n.db.IsInternal() {
			return true
		}
	}
	return false
}

// EvictionType classifies the node for victim selection. It does not need
// the latch and may therefore be stale.
func (n *Node) EvictionType() EvictionType {
	if n.IsEvictionProhibited() {
		return MayNotEvict
	}
	if n.kind == KindBIN {
		if n.nonLeafChildren.Load() > 0 {
			return MayNotEvict
		}
		if n.strippable.Load() > 0 {
			return MayEvictLNs
		}
		return MayEvictNode
	}
	if n.residentChildren.Load() > 0 {
		return MayNotEvict
	}
	return MayEvictNode
}

// IsEvictable is the stricter check done under latch right before the node
// is detached: no resident children at all, and every slot must be
// reachable through the log.
func (n *Node) IsEvictable() bool {
	if n.IsEvictionProhibited() {
		return false
	}
	if n.residentChildren.Load() > 0 {
		return false
	}
	for i := range n.slots {
		if n.slots[i].lsn == NullLSN && !n.slots[i].resident() {
			return false
		}
	}
	return true
}

// LeafLogFunc logs a dirty leaf of slot key and returns its new LSN
type LeafLogFunc func(key []byte, leaf *Leaf) (LSN, error)

// EvictLeaves strips all resident leaves that are not pending migration.
// Dirty leaves are logged with logLeaf first. The latch must be held.
// Returns the number of bytes removed from the node, which is also returned
// together with a logging error so the caller can account for leaves
// stripped before the failure.
func (n *Node) EvictLeaves(logLeaf LeafLogFunc) (int64, error) {
	if n.kind != KindBIN || n.cursors.Load() > 0 {
		return 0, nil
	}

	var removed int64
	for i := range n.slots {
		s := &n.slots[i]
		if s.leaf == nil || s.migrate {
			continue
		}
		if s.leaf.dirty {
			lsn, err := logLeaf(s.key, s.leaf)
			if err != nil {
				n.size.Add(-removed)
				return removed, err
			}
			s.leaf.dirty = false
			s.lsn = lsn
			n.SetDirty(true)
		}
		removed += s.leaf.Size()
		n.setLeaf(i, nil)
	}
	n.size.Add(-removed)
	return removed, nil
}

// --------------------------------------------------------------------------
// Internal slot mutation (latch must be held)
// --------------------------------------------------------------------------

func (n *Node) countTarget(s *slot, sign int32) {
	if s.child != nil {
		n.residentChildren.Add(sign)
		n.nonLeafChildren.Add(sign)
	}
	if s.leaf != nil {
		n.residentChildren.Add(sign)
		if !s.migrate {
			n.strippable.Add(sign)
		}
	}
}

func (n *Node) setChild(i int, child *Node) {
	s := &n.slots[i]
	n.countTarget(s, -1)
	s.child = child
	n.countTarget(s, 1)
}

// setLeaf replaces the leaf of slot i and returns the size delta. The node
// size is not adjusted.
func (n *Node) setLeaf(i int, leaf *Leaf) int64 {
	s := &n.slots[i]
	var delta int64
	if s.leaf != nil {
		delta -= s.leaf.Size()
	}
	n.countTarget(s, -1)
	s.leaf = leaf
	n.countTarget(s, 1)
	if leaf != nil {
		delta += leaf.Size()
	}
	return delta
}

// insertSlot inserts s at index i and returns the size delta
func (n *Node) insertSlot(i int, s slot) int64 {
	n.slots = append(n.slots, slot{})
	copy(n.slots[i+1:], n.slots[i:])
	n.slots[i] = s
	n.countTarget(&n.slots[i], 1)
	if i == 0 {
		n.refreshIdentifierKey()
	}

	delta := SlotOverhead + int64(len(s.key))
	if s.leaf != nil {
		delta += s.leaf.Size()
	}
	n.size.Add(delta)
	return delta
}

// removeSlot removes slot i and returns the (negative) size delta
func (n *Node) removeSlot(i int) int64 {
	s := &n.slots[i]
	n.countTarget(s, -1)
	delta := -(SlotOverhead + int64(len(s.key)))
	if s.leaf != nil {
		delta -= s.leaf.Size()
	}
	n.slots = append(n.slots[:i], n.slots[i+1:]...)
	n.size.Add(delta)
	if i == 0 {
		n.refreshIdentifierKey()
	}
	return delta
}

// splitInto moves the upper half of the slots into sibling and returns the
// size moved.
func (n *Node) splitInto(sibling *Node) int64 {
	mid := len(n.slots) / 2
	var moved int64
	for i := mid; i < len(n.slots); i++ {
		moved -= n.slots[i].size()
		n.countTarget(&n.slots[i], -1)
	}
	upper := append([]slot(nil), n.slots[mid:]...)
	n.slots = n.slots[:mid]
	n.size.Add(moved)

	for i := range upper {
		sibling.insertSlot(len(sibling.slots), upper[i])
	}
	return -moved
}

func (s *slot) size() int64 {
	sz := SlotOverhead + int64(len(s.key))
	if s.leaf != nil {
		sz += s.leaf.Size()
	}
	return sz
}

// findSlot returns the slot index to follow for key. For an IN this is the
// last slot whose key is <= key (slot 0 compares low). For a BIN exact is
// true only if the key is present, otherwise the index is the insert
// position.
func (n *Node) findSlot(key []byte) (idx int, exact bool) {
	lo, hi := 0, len(n.slots)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(n.slots[mid].key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if n.kind == KindIN {
		if lo == 0 {
			return 0, false
		}
		return lo - 1, bytes.Equal(n.slots[lo-1].key, key)
	}
	if lo > 0 && bytes.Equal(n.slots[lo-1].key, key) {
		return lo - 1, true
	}
	return lo, false
}
