package tree

import "github.com/ansel1/merry"

// ErrLogBusy is returned by a log collaborator that could not take a write
// because of contention. Callers may retry the write.
var ErrLogBusy = merry.New("log busy")

// --------------------------------------------------------------------------
// Log images
// --------------------------------------------------------------------------

// Image is the logged form of a node. Resident targets are not part of the
// image, only their LSNs.
type Image struct {
	NodeID     uint64
	DatabaseID uint64
	Kind       Kind
	Level      int32
	Slots      []ImageSlot
}

// ImageSlot is the logged form of a slot
type ImageSlot struct {
	Key          []byte
	LSN          LSN
	KnownDeleted bool
}

// Image returns the log image of the node. The latch must be held.
func (n *Node) Image() *Image {
	img := &Image{
		NodeID:     n.id,
		DatabaseID: n.db.id,
		Kind:       n.kind,
		Level:      n.level,
		Slots:      make([]ImageSlot, len(n.slots)),
	}
	for i := range n.slots {
		img.Slots[i] = ImageSlot{
			Key:          n.slots[i].key,
			LSN:          n.slots[i].lsn,
			KnownDeleted: n.slots[i].knownDeleted,
		}
	}
	return img
}

// nodeFromImage materializes a clean node from its log image
func nodeFromImage(db *Database, img *Image) *Node {
	n := newNode(img.NodeID, db, img.Kind, img.Level)
	for i, s := range img.Slots {
		n.insertSlot(i, slot{key: s.Key, lsn: s.LSN, knownDeleted: s.KnownDeleted})
	}
	return n
}

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// LogOptions describes how a node is logged
type LogOptions struct {
	// AllowDeltas permits logging a partial (delta) image
	AllowDeltas bool
	// Provisional entries are not authoritative for recovery until a
	// checkpoint cascade confirms them
	Provisional bool
	// AllowCleanerMigration lets the write migrate leaves marked by the
	// cleaner
	AllowCleanerMigration bool
	// BackgroundIO lowers the priority of the write
	BackgroundIO bool
	// Parent is a hint naming the parent of the logged node, nil for roots
	Parent *Node
}

// Log is the log collaborator used by the tree.
type Log interface {
	// LogNode appends a node image and returns its LSN
	LogNode(n *Node, opts LogOptions) (LSN, error)
	// LogLeaf appends a leaf and returns its LSN
	LogLeaf(db *Database, key []byte, leaf *Leaf, backgroundIO bool) (LSN, error)
	// FetchNode reads a node image
	FetchNode(lsn LSN) (*Image, error)
	// FetchLeaf reads the data of a leaf
	FetchLeaf(lsn LSN) ([]byte, error)
}

// Listener is notified about write path changes of the resident set. It is
// not called for changes made by eviction, the evictor accounts for those
// itself.
type Listener interface {
	// NodeAttached is called when a node becomes resident
	NodeAttached(n *Node)
	// SizeChanged is called when a resident node grows or shrinks
	SizeChanged(db *Database, delta int64)
}

// ObsoleteCounter accumulates log space made obsolete by compression.
type ObsoleteCounter interface {
	CountObsolete(lsn LSN, size int64)
}

type nopListener struct{}

func (nopListener) NodeAttached(*Node) {}
func (nopListener) SizeChanged(*Database, int64) {}
