package wal

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ansel1/merry"
	"github.com/cespare/xxhash/v2"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger of the wal package
var Logger = logger.GetLogger("wal")

var (
	// ErrInjected is returned by writes failed with FailNext
	ErrInjected = merry.New("injected log failure")
	// ErrNotFound is returned when no record exists at an LSN
	ErrNotFound = merry.New("no log record at lsn")
	// ErrChecksum is returned when a record does not match its checksum
	ErrChecksum = merry.New("log record checksum mismatch")
)

// DefaultFileSize is the size after which MemLog starts a new file
const DefaultFileSize = 10 << 20

// RecordType identifies the content of a record
type RecordType uint8

const (
	RecordNode RecordType = iota + 1
	RecordLeaf
	RecordDeletedLeaf
	RecordMapRoot
)

func (t RecordType) String() string {
	switch t {
	case RecordNode:
		return "node"
	case RecordLeaf:
		return "leaf"
	case RecordDeletedLeaf:
		return "deleted-leaf"
	case RecordMapRoot:
		return "map-root"
	default:
		return "unknown"
	}
}

// Record is one entry of the log
type Record struct {
	LSN         tree.LSN
	Type        RecordType
	DatabaseID  uint64
	Provisional bool
	Key         []byte
	Data        []byte
	Image       *tree.Image
	RootLSN     tree.LSN
	Size        int64
	Checksum    uint64
}

// NodeWrite describes one LogNode call
type NodeWrite struct {
	NodeID  uint64
	Level   int32
	LSN     tree.LSN
	Options tree.LogOptions
}

// WriteObserver is told about the size of every record appended
type WriteObserver interface {
	CountWritten(lsn tree.LSN, size int64)
}

// MemLog is an append-only log held in memory.
//
// Thread-safety: all methods are safe for concurrent use.
type MemLog struct {
	mu       sync.RWMutex
	fileSize uint32
	file     uint32
	offset   uint32
	records  map[tree.LSN]*Record
	roots    map[uint64]tree.LSN
	writes   []NodeWrite
	observer WriteObserver

	failNext atomic.Pointer[error]

	nodeWrites  atomic.Int64
	leafWrites  atomic.Int64
	bytesLogged atomic.Int64
}

// NewMemLog creates an empty log
func NewMemLog(fileSize uint32) *MemLog {
	if fileSize == 0 {
		fileSize = DefaultFileSize
	}
	return &MemLog{
		fileSize: fileSize,
		file:     1,
		records:  make(map[tree.LSN]*Record),
		roots:    make(map[uint64]tree.LSN),
	}
}

// SetObserver registers the observer of appended records
func (l *MemLog) SetObserver(o WriteObserver) {
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// FailNext makes the next write fail with err, or ErrInjected if err is nil
func (l *MemLog) FailNext(err error) {
	if err == nil {
		err = ErrInjected
	}
	l.failNext.Store(&err)
}

func (l *MemLog) takeFailure() error {
	if p := l.failNext.Swap(nil); p != nil {
		return *p
	}
	return nil
}

// --------------------------------------------------------------------------
// tree.Log
// --------------------------------------------------------------------------

// LogNode appends the image of n
func (l *MemLog) LogNode(n *tree.Node, opts tree.LogOptions) (tree.LSN, error) {
	if err := l.takeFailure(); err != nil {
		Logger.Errorf("failed to log %s: %v", n, err)
		return tree.NullLSN, merry.Wrap(err).WithValue("node", n.ID())
	}

	img := n.Image()
	rec := &Record{
		Type:        RecordNode,
		DatabaseID:  img.DatabaseID,
		Provisional: opts.Provisional,
		Image:       img,
	}
	lsn := l.append(rec, func(lsn tree.LSN) {
		l.writes = append(l.writes, NodeWrite{NodeID: n.ID(), Level: n.Level(), LSN: lsn, Options: opts})
	})
	l.nodeWrites.Add(1)
	return lsn, nil
}

// LogLeaf appends a leaf, or a deletion if the leaf records one
func (l *MemLog) LogLeaf(db *tree.Database, key []byte, leaf *tree.Leaf, _ bool) (tree.LSN, error) {
	if err := l.takeFailure(); err != nil {
		Logger.Errorf("failed to log leaf of %s: %v", db, err)
		return tree.NullLSN, merry.Wrap(err).WithValue("database", db.Name())
	}

	rec := &Record{
		Type:       RecordLeaf,
		DatabaseID: db.ID(),
		Key:        append([]byte(nil), key...),
		Data:       append([]byte(nil), leaf.Data()...),
	}
	if leaf.IsDeleted() {
		rec.Type = RecordDeletedLeaf
	}
	lsn := l.append(rec, nil)
	l.leafWrites.Add(1)
	return lsn, nil
}

// FetchNode reads back a node image
func (l *MemLog) FetchNode(lsn tree.LSN) (*tree.Image, error) {
	rec, err := l.Read(lsn)
	if err != nil {
		return nil, err
	}
	if rec.Type != RecordNode {
		return nil, merry.Wrap(ErrNotFound).WithValue("lsn", lsn.String()).WithValue("type", rec.Type.String())
	}
	return rec.Image, nil
}

// FetchLeaf reads back the data of a leaf
func (l *MemLog) FetchLeaf(lsn tree.LSN) ([]byte, error) {
	rec, err := l.Read(lsn)
	if err != nil {
		return nil, err
	}
	if rec.Type != RecordLeaf {
		return nil, merry.Wrap(ErrNotFound).WithValue("lsn", lsn.String()).WithValue("type", rec.Type.String())
	}
	return rec.Data, nil
}

// Read returns the record at lsn after verifying its checksum
func (l *MemLog) Read(lsn tree.LSN) (*Record, error) {
	l.mu.RLock()
	rec, ok := l.records[lsn]
	l.mu.RUnlock()
	if !ok {
		return nil, merry.Wrap(ErrNotFound).WithValue("lsn", lsn.String())
	}
	if checksum(rec) != rec.Checksum {
		return nil, merry.Wrap(ErrChecksum).WithValue("lsn", lsn.String())
	}
	return rec, nil
}

// --------------------------------------------------------------------------
// Mapping tree
// --------------------------------------------------------------------------

// ModifyDbRoot records the current root LSN of db in the mapping tree
func (l *MemLog) ModifyDbRoot(db *tree.Database) error {
	if err := l.takeFailure(); err != nil {
		return merry.Wrap(err).WithValue("database", db.Name())
	}
	root := db.Tree().RootLSN()
	l.append(&Record{Type: RecordMapRoot, DatabaseID: db.ID(), RootLSN: root}, func(tree.LSN) {
		l.roots[db.ID()] = root
	})
	return nil
}

// RootOf returns the root LSN recorded for a database
func (l *MemLog) RootOf(dbID uint64) (tree.LSN, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lsn, ok := l.roots[dbID]
	return lsn, ok
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// NodeWrites returns the LogNode calls recorded so far
func (l *MemLog) NodeWrites() []NodeWrite {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]NodeWrite(nil), l.writes...)
}

// ResetNodeWrites clears the recorded LogNode calls
func (l *MemLog) ResetNodeWrites() {
	l.mu.Lock()
	l.writes = nil
	l.mu.Unlock()
}

// Stats are counters of a MemLog
type Stats struct {
	NodeWrites  int64  `json:"node_writes" yaml:"node_writes"`
	LeafWrites  int64  `json:"leaf_writes" yaml:"leaf_writes"`
	BytesLogged int64  `json:"bytes_logged" yaml:"bytes_logged"`
	Files       uint32 `json:"files" yaml:"files"`
}

// Stats returns the log counters
func (l *MemLog) Stats() Stats {
	l.mu.RLock()
	files := l.file
	l.mu.RUnlock()
	return Stats{
		NodeWrites:  l.nodeWrites.Load(),
		LeafWrites:  l.leafWrites.Load(),
		BytesLogged: l.bytesLogged.Load(),
		Files:       files,
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// append assigns an LSN to rec and stores it. onStore runs under the write
// lock.
func (l *MemLog) append(rec *Record, onStore func(lsn tree.LSN)) tree.LSN {
	rec.Size = recordSize(rec)
	rec.Checksum = checksum(rec)

	l.mu.Lock()
	if uint64(l.offset)+uint64(rec.Size) > uint64(l.fileSize) && l.offset > 0 {
		l.file++
		l.offset = 0
		Logger.Debugf("log advanced to file %d", l.file)
	}
	lsn := tree.MakeLSN(l.file, l.offset)
	l.offset += uint32(rec.Size)
	rec.LSN = lsn
	l.records[lsn] = rec
	if onStore != nil {
		onStore(lsn)
	}
	observer := l.observer
	l.mu.Unlock()

	l.bytesLogged.Add(rec.Size)
	if observer != nil {
		observer.CountWritten(lsn, rec.Size)
	}
	return lsn
}

const recordHeader = 32

func recordSize(rec *Record) int64 {
	size := int64(recordHeader + len(rec.Key) + len(rec.Data))
	if rec.Image != nil {
		for _, s := range rec.Image.Slots {
			size += int64(len(s.Key)) + 9
		}
	}
	return size
}

// checksum hashes the durable content of a record
func checksum(rec *Record) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	putUint(uint64(rec.Type))
	putUint(rec.DatabaseID)
	putUint(uint64(rec.RootLSN))
	_, _ = d.Write(rec.Key)
	_, _ = d.Write(rec.Data)
	if img := rec.Image; img != nil {
		putUint(img.NodeID)
		putUint(uint64(img.Level))
		for _, s := range img.Slots {
			_, _ = d.Write(s.Key)
			putUint(uint64(s.LSN))
			if s.KnownDeleted {
				_, _ = d.Write([]byte{1})
			}
		}
	}
	return d.Sum64()
}
