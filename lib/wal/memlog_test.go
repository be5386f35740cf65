package wal

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observer struct {
	records int
	bytes   int64
	files   map[uint32]bool
}

func (o *observer) CountWritten(lsn tree.LSN, size int64) {
	o.records++
	o.bytes += size
	o.files[lsn.File()] = true
}

func TestLeafRoundTrip(t *testing.T) {
	l := NewMemLog(0)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)

	lsn, err := l.LogLeaf(db, []byte("k"), tree.NewLeaf([]byte("v"), true), false)
	require.NoError(t, err)
	data, err := l.FetchLeaf(lsn)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	_, err = l.FetchNode(lsn)
	assert.True(t, merry.Is(err, ErrNotFound))
	_, err = l.FetchLeaf(tree.MakeLSN(9, 9))
	assert.True(t, merry.Is(err, ErrNotFound))
}

func TestNodeWritesAreRecorded(t *testing.T) {
	l := NewMemLog(0)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)
	owner := latch.NewOwner()
	require.NoError(t, db.Tree().Insert(owner, []byte("a"), []byte("1")))

	root := db.Tree().ResidentRoot()
	root.Latch().Acquire(owner)
	lsn, err := l.LogNode(root, tree.LogOptions{Provisional: true, AllowCleanerMigration: true})
	require.NoError(t, root.Latch().Release(owner))
	require.NoError(t, err)

	writes := l.NodeWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, root.ID(), writes[0].NodeID)
	assert.Equal(t, lsn, writes[0].LSN)
	assert.True(t, writes[0].Options.Provisional)
	assert.False(t, writes[0].Options.AllowDeltas)

	img, err := l.FetchNode(lsn)
	require.NoError(t, err)
	assert.Equal(t, root.ID(), img.NodeID)
	require.Len(t, img.Slots, 1)
	assert.Equal(t, []byte("a"), img.Slots[0].Key)

	l.ResetNodeWrites()
	assert.Empty(t, l.NodeWrites())
	assert.Equal(t, int64(1), l.Stats().NodeWrites)
	assert.Equal(t, int64(1), l.Stats().LeafWrites)
}

func TestChecksumMismatch(t *testing.T) {
	l := NewMemLog(0)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)
	lsn, err := l.LogLeaf(db, []byte("k"), tree.NewLeaf([]byte("v"), false), false)
	require.NoError(t, err)

	l.records[lsn].Data[0] = 'x'
	_, err = l.FetchLeaf(lsn)
	assert.True(t, merry.Is(err, ErrChecksum))
}

func TestFailNext(t *testing.T) {
	l := NewMemLog(0)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)
	leaf := tree.NewLeaf([]byte("v"), true)

	l.FailNext(nil)
	_, err := l.LogLeaf(db, []byte("k"), leaf, false)
	assert.True(t, merry.Is(err, ErrInjected))

	_, err = l.LogLeaf(db, []byte("k"), leaf, false)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	l.FailNext(diskFull)
	require.Error(t, l.ModifyDbRoot(db))
}

func TestFileRollover(t *testing.T) {
	l := NewMemLog(256)
	o := &observer{files: map[uint32]bool{}}
	l.SetObserver(o)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)

	var last tree.LSN
	for i := 0; i < 20; i++ {
		lsn, err := l.LogLeaf(db, []byte("key"), tree.NewLeaf(make([]byte, 40), false), false)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, lsn > last)
		}
		last = lsn
	}

	assert.Greater(t, l.Stats().Files, uint32(1))
	assert.Equal(t, 20, o.records)
	assert.Equal(t, l.Stats().BytesLogged, o.bytes)
	assert.Equal(t, int(l.Stats().Files), len(o.files))
}

func TestModifyDbRoot(t *testing.T) {
	l := NewMemLog(0)
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), l)
	owner := latch.NewOwner()
	require.NoError(t, db.Tree().Insert(owner, []byte("a"), []byte("1")))

	_, ok := l.RootOf(db.ID())
	assert.False(t, ok)

	cp := NewCheckpoint()
	n, err := cp.Run(owner, db)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, l.ModifyDbRoot(db))

	root, ok := l.RootOf(db.ID())
	require.True(t, ok)
	assert.Equal(t, db.Tree().RootLSN(), root)
	assert.Zero(t, cp.HighestFlushLevel(db))
}

func TestCheckpointFlushLevel(t *testing.T) {
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), nil)
	cp := NewCheckpoint()

	assert.Zero(t, cp.HighestFlushLevel(db))
	cp.Begin(db, tree.MainLevel|3)
	assert.Equal(t, tree.MainLevel|3, cp.HighestFlushLevel(db))
	cp.End(db)
	assert.Zero(t, cp.HighestFlushLevel(db))
}
