package wal

import (
	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/puzpuzpuz/xsync/v3"
)

// Checkpoint tracks the progress of running checkpoints. While a checkpoint
// of a database runs, HighestFlushLevel returns the highest level it is
// going to flush, nodes below it must be logged provisionally by anyone else.
type Checkpoint struct {
	levels *xsync.MapOf[uint64, int32]
}

// NewCheckpoint creates an idle checkpoint tracker
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{levels: xsync.NewMapOf[uint64, int32]()}
}

// Begin marks the start of a checkpoint of db that flushes up to level
func (c *Checkpoint) Begin(db *tree.Database, level int32) {
	c.levels.Store(db.ID(), level)
}

// End marks the end of the checkpoint of db
func (c *Checkpoint) End(db *tree.Database) {
	c.levels.Delete(db.ID())
}

// HighestFlushLevel returns the highest level flushed by a running
// checkpoint of db, or 0 if none is running
func (c *Checkpoint) HighestFlushLevel(db *tree.Database) int32 {
	level, _ := c.levels.Load(db.ID())
	return level
}

// Run checkpoints db: every dirty resident node is logged bottom-up while
// the flush level is published. Returns the number of nodes logged.
func (c *Checkpoint) Run(owner *latch.Owner, db *tree.Database) (int, error) {
	root := db.Tree().ResidentRoot()
	if root == nil {
		return 0, nil
	}
	c.Begin(db, root.Level())
	defer c.End(db)
	return db.Tree().Sync(owner)
}
