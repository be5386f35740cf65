package evictor

import (
	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/cleaner"
	"github.com/ValentinKolb/btcache/lib/registry"
	"github.com/ValentinKolb/btcache/lib/tree"
)

// LogWriter writes nodes and leaves that are evicted while dirty
type LogWriter interface {
	LogNode(n *tree.Node, opts tree.LogOptions) (tree.LSN, error)
	LogLeaf(db *tree.Database, key []byte, leaf *tree.Leaf, backgroundIO bool) (tree.LSN, error)
}

// MapTree records the root LSN of a database after its root was flushed
type MapTree interface {
	ModifyDbRoot(db *tree.Database) error
}

// Checkpointer reports the progress of a running checkpoint
type Checkpointer interface {
	HighestFlushLevel(db *tree.Database) int32
}

// UtilizationProfile receives obsolete log space and can release memory
type UtilizationProfile interface {
	FlushLocalTracker(t *cleaner.LocalTracker) error
	EvictMemory() int64
}

// Tenant is an environment whose nodes are evicted by an Evictor. A plain
// cache has exactly one tenant.
type Tenant struct {
	ID           string
	Registry     *registry.Registry
	Budget       *budget.Budget
	Log          LogWriter
	MapTree      MapTree
	Checkpointer Checkpointer
	Utilization  UtilizationProfile
	ReadOnly     bool
}
