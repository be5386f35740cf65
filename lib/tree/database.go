package tree

import (
	"fmt"
	"sync/atomic"
)

// Reserved ids of the internal databases
const (
	MappingDatabaseID uint64 = 0
	NamingDatabaseID  uint64 = 1
)

// deleteState tracks the delete processing of a database
type deleteState int32

const (
	deleteNone deleteState = iota
	deleteInProgress
	deleteFinished
)

// DatabaseConfig configures a database
type DatabaseConfig struct {
	// DeferredWrite databases do not log leaves on write, dirty leaves are
	// logged when they are evicted or synced
	DeferredWrite bool
	// MaxEntries is the fan-out of the tree nodes
	MaxEntries int
}

// DefaultDatabaseConfig returns the default database configuration
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{MaxEntries: 128}
}

// Database is a named B-tree.
type Database struct {
	id     uint64
	name   string
	config DatabaseConfig
	state  atomic.Int32
	tree   *Tree
}

// NewDatabase creates a database with an empty tree. The log collaborator
// is used by the tree to fetch evicted nodes and to log leaves on write.
func NewDatabase(id uint64, name string, config DatabaseConfig, log Log) *Database {
	if config.MaxEntries < 4 {
		config.MaxEntries = 4
	}
	db := &Database{id: id, name: name, config: config}
	db.tree = newTree(db, log)
	return db
}

// ID returns the database id
func (db *Database) ID() uint64 { return db.id }

// Name returns the database name
func (db *Database) Name() string { return db.name }

// Tree returns the tree of the database
func (db *Database) Tree() *Tree { return db.tree }

// Config returns the database configuration
func (db *Database) Config() DatabaseConfig { return db.config }

// IsDeferredWrite reports whether the database is in deferred-write mode
func (db *Database) IsDeferredWrite() bool { return db.config.DeferredWrite }

// IsInternal reports whether this is the mapping or the naming database
func (db *Database) IsInternal() bool {
	return db.id == MappingDatabaseID || db.id == NamingDatabaseID
}

// IsDeleted reports whether delete processing has started
func (db *Database) IsDeleted() bool {
	return deleteState(db.state.Load()) != deleteNone
}

// IsDeleteFinished reports whether delete processing has completed. No node
// of such a database may remain resident.
func (db *Database) IsDeleteFinished() bool {
	return deleteState(db.state.Load()) == deleteFinished
}

// MarkDeleted starts delete processing
func (db *Database) MarkDeleted() {
	db.state.CompareAndSwap(int32(deleteNone), int32(deleteInProgress))
}

// MarkDeleteFinished completes delete processing
func (db *Database) MarkDeleteFinished() {
	db.state.Store(int32(deleteFinished))
}

func (db *Database) levelPrefix() int32 {
	if db.id == MappingDatabaseID {
		return DBMapLevel
	}
	return MainLevel
}

func (db *Database) String() string {
	return fmt.Sprintf("%s(id=%d)", db.name, db.id)
}
