package env

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/cleaner"
	"github.com/ValentinKolb/btcache/lib/evictor"
	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ValentinKolb/btcache/lib/registry"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ValentinKolb/btcache/lib/wal"
	"github.com/ansel1/merry"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Logger is the logger of the env package
var Logger = logger.GetLogger("env")

var (
	ErrReadOnly         = merry.New("environment is read-only")
	ErrClosed           = merry.New("environment is closed")
	ErrDatabaseExists   = merry.New("database already exists")
	ErrDatabaseNotFound = merry.New("database not found")
)

// namingDatabase is the name of the internal database holding the catalog
const namingDatabase = "_naming"

// Stats is a snapshot of the state of an environment
type Stats struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	ReadOnly      bool               `json:"read_only" yaml:"read_only"`
	Databases     int                `json:"databases" yaml:"databases"`
	ResidentNodes int                `json:"resident_nodes" yaml:"resident_nodes"`
	TreeUsage     int64              `json:"tree_usage" yaml:"tree_usage"`
	AdminUsage    int64              `json:"admin_usage" yaml:"admin_usage"`
	CacheUsage    int64              `json:"cache_usage" yaml:"cache_usage"`
	MaxMemory     int64              `json:"max_memory" yaml:"max_memory"`
	Log           wal.Stats          `json:"log" yaml:"log"`
	Evictor       evictor.Statistics `json:"evictor" yaml:"evictor"`
}

// Environment is a set of databases whose nodes share one cache.
type Environment struct {
	id     string
	config Config

	log        *wal.MemLog
	checkpoint *wal.Checkpoint
	profile    *cleaner.Profile
	registry   *registry.Registry
	budget     *budget.Budget
	tenant     *evictor.Tenant
	evictor    *evictor.Evictor
	cache      *SharedCache // nil for a private cache

	// catalogMu is held shared by every tree operation and exclusively
	// while databases are created or removed
	catalogMu sync.RWMutex
	naming    *tree.Database
	dbs       *xsync.MapOf[string, *tree.Database]
	nextID    atomic.Uint64

	closed atomic.Bool
}

// residency attaches nodes made resident by the write path to the registry
// and charges them to the budget
type residency struct {
	registry *registry.Registry
	budget   *budget.Budget
}

func (r residency) NodeAttached(n *tree.Node) {
	r.registry.Add(n)
	r.budget.UpdateTreeUsage(n.InMemorySize())
}

func (r residency) SizeChanged(_ *tree.Database, delta int64) {
	r.budget.UpdateTreeUsage(delta)
}

// Open opens an environment with a private cache
func Open(config Config) (*Environment, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	b, err := budget.New(config.Budget)
	if err != nil {
		return nil, err
	}
	e := newEnvironment(uuid.NewString(), config, b, wal.NewMemLog(config.LogFileSize))
	if e.evictor, err = evictor.New(config.Evictor, e.tenant); err != nil {
		return nil, err
	}
	if config.RunDaemon {
		e.evictor.Start()
	}
	Logger.Infof("opened environment %s (%s), cache size %d", e.config.Name, e.id, b.MaxMemory())
	return e, nil
}

func newEnvironment(id string, config Config, b *budget.Budget, log *wal.MemLog) *Environment {
	e := &Environment{
		id:         id,
		config:     config,
		log:        log,
		checkpoint: wal.NewCheckpoint(),
		registry:   registry.New(),
		budget:     b,
		dbs:        xsync.NewMapOf[string, *tree.Database](),
	}
	e.profile = cleaner.NewProfile(b.UpdateAdminUsage)
	log.SetObserver(e.profile)
	e.tenant = &evictor.Tenant{
		ID:           e.id,
		Registry:     e.registry,
		Budget:       b,
		Log:          log,
		MapTree:      log,
		Checkpointer: e.checkpoint,
		Utilization:  e.profile,
		ReadOnly:     config.ReadOnly,
	}
	e.naming = e.attach(tree.NamingDatabaseID, namingDatabase, tree.DefaultDatabaseConfig())
	e.nextID.Store(tree.NamingDatabaseID)
	return e
}

func (e *Environment) attach(id uint64, name string, config tree.DatabaseConfig) *tree.Database {
	db := tree.NewDatabase(id, name, config, e.log)
	db.Tree().SetListener(residency{registry: e.registry, budget: e.budget})
	if lsn, ok := e.log.RootOf(id); ok {
		_ = db.Tree().WithRootLatchedExclusive(latch.NewOwner(), func(root *tree.RootRef) error {
			root.SetLSN(lsn)
			return nil
		})
	}
	return db
}

// ID returns the generated id of the environment
func (e *Environment) ID() string { return e.id }

// Name returns the configured name of the environment
func (e *Environment) Name() string { return e.config.Name }

// Config returns the environment configuration
func (e *Environment) Config() Config { return e.config }

// IsReadOnly reports whether writes are rejected
func (e *Environment) IsReadOnly() bool { return e.config.ReadOnly }

// Evictor returns the evictor serving the cache of the environment
func (e *Environment) Evictor() *evictor.Evictor { return e.evictor }

// Budget returns the budget of the environment. For an environment of a
// shared cache this is its tenant budget.
func (e *Environment) Budget() *budget.Budget { return e.budget }

// Log returns the log of the environment
func (e *Environment) Log() *wal.MemLog { return e.log }

// Registry returns the resident nodes of the environment
func (e *Environment) Registry() *registry.Registry { return e.registry }

// --------------------------------------------------------------------------
// Databases
// --------------------------------------------------------------------------

// CreateDatabase creates an empty database
func (e *Environment) CreateDatabase(name string, config tree.DatabaseConfig) (*tree.Database, error) {
	if err := e.checkWritable(); err != nil {
		return nil, err
	}
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	if _, ok := e.dbs.Load(name); ok || name == namingDatabase {
		return nil, merry.Wrap(ErrDatabaseExists).WithValue("database", name)
	}
	if err := e.evictor.DoCriticalEviction(true); err != nil {
		return nil, err
	}

	id := e.nextID.Add(1)
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], id)
	if err := e.naming.Tree().Insert(latch.NewOwner(), []byte(name), value[:]); err != nil {
		return nil, err
	}
	db := e.attach(id, name, config)
	e.dbs.Store(name, db)
	Logger.Debugf("%s: created database %s", e.config.Name, db)
	return db, nil
}

// Database returns the database with the given name
func (e *Environment) Database(name string) (*tree.Database, bool) {
	return e.dbs.Load(name)
}

// Databases returns the sorted names of all databases
func (e *Environment) Databases() []string {
	names := make([]string, 0, e.dbs.Size())
	e.dbs.Range(func(name string, _ *tree.Database) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// RemoveDatabase deletes a database. Its resident nodes are dropped from
// the cache before the delete is marked as finished.
func (e *Environment) RemoveDatabase(name string) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	db, ok := e.dbs.LoadAndDelete(name)
	if !ok {
		return merry.Wrap(ErrDatabaseNotFound).WithValue("database", name)
	}
	db.MarkDeleted()
	if _, err := e.naming.Tree().Delete(latch.NewOwner(), []byte(name)); err != nil {
		return err
	}

	nodes, bytes := e.registry.RemoveDatabase(db.ID())
	e.budget.UpdateTreeUsage(-bytes)
	db.MarkDeleteFinished()
	Logger.Infof("%s: removed database %s, released %d nodes (%d bytes)", e.config.Name, db, nodes, bytes)
	return nil
}

func (e *Environment) lookup(name string) (*tree.Database, error) {
	if e.closed.Load() {
		return nil, merry.Wrap(ErrClosed).WithValue("environment", e.config.Name)
	}
	db, ok := e.dbs.Load(name)
	if !ok {
		return nil, merry.Wrap(ErrDatabaseNotFound).WithValue("database", name)
	}
	return db, nil
}

func (e *Environment) checkWritable() error {
	if e.closed.Load() {
		return merry.Wrap(ErrClosed).WithValue("environment", e.config.Name)
	}
	if e.config.ReadOnly {
		return merry.Wrap(ErrReadOnly).WithValue("environment", e.config.Name)
	}
	return nil
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Put stores value under key. A critical eviction runs first if the cache
// is far over budget.
func (e *Environment) Put(name string, key, value []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	db, err := e.lookup(name)
	if err != nil {
		return err
	}
	if err := e.evictor.DoCriticalEviction(true); err != nil {
		return err
	}
	if err := db.Tree().Insert(latch.NewOwner(), key, value); err != nil {
		return err
	}
	e.evictor.AlertIfNeeded()
	return nil
}

// Get returns the value stored under key
func (e *Environment) Get(name string, key []byte) ([]byte, bool, error) {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	db, err := e.lookup(name)
	if err != nil {
		return nil, false, err
	}
	value, found, err := db.Tree().Get(latch.NewOwner(), key)
	if err != nil {
		return nil, false, err
	}
	e.evictor.AlertIfNeeded()
	return value, found, nil
}

// Delete removes key. The slot stays in its BIN until the BIN is
// compressed.
func (e *Environment) Delete(name string, key []byte) (bool, error) {
	if err := e.checkWritable(); err != nil {
		return false, err
	}
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	db, err := e.lookup(name)
	if err != nil {
		return false, err
	}
	return db.Tree().Delete(latch.NewOwner(), key)
}

// --------------------------------------------------------------------------
// Durability
// --------------------------------------------------------------------------

// Sync logs all dirty nodes of one database and records its new root in
// the mapping tree. Returns the number of nodes logged.
func (e *Environment) Sync(name string) (int, error) {
	if err := e.checkWritable(); err != nil {
		return 0, err
	}
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	db, err := e.lookup(name)
	if err != nil {
		return 0, err
	}
	return e.sync(db)
}

// Checkpoint syncs every database including the catalog
func (e *Environment) Checkpoint() (int, error) {
	if err := e.checkWritable(); err != nil {
		return 0, err
	}
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	total := 0
	for _, db := range e.allDatabases() {
		n, err := e.sync(db)
		total += n
		if err != nil {
			return total, err
		}
	}
	Logger.Debugf("%s: checkpoint logged %d nodes", e.config.Name, total)
	return total, nil
}

func (e *Environment) sync(db *tree.Database) (int, error) {
	n, err := e.checkpoint.Run(latch.NewOwner(), db)
	if err != nil {
		return n, merry.Wrap(err).WithValue("database", db.Name())
	}
	if n > 0 {
		if err := e.log.ModifyDbRoot(db); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SimulateRecovery loads every logged node into the cache and marks all
// resident nodes dirty, the way replaying the log leaves the cache of a
// freshly opened environment. Returns the number of dirtied nodes.
func (e *Environment) SimulateRecovery() (int, error) {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	owner := latch.NewOwner()
	total := 0
	for _, db := range e.allDatabases() {
		if _, err := db.Tree().Preload(owner); err != nil {
			return total, merry.Wrap(err).WithValue("database", db.Name())
		}
		total += db.Tree().DirtyResident(owner)
	}
	e.evictor.AlertIfNeeded()
	return total, nil
}

func (e *Environment) allDatabases() []*tree.Database {
	out := []*tree.Database{e.naming}
	for _, name := range e.Databases() {
		if db, ok := e.dbs.Load(name); ok {
			out = append(out, db)
		}
	}
	return out
}

// Reopen checkpoints and closes a private environment, then opens a new one
// with the given configuration on the same log. Databases start with no
// resident nodes.
func (e *Environment) Reopen(config Config) (*Environment, error) {
	if e.cache != nil {
		return nil, merry.New("environments of a shared cache cannot be reopened").
			WithValue("environment", e.config.Name)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !e.config.ReadOnly {
		if _, err := e.Checkpoint(); err != nil {
			return nil, err
		}
	}

	e.catalogMu.RLock()
	catalog := make(map[string]*tree.Database)
	for _, db := range e.allDatabases()[1:] {
		catalog[db.Name()] = db
	}
	nextID := e.nextID.Load()
	e.catalogMu.RUnlock()

	if err := e.Close(); err != nil {
		return nil, err
	}

	b, err := budget.New(config.Budget)
	if err != nil {
		return nil, err
	}
	n := newEnvironment(uuid.NewString(), config, b, e.log)
	for name, db := range catalog {
		n.dbs.Store(name, n.attach(db.ID(), name, db.Config()))
	}
	n.nextID.Store(nextID)
	if n.evictor, err = evictor.New(config.Evictor, n.tenant); err != nil {
		return nil, err
	}
	if config.RunDaemon {
		n.evictor.Start()
	}
	Logger.Infof("reopened environment %s as %s, read-only %t", e.id, n.id, config.ReadOnly)
	return n, nil
}

// --------------------------------------------------------------------------
// Cache management
// --------------------------------------------------------------------------

// SetCacheSize resizes the cache. For an environment of a shared cache the
// shared cache is resized.
func (e *Environment) SetCacheSize(maxMemory int64) error {
	if e.closed.Load() {
		return merry.Wrap(ErrClosed).WithValue("environment", e.config.Name)
	}
	if e.cache != nil {
		return e.cache.SetCacheSize(maxMemory)
	}
	if err := e.budget.SetMaxMemory(maxMemory); err != nil {
		return err
	}
	e.evictor.AlertIfNeeded()
	return nil
}

// Evict runs one manual eviction pass in the calling goroutine
func (e *Environment) Evict() error {
	if e.closed.Load() {
		return merry.Wrap(ErrClosed).WithValue("environment", e.config.Name)
	}
	return e.evictor.RunEviction(evictor.SourceManual, false, false)
}

// Stats returns a snapshot of the environment. Evictor counters are reset
// if clear is set.
func (e *Environment) Stats(clear bool) Stats {
	return Stats{
		ID:            e.id,
		Name:          e.config.Name,
		ReadOnly:      e.config.ReadOnly,
		Databases:     e.dbs.Size(),
		ResidentNodes: e.registry.Size(),
		TreeUsage:     e.budget.TreeUsage(),
		AdminUsage:    e.budget.AdminUsage(),
		CacheUsage:    e.budget.CacheUsage(),
		MaxMemory:     e.budget.MaxMemory(),
		Log:           e.log.Stats(),
		Evictor:       e.evictor.LoadStatistics(clear),
	}
}

// Close stops the evictor of a private cache, or detaches the environment
// from its shared cache. Closing twice is a no-op.
func (e *Environment) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.cache != nil {
		e.cache.detach(e)
	} else {
		e.evictor.Stop()
	}
	Logger.Infof("closed environment %s (%s)", e.config.Name, e.id)
	return nil
}
