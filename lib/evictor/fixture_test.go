package evictor

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/cleaner"
	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ValentinKolb/btcache/lib/registry"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ValentinKolb/btcache/lib/wal"
	"github.com/stretchr/testify/require"
)

// residency attaches nodes of a test tree to the registry and budget
type residency struct {
	reg    *registry.Registry
	budget *budget.Budget
}

func (r residency) NodeAttached(n *tree.Node) {
	r.reg.Add(n)
	r.budget.UpdateTreeUsage(n.InMemorySize())
}

func (r residency) SizeChanged(_ *tree.Database, delta int64) {
	r.budget.UpdateTreeUsage(delta)
}

type fixture struct {
	t          *testing.T
	log        *wal.MemLog
	reg        *registry.Registry
	budget     *budget.Budget
	checkpoint *wal.Checkpoint
	profile    *cleaner.Profile
	tenant     *Tenant
	ev         *Evictor
	writer     *latch.Owner
	nextDB     uint64
}

func newFixture(t *testing.T, maxMemory int64, mutate func(c *Config)) *fixture {
	t.Helper()

	bc := budget.DefaultConfig()
	bc.MaxMemory = maxMemory
	bc.EvictBytes = budget.MinEvictBytes
	b, err := budget.New(bc)
	require.NoError(t, err)

	f := &fixture{
		t:          t,
		log:        wal.NewMemLog(0),
		reg:        registry.New(),
		budget:     b,
		checkpoint: wal.NewCheckpoint(),
		writer:     latch.NewOwner(),
		nextDB:     10,
	}
	f.profile = cleaner.NewProfile(b.UpdateAdminUsage)
	f.log.SetObserver(f.profile)
	f.tenant = &Tenant{
		ID:           "test",
		Registry:     f.reg,
		Budget:       b,
		Log:          f.log,
		MapTree:      f.log,
		Checkpointer: f.checkpoint,
		Utilization:  f.profile,
	}

	c := DefaultConfig()
	if mutate != nil {
		mutate(&c)
	}
	f.ev, err = New(c, f.tenant)
	require.NoError(t, err)
	return f
}

func (f *fixture) newDB(config tree.DatabaseConfig) *tree.Database {
	f.nextDB++
	db := tree.NewDatabase(f.nextDB, fmt.Sprintf("db-%d", f.nextDB), config, f.log)
	db.Tree().SetListener(residency{reg: f.reg, budget: f.budget})
	return db
}

func (f *fixture) fill(db *tree.Database, n, valueSize int) {
	f.t.Helper()
	value := make([]byte, valueSize)
	for i := 0; i < n; i++ {
		require.NoError(f.t, db.Tree().Insert(f.writer, testKey(i), value))
	}
}

func testKey(i int) []byte { return []byte(fmt.Sprintf("key-%06d", i)) }

// twoBINs builds a tree with an IN root and two BINs holding leaves
func (f *fixture) twoBINs(config tree.DatabaseConfig) (*tree.Database, *tree.Node) {
	f.t.Helper()
	config.MaxEntries = 4
	db := f.newDB(config)
	f.fill(db, 6, 16)
	root := db.Tree().ResidentRoot()
	require.Equal(f.t, tree.KindIN, root.Kind())
	require.Equal(f.t, 2, root.NEntries())
	return db, root
}

// residentTotal sums the budgeted size of all registered nodes
func (f *fixture) residentTotal() int64 {
	var total int64
	for _, n := range f.reg.Nodes() {
		total += n.InMemorySize()
	}
	return total
}

// stripAll strips the leaves of every BIN below root
func (f *fixture) stripAll(root *tree.Node) {
	f.t.Helper()
	for i := 0; i < root.NEntries(); i++ {
		bin := root.Target(i)
		require.NotNil(f.t, bin)
		freed, err := f.ev.evict(bin, f.tenant, false)
		require.NoError(f.t, err)
		require.Positive(f.t, freed)
	}
}
