package evictor

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/latch"
	"github.com/ansel1/merry"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Logger is the logger of the evictor package
var Logger = logger.GetLogger("evictor")

// Evictor frees cache memory by evicting resident tree nodes.
//
// Thread-safety: all exported methods are safe for concurrent use. Only one
// eviction pass runs at a time.
type Evictor struct {
	name    string
	config  Config
	budget  *budget.Budget
	shared  *sharedScanner
	tenants *xsync.MapOf[string, *Tenant]

	// owner of all latches taken by the active pass
	owner *latch.Owner

	scanner      Scanner
	runnableHook func() bool
	profile      *Profile

	active   atomic.Bool
	shutdown atomic.Bool
	stats    *stats

	// daemon state
	daemonMu sync.Mutex
	running  bool
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// New creates the evictor of a cache used by a single environment
func New(config Config, t *Tenant) (*Evictor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := newEvictor(t.ID, config, t.Budget)
	e.tenants.Store(t.ID, t)
	e.scanner = newSingleScanner(t)
	return e, nil
}

// NewShared creates the evictor of a cache shared by several environments.
// Tenants are added with AddTenant.
func NewShared(config Config, name string, shared *budget.Shared) (*Evictor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := newEvictor(name, config, shared.Budget)
	e.shared = newSharedScanner(shared)
	e.scanner = e.shared
	return e, nil
}

func newEvictor(name string, config Config, b *budget.Budget) *Evictor {
	e := &Evictor{
		name:    name,
		config:  config,
		budget:  b,
		tenants: xsync.NewMapOf[string, *Tenant](),
		owner:   latch.NewOwner(),
	}
	e.stats = newStats(name,
		func() float64 { return float64(e.residentNodes()) },
		func() float64 { return float64(b.CacheUsage()) },
	)
	return e
}

// AddTenant adds an environment to a shared evictor
func (e *Evictor) AddTenant(t *Tenant) error {
	if e.shared == nil {
		return merry.New("tenants can only be added to a shared evictor").WithValue("tenant", t.ID)
	}
	if _, loaded := e.tenants.LoadOrStore(t.ID, t); loaded {
		return merry.New("tenant already added").WithValue("tenant", t.ID)
	}
	e.shared.add(t)
	return nil
}

// RemoveTenant removes an environment from a shared evictor
func (e *Evictor) RemoveTenant(id string) {
	if e.shared == nil {
		return
	}
	e.tenants.Delete(id)
	e.shared.remove(id)
}

// Config returns the evictor configuration
func (e *Evictor) Config() Config { return e.config }

func (e *Evictor) residentNodes() int {
	total := 0
	e.tenants.Range(func(_ string, t *Tenant) bool {
		total += t.Registry.Size()
		return true
	})
	return total
}

// --------------------------------------------------------------------------
// Eviction passes
// --------------------------------------------------------------------------

// isRunnable returns whether there is work and how many bytes to free
func (e *Evictor) isRunnable() (bool, int64) {
	if hook := e.runnableHook; hook != nil && hook() {
		return true, e.budget.MaxMemory()
	}
	return e.budget.IsRunnable()
}

// RunEviction runs one eviction pass. It returns immediately if another pass
// is active. Non critical passes stop early once Stop was called.
func (e *Evictor) RunEviction(source string, criticalOnly, backgroundIO bool) error {
	if !e.active.CompareAndSwap(false, true) {
		return nil
	}
	defer e.active.Store(false)

	runnable, required := e.isRunnable()
	if !runnable {
		return nil
	}
	start := time.Now()
	defer e.stats.observeRun(start)
	e.stats.requiredLastPass.Store(required)

	var total int64
	for batch := 0; batch < e.config.MaxBatches; batch++ {
		if !criticalOnly && e.shutdown.Load() {
			break
		}
		freed, err := e.evictBatch(source, backgroundIO, required-total)
		total += freed
		if err != nil {
			return err
		}
		if freed == 0 || total >= required {
			break
		}
	}
	return nil
}

// evictBatch selects and evicts victims until required bytes are freed or
// every node resident at the start of the batch was iterated once.
func (e *Evictor) evictBatch(source string, backgroundIO bool, required int64) (int64, error) {
	e.stats.passes.Inc()

	var freed int64
	e.tenants.Range(func(_ string, t *Tenant) bool {
		if t.Utilization != nil {
			freed += t.Utilization.EvictMemory()
		}
		return true
	})

	e.scanner.StartBatch()
	maxCandidates := e.scanner.MaxCandidatesThisBatch()
	if maxCandidates == 0 {
		return freed, nil
	}

	var (
		scanned  int
		selected int
		evicted  int64
		err      error
	)
	if e.profile != nil {
		e.profile.startBatch()
	}

	for freed < required && scanned <= maxCandidates {
		if !e.budget.IsTreeUsageAboveMinimum() {
			break
		}

		victim, tenant, st, selErr := e.selectVictim(maxCandidates, e.config.NodesPerScan)
		scanned += st.Iterated
		if selErr != nil {
			err = selErr
			break
		}
		if victim == nil {
			break
		}
		selected++
		if e.profile != nil {
			e.profile.record(victim.ID())
		}

		bytes, evictErr := e.evict(victim, tenant, backgroundIO)
		freed += bytes
		evicted += bytes
		if evictErr != nil {
			err = evictErr
			break
		}
	}

	e.stats.nodesScanned.Add(scanned)
	e.stats.nodesSelected.Add(selected)
	e.stats.observeBatch(freed)

	Logger.Debugf("%s eviction batch: source=%s required=%d evicted=%d freed=%d resident=%d scanned=%d selected=%d",
		e.name, source, required, evicted, freed, e.residentNodes(), scanned, selected)
	return freed, err
}

// DoCriticalEviction runs an inline pass when the cache is more than the
// critical threshold over budget. Writers call it before they add to the
// cache.
func (e *Evictor) DoCriticalEviction(backgroundIO bool) error {
	if e.budget.Overage() <= e.budget.CriticalThreshold() {
		return nil
	}
	err := e.RunEviction(SourceCritical, true, backgroundIO)
	if e.config.ForcedYield {
		runtime.Gosched()
	}
	return err
}

// --------------------------------------------------------------------------
// Statistics and hooks
// --------------------------------------------------------------------------

// LoadStatistics returns the counters, and resets them if clear is set
func (e *Evictor) LoadStatistics(clear bool) Statistics {
	return e.stats.load(clear)
}

// WritePrometheus writes the evictor metrics in Prometheus text format
func (e *Evictor) WritePrometheus(w io.Writer) {
	e.stats.writePrometheus(w)
}

// IsActive reports whether a pass is running
func (e *Evictor) IsActive() bool { return e.active.Load() }

// SetRunnableHook installs a hook that forces passes to run and to target
// the whole cache whenever it returns true. Must not be called while a pass
// runs.
func (e *Evictor) SetRunnableHook(hook func() bool) { e.runnableHook = hook }

// SetScanner replaces the candidate scanner. Must not be called while a
// pass runs.
func (e *Evictor) SetScanner(s Scanner) { e.scanner = s }

// SetProfile installs a profile recording the victims of every batch. Must
// not be called while a pass runs.
func (e *Evictor) SetProfile(p *Profile) { e.profile = p }
