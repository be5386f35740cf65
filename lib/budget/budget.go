package budget

import (
	"sync"
	"sync/atomic"
)

// Budget tracks the memory usage of one cache, or of one tenant of a shared
// cache.
//
// Thread-safety: usage counters are atomic. SetMaxMemory is serialized by a
// mutex, readers of the maximum never block.
type Budget struct {
	mu     sync.Mutex // reconfiguration
	config Config

	maxMemory atomic.Int64
	critical  atomic.Int64

	treeUsage  atomic.Int64
	adminUsage atomic.Int64

	forceRunnable atomic.Bool

	// set for tenants of a shared cache
	parent *Budget
}

// New creates a budget from a validated configuration
func New(config Config) (*Budget, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	b := &Budget{config: config}
	b.maxMemory.Store(config.MaxMemory)
	b.critical.Store(criticalThreshold(config.MaxMemory, config.CriticalPercentage))
	return b, nil
}

func criticalThreshold(maxMemory int64, pct int) int64 {
	return maxMemory * int64(pct) / 100
}

// Config returns the configuration, with the current maximum
func (b *Budget) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.config
	c.MaxMemory = b.maxMemory.Load()
	return c
}

// --------------------------------------------------------------------------
// Usage counters
// --------------------------------------------------------------------------

// UpdateTreeUsage adds delta to the tree node usage
func (b *Budget) UpdateTreeUsage(delta int64) {
	b.treeUsage.Add(delta)
	if b.parent != nil {
		b.parent.UpdateTreeUsage(delta)
	}
}

// UpdateAdminUsage adds delta to the usage of administrative structures
func (b *Budget) UpdateAdminUsage(delta int64) {
	b.adminUsage.Add(delta)
	if b.parent != nil {
		b.parent.UpdateAdminUsage(delta)
	}
}

// TreeUsage returns the bytes used by resident tree nodes
func (b *Budget) TreeUsage() int64 { return b.treeUsage.Load() }

// AdminUsage returns the bytes used by administrative structures
func (b *Budget) AdminUsage() int64 { return b.adminUsage.Load() }

// CacheUsage returns the total usage including the log buffers
func (b *Budget) CacheUsage() int64 {
	return b.treeUsage.Load() + b.adminUsage.Load() + b.config.LogBufferBytes
}

// --------------------------------------------------------------------------
// Limits
// --------------------------------------------------------------------------

// MaxMemory returns the configured cache size
func (b *Budget) MaxMemory() int64 { return b.maxMemory.Load() }

// CriticalThreshold returns the overage above which writers evict inline
func (b *Budget) CriticalThreshold() int64 { return b.critical.Load() }

// EvictBytes returns the eviction margin
func (b *Budget) EvictBytes() int64 { return b.config.EvictBytes }

// SetMaxMemory changes the cache size and recomputes the critical threshold
func (b *Budget) SetMaxMemory(maxMemory int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.config
	c.MaxMemory = maxMemory
	if err := c.Validate(); err != nil {
		return err
	}
	b.config = c
	b.maxMemory.Store(maxMemory)
	b.critical.Store(criticalThreshold(maxMemory, c.CriticalPercentage))
	return nil
}

// Overage returns how many bytes the cache is above its maximum, negative
// when it is below
func (b *Budget) Overage() int64 {
	return b.CacheUsage() - b.MaxMemory()
}

// IsRunnable reports whether eviction has work to do and how many bytes it
// should free. The target is the overage plus the eviction margin, capped so
// the usage never drops below half of the maximum in one run.
func (b *Budget) IsRunnable() (bool, int64) {
	maxMemory := b.MaxMemory()
	if b.forceRunnable.Load() {
		return true, maxMemory
	}

	usage := b.CacheUsage()
	over := usage - maxMemory
	if over <= 0 {
		return false, 0
	}
	required := over + b.config.EvictBytes
	if usage-required < maxMemory/2 {
		required = usage - maxMemory/2
	}
	return true, required
}

// IsTreeUsageAboveMinimum reports whether there is enough tree usage left to
// make scanning worthwhile
func (b *Budget) IsTreeUsageAboveMinimum() bool {
	return b.TreeUsage() > b.config.MinTreeUsage
}

// ForceRunnable makes IsRunnable report the full cache size as required
// bytes regardless of the real usage
func (b *Budget) ForceRunnable(force bool) { b.forceRunnable.Store(force) }
