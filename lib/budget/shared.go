package budget

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Shared is the budget of a cache shared by several environments
type Shared struct {
	*Budget
	tenants *xsync.MapOf[string, *Budget]
}

// Share is the part of a shared cache attributed to one tenant
type Share struct {
	ID     string
	Usage  int64
	Weight int64
}

// NewShared creates the budget of a shared cache
func NewShared(config Config) (*Shared, error) {
	b, err := New(config)
	if err != nil {
		return nil, err
	}
	return &Shared{Budget: b, tenants: xsync.NewMapOf[string, *Budget]()}, nil
}

// NewTenant creates the budget of one environment of the shared cache. All
// its usage is also counted in the shared total, and its limits are the
// limits of the shared cache.
func (s *Shared) NewTenant(id string) *Budget {
	t := &Budget{config: s.config, parent: s.Budget}
	t.maxMemory.Store(s.MaxMemory())
	t.critical.Store(s.CriticalThreshold())
	t.config.LogBufferBytes = 0
	s.tenants.Store(id, t)
	return t
}

// RemoveTenant detaches a tenant. Its remaining usage is released from the
// shared total.
func (s *Shared) RemoveTenant(id string) {
	t, ok := s.tenants.LoadAndDelete(id)
	if !ok {
		return
	}
	s.UpdateTreeUsage(-t.TreeUsage())
	s.UpdateAdminUsage(-t.AdminUsage())
}

// Tenants returns the number of tenants
func (s *Shared) Tenants() int { return s.tenants.Size() }

// SetMaxMemory resizes the shared cache and all tenant limits
func (s *Shared) SetMaxMemory(maxMemory int64) error {
	if err := s.Budget.SetMaxMemory(maxMemory); err != nil {
		return err
	}
	s.tenants.Range(func(_ string, t *Budget) bool {
		t.maxMemory.Store(maxMemory)
		t.critical.Store(s.CriticalThreshold())
		return true
	})
	return nil
}

// Shares returns the weight of every tenant, sorted by id. A tenant weighs
// its usage plus whatever it uses beyond an even split of the cache, so
// tenants above their fair share are scanned more often.
func (s *Shared) Shares() []Share {
	n := int64(s.tenants.Size())
	if n == 0 {
		return nil
	}
	fair := s.MaxMemory() / n

	shares := make([]Share, 0, n)
	s.tenants.Range(func(id string, t *Budget) bool {
		usage := t.TreeUsage()
		weight := usage
		if usage > fair {
			weight += usage - fair
		}
		shares = append(shares, Share{ID: id, Usage: usage, Weight: weight})
		return true
	})
	sort.Slice(shares, func(i, j int) bool { return shares[i].ID < shares[j].ID })
	return shares
}
