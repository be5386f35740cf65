package evictor

import (
	"sync"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/registry"
	"github.com/ValentinKolb/btcache/lib/tree"
)

// Scanner feeds candidate nodes to the victim selector.
//
// NextCandidate returns nil once at the end of a pass over all resident
// nodes, the following call starts a new pass. A Scanner is only used by
// the goroutine running the active eviction pass.
type Scanner interface {
	// StartBatch prepares a new batch
	StartBatch()
	// MaxCandidatesThisBatch bounds the nodes iterated by the batch
	MaxCandidatesThisBatch() int
	// NextCandidate returns the next node and the tenant owning it
	NextCandidate() (*tree.Node, *Tenant)
}

// --------------------------------------------------------------------------
// Single environment
// --------------------------------------------------------------------------

// singleScanner walks the registry of one tenant
type singleScanner struct {
	tenant *Tenant
	cursor *registry.Cursor
	max    int
}

func newSingleScanner(t *Tenant) *singleScanner {
	return &singleScanner{tenant: t, cursor: t.Registry.Cursor()}
}

func (s *singleScanner) StartBatch() {
	s.max = s.tenant.Registry.Size()
}

func (s *singleScanner) MaxCandidatesThisBatch() int { return s.max }

func (s *singleScanner) NextCandidate() (*tree.Node, *Tenant) {
	if n := s.cursor.Next(); n != nil {
		return n, s.tenant
	}
	return nil, nil
}

// --------------------------------------------------------------------------
// Shared cache
// --------------------------------------------------------------------------

// sharedScanner interleaves the registries of all tenants of a shared cache.
// Tenants are picked by smooth weighted round robin, the weights come from
// the budget shares at the start of each batch.
type sharedScanner struct {
	shared *budget.Shared

	mu      sync.Mutex
	tenants []*scanTenant
	max     int
}

type scanTenant struct {
	tenant    *Tenant
	cursor    *registry.Cursor
	weight    int64
	current   int64
	exhausted bool
}

func newSharedScanner(shared *budget.Shared) *sharedScanner {
	return &sharedScanner{shared: shared}
}

func (s *sharedScanner) add(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, &scanTenant{tenant: t, cursor: t.Registry.Cursor(), weight: 1})
}

func (s *sharedScanner) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.tenants {
		if st.tenant.ID == id {
			s.tenants = append(s.tenants[:i], s.tenants[i+1:]...)
			return true
		}
	}
	return false
}

func (s *sharedScanner) StartBatch() {
	weights := make(map[string]int64)
	for _, share := range s.shared.Shares() {
		weights[share.ID] = share.Weight
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = 0
	for _, st := range s.tenants {
		// every tenant gets a turn, even an empty one
		st.weight = weights[st.tenant.ID] + 1
		st.current = 0
		st.exhausted = false
		s.max += st.tenant.Registry.Size()
	}
}

func (s *sharedScanner) MaxCandidatesThisBatch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

func (s *sharedScanner) NextCandidate() (*tree.Node, *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		st := s.pick()
		if st == nil {
			// every tenant finished its pass, the next call starts over
			for _, t := range s.tenants {
				t.exhausted = false
			}
			return nil, nil
		}
		if n := st.cursor.Next(); n != nil {
			return n, st.tenant
		}
		st.exhausted = true
	}
}

// pick selects the next tenant that has not finished its pass
func (s *sharedScanner) pick() *scanTenant {
	var best *scanTenant
	var total int64
	for _, st := range s.tenants {
		if st.exhausted {
			continue
		}
		st.current += st.weight
		total += st.weight
		if best == nil || st.current > best.current {
			best = st
		}
	}
	if best != nil {
		best.current -= total
	}
	return best
}
