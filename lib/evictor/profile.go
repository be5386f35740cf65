package evictor

import "sync"

// Profile records the ids of the victims selected in every batch
type Profile struct {
	mu      sync.Mutex
	batches [][]uint64
}

// NewProfile creates an empty profile
func NewProfile() *Profile {
	return &Profile{}
}

func (p *Profile) startBatch() {
	p.mu.Lock()
	p.batches = append(p.batches, nil)
	p.mu.Unlock()
}

func (p *Profile) record(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) == 0 {
		p.batches = append(p.batches, nil)
	}
	last := len(p.batches) - 1
	p.batches[last] = append(p.batches[last], id)
}

// Batches returns the victims of each batch in selection order
func (p *Profile) Batches() [][]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]uint64, len(p.batches))
	for i, b := range p.batches {
		out[i] = append([]uint64(nil), b...)
	}
	return out
}

// Victims returns all victims in selection order
func (p *Profile) Victims() []uint64 {
	var out []uint64
	for _, b := range p.Batches() {
		out = append(out, b...)
	}
	return out
}

// Reset forgets all recorded batches
func (p *Profile) Reset() {
	p.mu.Lock()
	p.batches = nil
	p.mu.Unlock()
}
