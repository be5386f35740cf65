package evictor

import (
	"github.com/ValentinKolb/btcache/lib/latch"
)

// latchGuard records the latches taken during one eviction attempt. Every
// exit path calls releaseAll, which releases whatever is still held in
// reverse order of acquisition, so a child is always released before its
// parent.
type latchGuard struct {
	owner *latch.Owner
	held  []*latch.Latch
}

func newLatchGuard(owner *latch.Owner) *latchGuard {
	return &latchGuard{owner: owner}
}

// acquire blocks until l is held
func (g *latchGuard) acquire(l *latch.Latch) {
	l.Acquire(g.owner)
	g.held = append(g.held, l)
}

// tryAcquire takes l if it is free
func (g *latchGuard) tryAcquire(l *latch.Latch) bool {
	if !l.TryAcquire(g.owner) {
		return false
	}
	g.held = append(g.held, l)
	return true
}

// adopt takes over a latch acquired on behalf of the owner, e.g. the parent
// returned by FindParent
func (g *latchGuard) adopt(l *latch.Latch) {
	g.held = append(g.held, l)
}

// release releases l early
func (g *latchGuard) release(l *latch.Latch) error {
	for i := len(g.held) - 1; i >= 0; i-- {
		if g.held[i] == l {
			g.held = append(g.held[:i], g.held[i+1:]...)
			return l.Release(g.owner)
		}
	}
	return nil
}

// holds reports whether l is tracked by the guard
func (g *latchGuard) holds(l *latch.Latch) bool {
	for _, h := range g.held {
		if h == l {
			return true
		}
	}
	return false
}

// releaseAll releases every tracked latch, newest first
func (g *latchGuard) releaseAll() {
	for i := len(g.held) - 1; i >= 0; i-- {
		g.held[i].ReleaseIfOwner(g.owner)
	}
	g.held = g.held[:0]
}
