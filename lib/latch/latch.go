package latch

import (
	"sync"
	"sync/atomic"

	"github.com/ansel1/merry"
)

var (
	// ErrNotOwner is returned when a latch is released by an owner that
	// does not hold it.
	ErrNotOwner = merry.New("latch not held by owner")

	nextOwnerID atomic.Uint64
)

// --------------------------------------------------------------------------
// Owner
// --------------------------------------------------------------------------

// Owner identifies the holder of a set of latches.
type Owner struct {
	id   uint64
	held atomic.Int32
}

// NewOwner creates a new owner with a process unique id
func NewOwner() *Owner {
	return &Owner{id: nextOwnerID.Add(1)}
}

// ID returns the owner id
func (o *Owner) ID() uint64 {
	return o.id
}

// Held returns the number of latches currently held by this owner
func (o *Owner) Held() int {
	return int(o.held.Load())
}

// --------------------------------------------------------------------------
// Latch
// --------------------------------------------------------------------------

// Latch is an exclusive, non-reentrant latch with owner tracking.
type Latch struct {
	name  string
	mu    sync.Mutex
	owner atomic.Pointer[Owner]
}

// New creates a new latch, the name is only used in error messages
func New(name string) *Latch {
	return &Latch{name: name}
}

// Name returns the name of the latch
func (l *Latch) Name() string {
	return l.name
}

// Acquire blocks until the latch is held by o.
func (l *Latch) Acquire(o *Owner) {
	l.mu.Lock()
	l.owner.Store(o)
	o.held.Add(1)
}

// TryAcquire acquires the latch if it is free and reports whether it did.
// It never blocks.
func (l *Latch) TryAcquire(o *Owner) bool {
	if !l.mu.TryLock() {
		return false
	}
	l.owner.Store(o)
	o.held.Add(1)
	return true
}

// Release releases the latch. It returns ErrNotOwner if o does not hold it.
func (l *Latch) Release(o *Owner) error {
	if l.owner.Load() != o {
		return merry.Wrap(ErrNotOwner).WithValue("latch", l.name)
	}
	l.owner.Store(nil)
	o.held.Add(-1)
	l.mu.Unlock()
	return nil
}

// ReleaseIfOwner releases the latch if o holds it and reports whether it did.
func (l *Latch) ReleaseIfOwner(o *Owner) bool {
	return l.Release(o) == nil
}

// IsOwner reports whether o currently holds the latch
func (l *Latch) IsOwner(o *Owner) bool {
	return o != nil && l.owner.Load() == o
}

// IsHeld reports whether any owner holds the latch
func (l *Latch) IsHeld() bool {
	return l.owner.Load() != nil
}
