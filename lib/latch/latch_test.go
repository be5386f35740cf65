package latch

import (
	"sync"
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	l := New("node-1")
	o := NewOwner()

	l.Acquire(o)
	assert.True(t, l.IsOwner(o))
	assert.True(t, l.IsHeld())
	assert.Equal(t, 1, o.Held())

	require.NoError(t, l.Release(o))
	assert.False(t, l.IsHeld())
	assert.Equal(t, 0, o.Held())
}

func TestTryAcquireNeverBlocks(t *testing.T) {
	l := New("node-2")
	a, b := NewOwner(), NewOwner()

	require.True(t, l.TryAcquire(a))
	assert.False(t, l.TryAcquire(b))
	assert.Equal(t, 0, b.Held())

	require.NoError(t, l.Release(a))
	assert.True(t, l.TryAcquire(b))
	assert.True(t, l.ReleaseIfOwner(b))
}

func TestReleaseByWrongOwner(t *testing.T) {
	l := New("node-3")
	a, b := NewOwner(), NewOwner()
	l.Acquire(a)

	err := l.Release(b)
	require.Error(t, err)
	assert.True(t, merry.Is(err, ErrNotOwner))
	assert.Equal(t, "node-3", merry.Value(err, "latch"))
	assert.False(t, l.ReleaseIfOwner(b))
	assert.True(t, l.IsOwner(a))
	assert.Equal(t, 1, a.Held())

	require.NoError(t, l.Release(a))
}

func TestExclusiveUnderContention(t *testing.T) {
	l := New("hot")
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := NewOwner()
			for j := 0; j < 1000; j++ {
				l.Acquire(o)
				counter++
				_ = l.Release(o)
			}
			assert.Equal(t, 0, o.Held())
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
}
