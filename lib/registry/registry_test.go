package registry

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNodes(db *tree.Database, n int) []*tree.Node {
	nodes := make([]*tree.Node, n)
	for i := range nodes {
		nodes[i] = tree.NewBIN(db)
	}
	return nodes
}

func TestAddRemove(t *testing.T) {
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), nil)
	r := New()
	nodes := newNodes(db, 3)

	for _, n := range nodes {
		r.Add(n)
		assert.True(t, n.IsResident())
	}
	r.Add(nodes[0])
	assert.Equal(t, 3, r.Size())
	assert.True(t, r.Contains(nodes[1]))

	assert.True(t, r.Remove(nodes[1]))
	assert.False(t, r.Remove(nodes[1]))
	assert.False(t, nodes[1].IsResident())
	assert.False(t, r.Contains(nodes[1]))
	assert.Equal(t, 2, r.Size())
}

func TestCursorWraps(t *testing.T) {
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), nil)
	r := New()
	nodes := newNodes(db, 3)
	for _, n := range nodes {
		r.Add(n)
	}

	c := r.Cursor()
	for round := 0; round < 2; round++ {
		for _, n := range nodes {
			assert.Same(t, n, c.Next())
		}
		assert.Nil(t, c.Next(), "end of pass %d", round)
	}
}

func TestCursorOnEmptyRegistry(t *testing.T) {
	c := New().Cursor()
	assert.Nil(t, c.Next())
	assert.Nil(t, c.Next())
}

func TestCursorToleratesRemoval(t *testing.T) {
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), nil)
	r := New()
	nodes := newNodes(db, 5)
	for _, n := range nodes {
		r.Add(n)
	}

	c := r.Cursor()
	require.Same(t, nodes[0], c.Next())
	require.Same(t, nodes[1], c.Next())

	// remove the node just returned and one that is still ahead
	r.Remove(nodes[1])
	r.Remove(nodes[3])

	assert.Same(t, nodes[2], c.Next())
	assert.Same(t, nodes[4], c.Next())
	assert.Nil(t, c.Next())
	assert.Same(t, nodes[0], c.Next())
}

func TestRemoveDatabase(t *testing.T) {
	a := tree.NewDatabase(10, "a", tree.DefaultDatabaseConfig(), nil)
	b := tree.NewDatabase(11, "b", tree.DefaultDatabaseConfig(), nil)
	r := New()
	for _, n := range append(newNodes(a, 4), newNodes(b, 2)...) {
		r.Add(n)
	}

	count, bytes := r.RemoveDatabase(a.ID())
	assert.Equal(t, 4, count)
	assert.Equal(t, 4*tree.NodeOverhead, bytes)
	assert.Equal(t, 2, r.Size())
	for _, n := range r.Nodes() {
		assert.Equal(t, b.ID(), n.Database().ID())
	}
}

func TestConcurrentScanAndMutation(t *testing.T) {
	db := tree.NewDatabase(10, "db", tree.DefaultDatabaseConfig(), nil)
	r := New()
	nodes := newNodes(db, 200)
	for _, n := range nodes {
		r.Add(n)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i, n := range nodes {
			if i%2 == 0 {
				r.Remove(n)
			}
		}
	}()
	go func() {
		defer wg.Done()
		c := r.Cursor()
		for i := 0; i < 1000; i++ {
			c.Next()
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, r.Size())
}
