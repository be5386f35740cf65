package registry

import (
	"sync"

	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/google/btree"
)

// degree of the backing btree
const degree = 32

type entry struct {
	id   uint64
	node *tree.Node
}

func lessEntry(a, b entry) bool { return a.id < b.id }

// Registry is the set of resident nodes of one cache.
type Registry struct {
	mu    sync.RWMutex
	nodes *btree.BTreeG[entry]
}

// New creates an empty registry
func New() *Registry {
	return &Registry{nodes: btree.NewG[entry](degree, lessEntry)}
}

// Add registers a node as resident. Adding a node twice is a no-op.
func (r *Registry) Add(n *tree.Node) {
	r.mu.Lock()
	r.nodes.ReplaceOrInsert(entry{id: n.ID(), node: n})
	r.mu.Unlock()
	n.SetResident(true)
}

// Remove unregisters a node. It returns false if the node was not resident.
func (r *Registry) Remove(n *tree.Node) bool {
	r.mu.Lock()
	old, ok := r.nodes.Get(entry{id: n.ID()})
	// a node fetched again after eviction reuses its id, only drop this one
	if ok && old.node == n {
		r.nodes.Delete(old)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		n.SetResident(false)
	}
	return ok
}

// Contains reports whether the node is registered
func (r *Registry) Contains(n *tree.Node) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes.Get(entry{id: n.ID()})
	return ok && e.node == n
}

// Size returns the number of resident nodes
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes.Len()
}

// RemoveDatabase drops every node of the database with the given id. It is
// the delete post-processing step that must run before the database is
// marked as finished. Returns the number of nodes removed and their total
// budgeted size.
func (r *Registry) RemoveDatabase(dbID uint64) (int, int64) {
	var victims []entry
	r.mu.Lock()
	r.nodes.Ascend(func(e entry) bool {
		if e.node.Database().ID() == dbID {
			victims = append(victims, e)
		}
		return true
	})
	for _, e := range victims {
		r.nodes.Delete(e)
	}
	r.mu.Unlock()

	var bytes int64
	for _, e := range victims {
		e.node.SetResident(false)
		bytes += e.node.InMemorySize()
	}
	return len(victims), bytes
}

// Nodes returns a snapshot of all resident nodes in id order
func (r *Registry) Nodes() []*tree.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*tree.Node, 0, r.nodes.Len())
	r.nodes.Ascend(func(e entry) bool {
		out = append(out, e.node)
		return true
	})
	return out
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// Cursor iterates the registry in id order. Next returns nil once after the
// last node, the following call starts over at the smallest id.
type Cursor struct {
	r       *Registry
	last    uint64
	started bool
}

// Cursor returns a new cursor positioned before the first node
func (r *Registry) Cursor() *Cursor {
	return &Cursor{r: r}
}

// Next returns the node following the last returned one, or nil at the end
// of a pass. An empty registry always yields nil.
func (c *Cursor) Next() *tree.Node {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()

	var next *tree.Node
	visit := func(e entry) bool {
		next = e.node
		c.last = e.id
		return false
	}

	if !c.started {
		c.r.nodes.Ascend(visit)
	} else if c.last < ^uint64(0) {
		c.r.nodes.AscendGreaterOrEqual(entry{id: c.last + 1}, visit)
	}

	c.started = next != nil
	return next
}

// Reset moves the cursor before the first node
func (c *Cursor) Reset() {
	c.started = false
	c.last = 0
}
