package env

import (
	"sort"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/evictor"
	"github.com/ValentinKolb/btcache/lib/wal"
	"github.com/ansel1/merry"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// SharedCache is a cache whose budget and evictor are shared by several
// environments.
type SharedCache struct {
	name    string
	budget  *budget.Shared
	evictor *evictor.Evictor
	envs    *xsync.MapOf[string, *Environment]
}

// NewSharedCache creates an empty shared cache. The evictor daemon is not
// started, see Start.
func NewSharedCache(name string, bc budget.Config, ec evictor.Config) (*SharedCache, error) {
	b, err := budget.NewShared(bc)
	if err != nil {
		return nil, err
	}
	ev, err := evictor.NewShared(ec, name, b)
	if err != nil {
		return nil, err
	}
	return &SharedCache{
		name:    name,
		budget:  b,
		evictor: ev,
		envs:    xsync.NewMapOf[string, *Environment](),
	}, nil
}

// Open opens an environment in the shared cache. The budget and evictor
// settings of config are ignored.
func (c *SharedCache) Open(config Config) (*Environment, error) {
	if config.Name == "" {
		return nil, merry.New("environment name must not be empty")
	}

	id := uuid.NewString()
	e, loaded := c.envs.LoadOrCompute(config.Name, func() *Environment {
		e := newEnvironment(id, config, c.budget.NewTenant(id), wal.NewMemLog(config.LogFileSize))
		e.cache = c
		e.evictor = c.evictor
		return e
	})
	if loaded {
		return nil, merry.New("environment already open in shared cache").WithValue("environment", config.Name)
	}

	if err := c.evictor.AddTenant(e.tenant); err != nil {
		c.envs.Delete(config.Name)
		c.budget.RemoveTenant(id)
		return nil, err
	}
	Logger.Infof("opened environment %s (%s) in shared cache %s", config.Name, e.id, c.name)
	return e, nil
}

// Environment returns the open environment with the given name
func (c *SharedCache) Environment(name string) (*Environment, bool) {
	return c.envs.Load(name)
}

// Environments returns all open environments sorted by name
func (c *SharedCache) Environments() []*Environment {
	out := make([]*Environment, 0, c.envs.Size())
	c.envs.Range(func(_ string, e *Environment) bool {
		out = append(out, e)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Budget returns the shared budget
func (c *SharedCache) Budget() *budget.Shared { return c.budget }

// Evictor returns the shared evictor
func (c *SharedCache) Evictor() *evictor.Evictor { return c.evictor }

// SetCacheSize resizes the shared cache
func (c *SharedCache) SetCacheSize(maxMemory int64) error {
	if err := c.budget.SetMaxMemory(maxMemory); err != nil {
		return err
	}
	c.evictor.AlertIfNeeded()
	return nil
}

// Start starts the shared evictor daemon
func (c *SharedCache) Start() { c.evictor.Start() }

// Close closes every environment and stops the evictor daemon
func (c *SharedCache) Close() error {
	for _, e := range c.Environments() {
		if err := e.Close(); err != nil {
			return err
		}
	}
	c.evictor.Stop()
	return nil
}

func (c *SharedCache) detach(e *Environment) {
	c.envs.Delete(e.config.Name)
	c.evictor.RemoveTenant(e.id)
	c.budget.RemoveTenant(e.id)
}
