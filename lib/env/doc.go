// Package env wires the tree, the log, the budget and the evictor into an
// Environment: a set of named databases served from one cache.
//
// An Environment opened with Open owns a private cache and evictor. A
// SharedCache lets several environments share one budget and one evictor,
// each environment then is a tenant of the shared cache.
//
// Writers run a critical eviction before they add to the cache, and alert
// the evictor daemon afterwards:
//
//	e, _ := env.Open(env.DefaultConfig())
//	defer e.Close()
//	db, _ := e.CreateDatabase("users", tree.DefaultDatabaseConfig())
//	_ = e.Put(db.Name(), []byte("k"), []byte("v"))
//
// Thread-safety:
//
//	All methods of Environment and SharedCache are safe for concurrent use.
package env
