// Package server implements the admin server of a shared cache.
//
// Each configured shard maps a shard id to the name of an environment that
// is open in the cache. Requests are decoded with the configured serializer
// and executed by an IRPCServerAdapter; the only adapter translates stats,
// evict, alert and resize requests into calls on the environment.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint: "0.0.0.0:8080",
//	  LogLevel: "info",
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Environment: "orders"},
//	    {ShardID: 2, Environment: "users"},
//	  },
//	}
//
//	s := server.NewRPCServer(config, cache, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server registers a metrics writer with the transport that exports the
// evictor statistics, the tree usage of every environment and the process
// metrics.
//
// Requests are handled concurrently. Serve must be called only once.
package server
