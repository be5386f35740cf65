// Package cmd implements the btcache command line.
//
// The package is organized into several subpackages:
//
//   - serve: opens a shared cache with one environment per name, runs the
//     evictor daemon, serves the admin API and optionally a synthetic load
//   - admin: stats, evict, alert and resize against a running server
//   - simulate: an in-process workload that prints throughput and eviction
//     statistics
//   - util: flag setup and viper helpers shared by the commands
//
// Every flag can also be set through an environment variable named
// BTCACHE_<FLAG>, with dashes replaced by underscores. .env and .env.local
// are loaded first.
package cmd
