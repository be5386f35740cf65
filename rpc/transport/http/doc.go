// Package http implements the admin transport over HTTP.
//
// The server answers two routes:
//
//	POST /{shardId}   serialized admin request for one environment
//	GET  /metrics     Prometheus text exposition (path configurable)
//
// The client spreads requests round-robin over its endpoints. A failed
// attempt is retried against the next endpoint, up to RetryCount attempts.
//
// When the server log level is "debug" every request is logged with its
// status code and duration.
package http
