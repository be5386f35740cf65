// Package transport defines the contract between the admin RPC layer and the
// network. A server transport receives serialized requests addressed to a
// shard (one environment of the shared cache) and hands them to a
// ServerHandleFunc; it also answers metric scrapes. A client transport sends
// serialized requests to one of several endpoints.
//
// The only implementation lives in the http subpackage.
package transport
