// Package rpc exposes the administration of a shared cache over the network.
//
// The package is organized into several subpackages:
//
//   - common: the admin Message protocol, server and client configuration,
//     and the logger factory installed into dragonboats logger registry.
//
//   - transport: the transport contract and its HTTP implementation, which
//     also serves the Prometheus metrics of the evictor.
//
//   - serializer: JSON and GOB encodings of Message.
//
//   - server: routes requests addressed to a shard id to the environment
//     configured for that shard.
//
//   - client: IAdminClient, the remote view of one environment.
package rpc
