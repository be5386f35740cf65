// Package client implements the admin client of a remote shared cache.
//
// Every environment served by an admin server is addressed by a shard id.
// NewRPCAdminClient returns an IAdminClient bound to one shard; requests go
// through the configured transport and serializer.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"http://localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	admin, err := client.NewRPCAdminClient(1, config, http.NewHttpClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//	  return err
//	}
//	defer admin.Close()
//
//	stats, err := admin.Stats(false)
//
// Errors reported by the server are returned as ErrRemote, malformed or
// mismatched responses as ErrProtocol. Both can be tested with merry.Is.
//
// All clients are safe for concurrent use.
package client
