package transport

import (
	"context"
	"io"

	"github.com/ValentinKolb/btcache/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is called by a server transport when a request is received.
// It takes the shard id and the serialized request and returns the serialized
// response.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// MetricsWriteFunc writes metrics in the Prometheus text format
type MetricsWriteFunc func(w io.Writer)

// IRPCServerTransport is the interface for the admin transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler for admin requests. The transport
	// is responsible for extracting the shard id from the request.
	RegisterHandler(handler ServerHandleFunc)
	// RegisterMetrics registers the writer used to answer metric scrapes
	RegisterMetrics(writer MetricsWriteFunc)
	// Listen serves requests until ctx is cancelled
	Listen(ctx context.Context, config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the admin client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
