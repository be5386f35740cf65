package client

import (
	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/serializer"
	"github.com/ValentinKolb/btcache/rpc/transport"
)

// IAdminClient administers one environment of a remote shared cache
type IAdminClient interface {
	// Stats returns the statistics of the environment and optionally resets
	// the evictor counters
	Stats(clear bool) (*env.Stats, error)
	// Evict runs a manual eviction pass and returns the statistics after it
	Evict() (*env.Stats, error)
	// Alert wakes the evictor daemon and reports whether there was work
	Alert() (bool, error)
	// Resize changes the size of the cache
	Resize(bytes int64) error
	// Close closes the underlying transport
	Close() error
}

// NewRPCAdminClient connects the transport and returns an admin client for
// the given shard
func NewRPCAdminClient(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IAdminClient, error) {
	// Connect the transport before the first request
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcAdminClient{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcAdminClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IAdminClient)
// --------------------------------------------------------------------------

func (c *rpcAdminClient) Stats(clear bool) (*env.Stats, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewStatsRequest(clear), c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

func (c *rpcAdminClient) Evict() (*env.Stats, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewEvictRequest(), c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

func (c *rpcAdminClient) Alert() (bool, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewAlertRequest(), c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *rpcAdminClient) Resize(bytes int64) error {
	_, err := invokeRPCRequest(c.shardId, common.NewResizeRequest(bytes), c.transport, c.serializer)
	return err
}

func (c *rpcAdminClient) Close() error {
	Logger.Debugf("closing admin client of shard %d", c.shardId)
	return c.transport.Close()
}
