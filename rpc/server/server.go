package server

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/serializer"
	"github.com/ValentinKolb/btcache/rpc/transport"
	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/ansel1/merry"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is one administered environment and the adapter that handles
// requests for it
type serverShard struct {
	Env     *env.Environment
	Adapter IRPCServerAdapter
}

// NewRPCServer creates the admin server of a shared cache.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		cache,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	cache *env.SharedCache,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		cache:      cache,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer routes admin requests to the environments of a shared cache
type RPCServer struct {
	config     common.ServerConfig
	cache      *env.SharedCache
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

// handle decodes a request, runs it against the shard and encodes the response
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg common.Message

	// Look up the shard, then decode and handle the request
	if shard, ok := s.shards.Load(shardId); !ok {
		respMsg = *common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = *common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		Logger.Debugf("shard %d: %s request", shardId, msg.MsgType)
		respMsg = *shard.Adapter.Handle(&msg, shard.Env)
	}

	// Serialize the response
	val, err := s.serializer.Serialize(respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(
			fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// writeMetrics writes the evictor and process metrics
func (s *RPCServer) writeMetrics(w io.Writer) {
	// Evictor counters of the shared cache
	s.cache.Evictor().WritePrometheus(w)
	// Per environment usage and the spread across environments
	for _, e := range s.cache.Environments() {
		fmt.Fprintf(w, "btcache_environment_tree_usage_bytes{environment=%q} %d\n", e.Name(), e.Budget().TreeUsage())
	}
	fmt.Fprintf(w, "btcache_shared_distribution_quality %g\n", s.cache.Budget().Distribution().Quality)
	// Go runtime and process metrics
	vmetrics.WriteProcessMetrics(w)
}

func (s *RPCServer) init() error {
	if s.cache == nil {
		return merry.New("rpc server needs a shared cache")
	}

	// Map every shard to its environment
	for _, shardConfig := range s.config.Shards {
		e, ok := s.cache.Environment(shardConfig.Environment)
		if !ok {
			return merry.New("environment of shard not open").
				WithValue("shard", shardConfig.ShardID).
				WithValue("environment", shardConfig.Environment)
		}
		if _, loaded := s.shards.LoadOrStore(shardConfig.ShardID, serverShard{
			Env:     e,
			Adapter: NewAdminServerAdapter(),
		}); loaded {
			return merry.New("duplicate shard id").WithValue("shard", shardConfig.ShardID)
		}
		Logger.Infof("serving environment %s as shard %d", shardConfig.Environment, shardConfig.ShardID)
	}

	// Register the handlers at the transport
	s.transport.RegisterHandler(s.handle)
	s.transport.RegisterMetrics(s.writeMetrics)
	return nil
}

// Serve initializes the shards and serves requests until ctx is cancelled
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(ctx, s.config)
}
