package server

import (
	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// Handle executes req against the environment of the shard and returns the
// response. Errors are reported in the response, never returned.
type IRPCServerAdapter interface {
	Handle(req *common.Message, e *env.Environment) (resp *common.Message)
}
