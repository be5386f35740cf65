package server

import (
	"fmt"

	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/rpc/common"
)

func NewAdminServerAdapter() IRPCServerAdapter {
	return &adminServerAdapterImpl{}
}

type adminServerAdapterImpl struct{}

func (adapter *adminServerAdapterImpl) Handle(req *common.Message, e *env.Environment) *common.Message {
	if e == nil {
		return common.NewErrorResponse("handler: environment is nil")
	}

	// Handle the request based on the message type
	switch req.MsgType {
	case common.MsgTStats:
		stats := e.Stats(req.Clear)
		return common.NewStatsResponse(&stats, nil)
	case common.MsgTEvict:
		// Run the pass, then report the stats after it
		err := e.Evict()
		stats := e.Stats(false)
		return common.NewEvictResponse(&stats, err)
	case common.MsgTAlert:
		return common.NewAlertResponse(e.Evictor().AlertIfNeeded())
	case common.MsgTResize:
		return common.NewResizeResponse(e.SetCacheSize(req.Bytes))
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC AdminAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
