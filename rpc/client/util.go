package client

import (
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/serializer"
	"github.com/ValentinKolb/btcache/rpc/transport"
	"github.com/ansel1/merry"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")

	// ErrRemote is returned when the server answered with an error
	ErrRemote = merry.New("remote error")
	// ErrProtocol is returned for responses that cannot be decoded or do not match the request
	ErrProtocol = merry.New("protocol error")
)

// rpcClientAdapter stores everything an RPC client needs to send requests
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest sends req to the shard and returns the response. Error
// responses and responses of an unexpected type are turned into errors.
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.Send(shardId, reqBytes)
	if err != nil {
		return nil, merry.Wrap(err).WithValue("shard", shardId)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, merry.WithMessage(ErrProtocol, err.Error()).WithValue("shard", shardId)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, merry.WithMessage(ErrRemote, resp.Err).WithValue("shard", shardId)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, merry.WithMessagef(ErrProtocol, "unexpected message type: %s, expected %s", resp.MsgType, req.MsgType).
			WithValue("shard", shardId)
	}

	// Return the response
	return resp, nil
}
