package client

import (
	"context"
	"fmt"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/serializer"
	"github.com/ValentinKolb/dCycle/rpc/transport"
)

var (
	Logger = logger.GetLogger("client")
)

// invokeRPCRequest is the helper used by all client methods to send requests
// It takes a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(ctx context.Context, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.Send(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC Client - Error: %s", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError {
		return nil, resp.Err()
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC Client - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Failed requests carry the reason
	if err := resp.Err(); err != nil {
		return nil, err
	}

	return resp, nil
}
