package server

import (
	"github.com/ValentinKolb/dCycle/rpc/common"
)

// IPeer is the client a request came from, as seen by an adapter.
type IPeer interface {
	// ID returns the unique id of the connection
	ID() string
	// Push sends a message that is not the response to a request
	Push(msg *common.Message) error
	// Done is closed when the connection ended
	Done() <-chan struct{}
}

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and the peer that sent it as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response
	// written (may be nil) is called after the response was written to the peer
	Handle(peer IPeer, req *common.Message) (resp *common.Message, written func())
	// Disconnect drops all state of a peer, it is called once after the connection ended
	Disconnect(peer IPeer)
}
