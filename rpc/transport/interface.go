package transport

import (
	"context"

	"github.com/ValentinKolb/dCycle/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ISession is one connected client as seen by the server.
// A session lives as long as its connection.
type ISession interface {
	// ID returns the unique id of the session
	ID() string
	// RemoteAddr returns the address of the client
	RemoteAddr() string
	// Push sends a frame to the client that is not the response to a request
	Push(payload []byte) error
	// Done is closed when the connection of the session ended
	Done() <-chan struct{}
}

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the session of the connection and a request as parameters and returns a response.
// The optional written func is called once the response was written (or writing it failed),
// pushes made from it reach the client after the response.
type ServerHandleFunc func(session ISession, req []byte) (resp []byte, written func())

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen opens the listener, it does not block
	Listen(config common.ServerConfig) error
	// Addr returns the address of the open listener
	Addr() string
	// Serve accepts connections until the context is done, then closes all connections
	Serve(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// PushHandleFunc handles frames pushed by the server.
type PushHandleFunc func(payload []byte)

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// OnPush registers the handler for pushed frames, must be called before Connect
	OnPush(handler PushHandleFunc)
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(ctx context.Context, req []byte) (resp []byte, err error)
	// Done is closed when the connection was lost or closed
	Done() <-chan struct{}
	// Close closes the transport connection
	Close() error
}
