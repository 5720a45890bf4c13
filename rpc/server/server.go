package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/serializer"
	"github.com/ValentinKolb/dCycle/rpc/transport"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport, serializer and the adapter answering requests as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(set),
//		serializer.NewBinarySerializer(),
//		server.NewRouterServerAdapter(r),
//	)
//
//	if err := s.Listen(); err != nil {
//		return err
//	}
//	return s.Serve(ctx)
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	adapter IRPCServerAdapter,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    adapter,
	}
}

// RPCServer answers protocol requests of all connections with one adapter.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
}

// peer adapts a transport session to IPeer
type peer struct {
	transport.ISession
	serializer serializer.IRPCSerializer
}

func (p peer) Push(msg *common.Message) error {
	data, err := p.serializer.Serialize(*msg)
	if err != nil {
		return fmt.Errorf("failed to serialize update: %w", err)
	}
	return p.ISession.Push(data)
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(session transport.ISession, req []byte) ([]byte, func()) {
		var msg common.Message
		var respMsg *common.Message
		var written func()

		// Decode the request
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg, written = s.adapter.Handle(peer{ISession: session, serializer: s.serializer}, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("Failed to serialize %s response: %v", respMsg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val, written
	})
}

// Listen opens the endpoint of the transport, it does not block
func (s *RPCServer) Listen() error {
	s.registerTransportHandler()
	return s.transport.Listen(s.config)
}

// Addr returns the address the server listens on
func (s *RPCServer) Addr() string {
	return s.transport.Addr()
}

// Serve answers requests until the context is done
func (s *RPCServer) Serve(ctx context.Context) error {
	return s.transport.Serve(ctx)
}
