// Package server implements the protocol server of the runtime. Tools connect to it to list
// paths, to read, write and persist values and to subscribe to outputs and parameters.
//
// The package focuses on:
//   - Decoding requests with the configured serializer and encoding the responses
//   - Adapter pattern to decouple the data access from the RPC mechanisms
//   - Pushing subscription updates to the connection that subscribed
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests of a peer.
//
//   - NewRouterServerAdapter: Adapter answering requests from a router.Router. Values are
//     encoded in the format of the request (text or binary). Every subscription gets a
//     forwarding goroutine that pushes Update messages carrying the client chosen id. When the
//     connection ends all its subscriptions are closed.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	s := server.NewRPCServer(
//	  common.ServerConfig{Endpoint: "0.0.0.0:1337", Transport: "tcp", TimeoutSecond: 5},
//	  tcp.NewTCPServerTransport(set),
//	  serializer.NewBinarySerializer(),
//	  server.NewRouterServerAdapter(r),
//	)
//	if err := s.Listen(); err != nil {
//	  return err
//	}
//	return s.Serve(ctx)
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Each request is processed independently.
//	Listen should be called only once.
package server
