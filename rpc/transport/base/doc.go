// Package base provides a foundation for the transport layers of the communication protocol,
// implementing the core functionality independent of the specific network protocol (TCP, Unix
// sockets, websockets). It serves as a base layer that can be extended with protocol-specific
// connectors.
//
// Frames:
//
//	Stream transports (tcp, unix) write [requestID u64 BE][length u32 BE][payload].
//	Message based transports carry the same frame without the length. The request id 0 is
//	reserved for frames the server pushes without a request (subscription updates).
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - IFrameConn/IFrameListener: A connection that reads and writes whole frames. Stream
//     connections are wrapped with NewStreamConn and NewStreamListener.
//
//   - clientTransport: Core client implementation. It owns exactly one connection, since
//     subscriptions are bound to the connection they were created on. Responses are
//     correlated with their request by the request id, pushed frames go to the push handler.
//
//   - serverTransport: Core server implementation that accepts connections, creates one
//     session per connection and runs requests of a connection on a bounded set of workers.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse read buffers.
//
//   - Frame Batching: Stream frames are written with net.Buffers, combining header and
//     payload into a single write operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes of responses and pushes of a session are
//	serialized by a mutex.
package base
