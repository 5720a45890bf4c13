// Package transport defines the interfaces and abstractions for the communication protocol of
// the runtime. It provides a common contract that all transport implementations must fulfill,
// enabling protocol-agnostic communication.
//
// Unlike a plain request/response transport, the server may send frames on its own: updates
// of subscriptions are pushed to the session that subscribed.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles the connection, request sending and pushed frames.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     accepts connections and hands requests to the handler.
//
//   - ISession: One connected client. Sessions end with their connection.
//
//   - ServerHandleFunc / PushHandleFunc: Callbacks for requests and pushed frames.
package transport
