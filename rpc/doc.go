// Package rpc provides the communication endpoint of the runtime. It translates
// path addressed requests of remote tooling into router calls and pushes the
// updates of subscriptions back over the same connection.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, timestamps, value formats, configuration
//     structures, and logging.
//
//   - transport: Duplex framed network communication with server push and
//     pluggable implementations (TCP, Unix sockets, websocket).
//
//   - serializer: Envelope serialization with multiple format options (Binary, JSON, GOB)
//     and the value codecs of the text and binary value formats.
//
//   - client: The protocol client with latest-only subscription mailboxes.
//
//   - server: The protocol endpoint, a session per connection that dispatches
//     requests to the router and forwards subscription updates.
package rpc
