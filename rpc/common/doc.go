// Package common provides the data structures shared by the protocol server, clients and
// transports.
//
// Key Components:
//
//   - Message: The single frame type of the protocol. Requests (GetPaths, Read, Subscribe,
//     Unsubscribe, Write, Persist) are answered by a response of the same MessageType carrying
//     Ok and Reason. Subscription updates are pushed by the server as MsgTUpdate frames.
//
//   - Timestamp and Format: The wire form of points in time ({seconds, nanos}, 12 bytes in binary
//     frames) and the value encodings (text JSON, binary msgpack).
//
//   - ServerConfig / ClientConfig: Endpoint, transport and serializer selection.
//
//   - Logger: Custom logging implementation plugged into dragonboat's logger package, used as
//     the named package logger of every component.
package common
