// Package unix implements the communication protocol over Unix domain sockets, for tools
// running on the robot itself.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, an existing socket file is replaced
//
// The default buffer size is 64 KB.
package unix
