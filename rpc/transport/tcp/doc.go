// Package tcp implements the TCP socket transport of the communication protocol. It provides
// implementations of the base package's connector interfaces for TCP connections.
//
// Key Components:
//
//   - clientConnector: TCP implementation of base.IClientConnector
//
//   - serverConnector: TCP implementation of base.IServerConnector. Accepted connections
//     get the TCP options of the server configuration (no delay, keep alive).
//
// The default server buffer size is set to 512 KB.
package tcp
