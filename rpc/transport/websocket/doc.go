// Package websocket implements the communication protocol over websockets (gorilla/websocket),
// so that browser based tools can connect to the runtime.
//
// Every binary websocket message carries one frame: the 8 byte big endian request id followed
// by the payload. Text messages are ignored.
//
// Key Components:
//
//   - serverConnector: Serves the upgrade endpoint on Path and hands upgraded connections
//     to the base server.
//
//   - clientConnector: Dials ws://<endpoint>/ or a full ws:// or wss:// url.
package websocket
