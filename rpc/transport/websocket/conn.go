package websocket

import (
	"encoding/binary"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/ValentinKolb/dCycle/rpc/transport/base"
)

// requestIDSize is the length of the request id in front of every message
const requestIDSize = 8

// frameConn carries one frame per binary websocket message:
// - 8 bytes: requestID (uint64, big endian), 0 for pushed frames
// - N bytes: data payload
// The message boundary replaces the length of the stream transports.
type frameConn struct {
	*websocket.Conn
}

func newFrameConn(conn *websocket.Conn) base.IFrameConn {
	return &frameConn{Conn: conn}
}

func (c *frameConn) ReadFrame(_ []byte) (uint64, []byte, error) {
	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		if messageType != websocket.BinaryMessage {
			Logger.Debugf("Ignoring websocket message of type %d from %s", messageType, c.RemoteAddr())
			continue
		}
		if len(data) < requestIDSize {
			return 0, nil, fmt.Errorf("websocket message of %d bytes is too short for a frame", len(data))
		}
		return binary.BigEndian.Uint64(data[:requestIDSize]), data[requestIDSize:], nil
	}
}

func (c *frameConn) WriteFrame(requestID uint64, data []byte) error {
	w, err := c.Conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	var header [requestIDSize]byte
	binary.BigEndian.PutUint64(header[:], requestID)
	if _, err := w.Write(header[:]); err != nil {
		_ = w.Close()
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
