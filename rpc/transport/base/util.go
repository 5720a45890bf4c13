package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// headerSize is 8 bytes requestID + 4 bytes data length
const headerSize = 12

// PushRequestID marks frames the server sends without a request.
const PushRequestID uint64 = 0

// maxFrameSize bounds the length a peer may announce.
const maxFrameSize = 64 << 20

// -----------------------------------------------------------
// Frame Connections
// -----------------------------------------------------------

// IFrameConn is a connection that carries whole frames.
// Reads happen from a single goroutine, writes must be serialized by the caller.
type IFrameConn interface {
	// ReadFrame reads the next frame, buf is used if it is large enough
	ReadFrame(buf []byte) (requestID uint64, data []byte, err error)
	// WriteFrame writes one frame
	WriteFrame(requestID uint64, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// IFrameListener accepts frame connections.
type IFrameListener interface {
	Accept() (IFrameConn, error)
	Addr() net.Addr
	Close() error
}

// -----------------------------------------------------------
// Stream framing (tcp, unix)
// -----------------------------------------------------------

// streamConn frames a byte stream
type streamConn struct {
	net.Conn
}

// NewStreamConn wraps a stream connection
func NewStreamConn(conn net.Conn) IFrameConn {
	return &streamConn{Conn: conn}
}

func (c *streamConn) WriteFrame(requestID uint64, data []byte) error {
	return writeFrame(c.Conn, requestID, data)
}

func (c *streamConn) ReadFrame(buf []byte) (uint64, []byte, error) {
	return readFrame(c.Conn, buf)
}

// streamListener wraps a net.Listener
type streamListener struct {
	net.Listener
	upgrade func(net.Conn) error
}

// NewStreamListener wraps a listener, upgrade (may be nil) is applied to every accepted connection
func NewStreamListener(listener net.Listener, upgrade func(net.Conn) error) IFrameListener {
	return &streamListener{Listener: listener, upgrade: upgrade}
}

func (l *streamListener) Accept() (IFrameConn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.upgrade != nil {
		if err := l.upgrade(conn); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}
	}
	return NewStreamConn(conn), nil
}

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: requestID (uint64, big endian), 0 for pushed frames
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, requestID uint64, data []byte) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], requestID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn io.Reader, buf []byte) (uint64, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, nil, err
	}

	requestID := binary.BigEndian.Uint64(header[:8])
	contentLength := binary.BigEndian.Uint32(header[8:12])

	if contentLength == 0 {
		return requestID, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, nil, err
	}

	return requestID, buf[:contentLength], nil
}
