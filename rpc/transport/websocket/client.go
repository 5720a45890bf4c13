package websocket

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/transport"
	"github.com/ValentinKolb/dCycle/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for websockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "websocket"
}

func (c *clientConnector) Connect(config common.ClientConfig) (base.IFrameConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   defaultBufferSize,
		WriteBufferSize:  defaultBufferSize,
	}
	if config.TimeoutSecond > 0 {
		dialer.HandshakeTimeout = time.Duration(config.TimeoutSecond) * time.Second
	}

	endpoint, err := endpointURL(config.Endpoint)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return newFrameConn(conn), nil
}

// endpointURL accepts host:port as well as a full ws:// or wss:// url
func endpointURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return endpoint, nil
	}
	if endpoint == "" {
		return "", fmt.Errorf("empty websocket endpoint")
	}
	return (&url.URL{Scheme: "ws", Host: endpoint, Path: Path}).String(), nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewWebsocketClientTransport creates a new websocket client transport
func NewWebsocketClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
