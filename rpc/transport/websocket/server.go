package websocket

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/transport"
	"github.com/ValentinKolb/dCycle/rpc/transport/base"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	defaultBufferSize = 64 * 1024 // 64 KB
	// Path is the http path the protocol is served on
	Path = "/"
)

// serverConnector implements the IServerConnector interface for websockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "websocket"
}

func (c *serverConnector) Listen(config common.ServerConfig) (base.IFrameListener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	l := &frameListener{
		listener: listener,
		conns:    make(chan base.IFrameConn),
		closed:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultBufferSize,
			WriteBufferSize: defaultBufferSize,
			// tools connect from arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Register handler
	mux := http.NewServeMux()
	if config.LogLevel == "debug" {
		mux.HandleFunc(Path, loggerMiddleware(l.handleUpgrade))
	} else {
		mux.HandleFunc(Path, l.handleUpgrade)
	}
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("Websocket http server stopped: %v", err)
		}
	}()
	return l, nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// frameListener hands upgraded websocket connections to the base server
type frameListener struct {
	listener  net.Listener
	server    *http.Server
	upgrader  websocket.Upgrader
	conns     chan base.IFrameConn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *frameListener) Accept() (base.IFrameConn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *frameListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *frameListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		// hijacked connections are owned by their sessions and stay open
		err = l.server.Close()
	})
	return err
}

// handleUpgrade upgrades a http request to a websocket connection
func (l *frameListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the http error
		Logger.Warningf("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}

	select {
	case l.conns <- newFrameConn(conn):
	case <-l.closed:
		_ = conn.Close()
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// loggerMiddleware is a middleware that logs upgrade requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		Logger.Debugf("%s %s from %s took %s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	}
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewWebsocketServerTransport creates a new websocket server transport, its metrics are registered in set
func NewWebsocketServerTransport(set *vm.Set) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultBufferSize, set)
}
