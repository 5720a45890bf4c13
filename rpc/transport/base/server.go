package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (IFrameListener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// session is the transport.ISession of one connection
type session struct {
	id      string
	conn    IFrameConn
	timeout time.Duration
	connMu  sync.Mutex // Protects writes to the connection
	done    chan struct{}
	pushes  *vm.Counter
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	listener          IFrameListener
	sessions          *xsync.MapOf[string, *session]
	bufferPool        *sync.Pool
	maxWorkersPerConn int
	wg                sync.WaitGroup

	accepted *vm.Counter
	requests *vm.Counter
	pushes   *vm.Counter
	open     atomic.Int64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool.
// The connection metrics are registered in set (a new set if nil).
func NewBaseServerTransport(connector IServerConnector, bufferSize int, set *vm.Set) transport.IRPCServerTransport {
	if set == nil {
		set = vm.NewSet()
	}

	t := &serverTransport{
		connector: connector,
		sessions:  xsync.NewMapOf[string, *session](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}

	name := connector.GetName()
	t.accepted = set.GetOrCreateCounter(fmt.Sprintf(`dcycle_transport_connections_total{transport=%q}`, name))
	t.requests = set.GetOrCreateCounter(fmt.Sprintf(`dcycle_transport_frames_total{transport=%q,direction="request"}`, name))
	t.pushes = set.GetOrCreateCounter(fmt.Sprintf(`dcycle_transport_frames_total{transport=%q,direction="push"}`, name))
	set.GetOrCreateGauge(fmt.Sprintf(`dcycle_transport_open_connections{transport=%q}`, name), func() float64 {
		return float64(t.open.Load())
	})
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// minimum one worker per connection
	t.maxWorkersPerConn = max(config.WorkersPerConn, 1)

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Listening with %s on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.maxWorkersPerConn)
	return nil
}

func (t *serverTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) Serve(ctx context.Context) error {
	if t.listener == nil {
		return fmt.Errorf("serve called before listen")
	}
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := t.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					acceptErr <- nil
					return
				}
				Logger.Errorf("Accept error: %v", err)
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				acceptErr <- err
				return
			}

			// Handle the connection in a goroutine
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.handleConnection(conn)
			}()
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-acceptErr:
	}

	// Stop accepting and end all sessions
	_ = t.listener.Close()
	t.sessions.Range(func(_ string, s *session) bool {
		_ = s.conn.Close()
		return true
	})
	t.wg.Wait()

	Logger.Infof("Stopped %s server on %s", t.connector.GetName(), t.listener.Addr())
	return err
}

// --------------------------------------------------------------------------
// Session Methods (docu see transport.ISession)
// --------------------------------------------------------------------------

func (s *session) ID() string {
	return s.id
}

func (s *session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *session) Push(payload []byte) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	if err := s.write(PushRequestID, payload); err != nil {
		return err
	}
	s.pushes.Inc()
	return nil
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

// write writes one frame, writes of responses and pushes never interleave
func (s *session) write(requestID uint64, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return s.conn.WriteFrame(requestID, data)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn IFrameConn) {
	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		timeout: time.Duration(t.config.TimeoutSecond) * time.Second,
		done:    make(chan struct{}),
		pushes:  t.pushes,
	}
	t.sessions.Store(s.id, s)
	t.accepted.Inc()
	t.open.Add(1)
	Logger.Infof("Session %s opened by %s", s.id, s.RemoteAddr())

	defer func() {
		t.sessions.Delete(s.id)
		t.open.Add(-1)
		close(s.done)
		_ = conn.Close()
		Logger.Infof("Session %s closed", s.id)
	}()

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes requests in worker goroutines
	handleResponse := func(requestID uint64, data []byte) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		// Process the request
		start := time.Now()
		resp, written := t.handler(s, data)
		Logger.Debugf("Processed request %d of session %s in %s", requestID, s.id, time.Since(start))

		// Write the response with the same requestID
		if err := s.write(requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
		if written != nil {
			written()
		}
	}

	// Handle requests in a loop. Reads have no deadline, sessions idle while subscribed.
	for {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame with requestID
		requestID, data, err := conn.ReadFrame(buf)
		if err != nil {
			t.bufferPool.Put(buf)
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Debugf("Connection of session %s closed: %v", s.id, err)
			} else {
				Logger.Warningf("Error reading request of session %s: %v", s.id, err)
			}
			break
		}
		if requestID == PushRequestID {
			t.bufferPool.Put(buf)
			Logger.Warningf("Session %s sent a frame with the reserved request id 0, closing", s.id)
			break
		}
		t.requests.Inc()

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}

		// Increment the wait group counter
		wg.Add(1)

		// Process in a goroutine
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(requestID, data)
		}()
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
}
