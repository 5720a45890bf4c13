package base

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/transport"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(config common.ClientConfig) (IFrameConn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.).
// Subscriptions are bound to a connection, so the client uses exactly one.
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	conn          IFrameConn
	connMu        sync.Mutex // Protects writes to the connection
	requestChans  *xsync.MapOf[uint64, chan responseResult]
	pushHandler   transport.PushHandleFunc
	nextRequestID uint64 // Atomic counter for unique request IDs
	done          chan struct{}
	closeOnce     sync.Once
	readErr       atomic.Value
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector:    connector,
		requestChans: xsync.NewMapOf[uint64, chan responseResult](),
		done:         make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) OnPush(handler transport.PushHandleFunc) {
	t.pushHandler = handler
}

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if t.conn != nil {
		return fmt.Errorf("already connected")
	}
	t.config = config

	// We always try at least once, and up to RetryCount times
	maxRetries := max(config.RetryCount, 1)

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := t.connector.Connect(config)
		if err == nil {
			t.conn = conn
			Logger.Infof("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
			go t.readResponses()
			return nil
		}

		lastErr = err
		Logger.Debugf("Connection attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return fmt.Errorf("failed to connect to %s after %d attempts: %v", config.Endpoint, maxRetries, lastErr)
}

func (t *clientTransport) Send(ctx context.Context, req []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	select {
	case <-t.done:
		return nil, t.closedErr()
	default:
	}

	// Generate a unique request ID, 0 is reserved for pushes
	requestID := atomic.AddUint64(&t.nextRequestID, 1)

	// Create a channel for the response
	respCh := make(chan responseResult, 1)

	// Register the request
	t.requestChans.Store(requestID, respCh)

	// Ensure we clean up when done
	defer t.requestChans.Delete(requestID)

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Lock the connection only for writing
	t.connMu.Lock()
	if timeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := t.conn.WriteFrame(requestID, req)
	t.connMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-t.done:
		return nil, t.closedErr()
	case <-ctx.Done():
		return nil, fmt.Errorf("request timed out: %w", ctx.Err())
	}
}

func (t *clientTransport) Done() <-chan struct{} {
	return t.done
}

func (t *clientTransport) Close() error {
	t.shutdown(fmt.Errorf("connection closed"))
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// shutdown closes the connection once and releases all waiting requests
func (t *clientTransport) shutdown(reason error) {
	t.closeOnce.Do(func() {
		t.readErr.Store(reason)
		if t.conn != nil {
			_ = t.conn.Close()
		}
		close(t.done)
	})
}

func (t *clientTransport) closedErr() error {
	if err, ok := t.readErr.Load().(error); ok {
		return err
	}
	return fmt.Errorf("connection closed")
}

// readResponses reads frames in a loop and distributes them to waiting requests and the push handler
func (t *clientTransport) readResponses() {
	for {
		requestID, data, err := t.conn.ReadFrame(nil)
		if err != nil {
			select {
			case <-t.done:
			default:
				Logger.Warningf("Lost connection to %s: %v", t.config.Endpoint, err)
			}
			t.shutdown(fmt.Errorf("error reading response: %v", err))
			return
		}

		if requestID == PushRequestID {
			if t.pushHandler != nil {
				t.pushHandler(data)
			}
			continue
		}

		// Find the corresponding request channel
		if respCh, found := t.requestChans.Load(requestID); found {
			respCh <- responseResult{data, nil}
		} else {
			Logger.Warningf("Received response for unknown request ID %d", requestID)
		}
	}
}
