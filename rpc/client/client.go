package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCycle/lib/util"
	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/serializer"
	"github.com/ValentinKolb/dCycle/rpc/transport"
)

// Value is a decoded value together with the time it was produced.
type Value struct {
	Timestamp time.Time
	Data      any
}

// NewRPCClient connects a client to a runtime.
// The function takes a config, a transport and a serializer as parameters
//
// Usage:
//
//	c, err := client.NewRPCClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	value, err := c.Read(ctx, "Control.main_outputs.ball_position", common.FormatText)
func NewRPCClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCClient, error) {
	c := &RPCClient{
		config:        config,
		transport:     transport,
		serializer:    serializer,
		subscriptions: xsync.NewMapOf[uint64, *Subscription](),
	}

	// Pushed updates are routed by their subscription id
	transport.OnPush(c.handlePush)

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	// A lost connection ends all subscriptions
	go func() {
		<-transport.Done()
		c.subscriptions.Range(func(id uint64, sub *Subscription) bool {
			c.subscriptions.Delete(id)
			sub.box.Close(fmt.Errorf("connection to %s closed", config.Endpoint))
			return true
		})
	}()

	return c, nil
}

// RPCClient is a client of the communication protocol.
type RPCClient struct {
	config        common.ClientConfig
	transport     transport.IRPCClientTransport
	serializer    serializer.IRPCSerializer
	subscriptions *xsync.MapOf[uint64, *Subscription]
	nextID        atomic.Uint64
}

// Subscription receives the updates of one path. It keeps only the newest update.
type Subscription struct {
	id     uint64
	path   string
	codec  serializer.IValueCodec
	box    *util.Latest[Value]
	client *RPCClient
}

// --------------------------------------------------------------------------
// Client Methods
// --------------------------------------------------------------------------

// Paths lists the paths of a kind ("outputs" or "parameters") with their type names.
func (c *RPCClient) Paths(ctx context.Context, kind string) (map[string]string, error) {
	resp, err := invokeRPCRequest(ctx, common.NewGetPathsRequest(kind), c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Read returns the current value at a path.
func (c *RPCClient) Read(ctx context.Context, path string, format common.Format) (Value, error) {
	codec, err := serializer.NewValueCodec(format)
	if err != nil {
		return Value{}, err
	}
	resp, err := invokeRPCRequest(ctx, common.NewReadRequest(path, format), c.transport, c.serializer)
	if err != nil {
		return Value{}, err
	}
	data, err := codec.Decode(resp.Value)
	if err != nil {
		return Value{}, fmt.Errorf("failed to decode value of %s: %w", path, err)
	}
	return Value{Timestamp: resp.Timestamp.Time(), Data: data}, nil
}

// Write replaces the value at a path.
func (c *RPCClient) Write(ctx context.Context, path string, value any, format common.Format) error {
	codec, err := serializer.NewValueCodec(format)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}
	req := common.NewWriteRequest(path, common.NewTimestamp(time.Now()), format, encoded)
	_, err = invokeRPCRequest(ctx, req, c.transport, c.serializer)
	return err
}

// Persist stores the parameter at a path in the file of a scope.
func (c *RPCClient) Persist(ctx context.Context, path, scope string) error {
	_, err := invokeRPCRequest(ctx, common.NewPersistRequest(path, scope), c.transport, c.serializer)
	return err
}

// Subscribe subscribes to a path. The first update carries the current value.
func (c *RPCClient) Subscribe(ctx context.Context, path string, format common.Format) (*Subscription, error) {
	codec, err := serializer.NewValueCodec(format)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     c.nextID.Add(1),
		path:   path,
		codec:  codec,
		box:    util.NewLatest[Value](),
		client: c,
	}

	// Register before sending, the push handler may run before Send returns
	c.subscriptions.Store(sub.id, sub)
	if _, err := invokeRPCRequest(ctx, common.NewSubscribeRequest(path, format, sub.id), c.transport, c.serializer); err != nil {
		c.subscriptions.Delete(sub.id)
		return nil, err
	}
	return sub, nil
}

// Close closes the connection, all subscriptions end.
func (c *RPCClient) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Subscription Methods
// --------------------------------------------------------------------------

// ID returns the id of the subscription on its connection.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// Next blocks until the next update arrives. After the subscription ended it returns the reason.
func (s *Subscription) Next(ctx context.Context) (Value, error) {
	return s.box.Next(ctx)
}

// Dropped returns the number of updates that were replaced by a newer one before Next was called.
func (s *Subscription) Dropped() uint64 {
	return s.box.Dropped()
}

// Unsubscribe ends the subscription on the server.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if _, ok := s.client.subscriptions.LoadAndDelete(s.id); !ok {
		return nil
	}
	s.box.Close(fmt.Errorf("unsubscribed from %s", s.path))
	_, err := invokeRPCRequest(ctx, common.NewUnsubscribeRequest(s.id), s.client.transport, s.client.serializer)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handlePush routes a pushed update to its subscription
func (c *RPCClient) handlePush(payload []byte) {
	var msg common.Message
	if err := c.serializer.Deserialize(payload, &msg); err != nil {
		Logger.Warningf("Failed to deserialize pushed message: %v", err)
		return
	}
	if msg.MsgType != common.MsgTUpdate {
		Logger.Warningf("Unexpected pushed message of type %s", msg.MsgType)
		return
	}

	sub, ok := c.subscriptions.Load(msg.ID)
	if !ok {
		// late update of an ended subscription
		return
	}

	if err := msg.Err(); err != nil {
		c.subscriptions.Delete(msg.ID)
		sub.box.Close(err)
		return
	}

	data, err := sub.codec.Decode(msg.Value)
	if err != nil {
		Logger.Warningf("Failed to decode update of %s: %v", sub.path, err)
		return
	}
	sub.box.Offer(Value{Timestamp: msg.Timestamp.Time(), Data: data})
}
