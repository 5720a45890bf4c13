// Package client implements the client side of the communication protocol. Debugging tools
// and the command line use it to inspect and modify a running runtime.
//
// Key Components:
//
//   - RPCClient: Lists paths, reads, writes and persists values and subscribes to paths over one
//     connection. Values are encoded and decoded in the requested format (text or binary).
//
//   - Subscription: Receives pushed updates of one path. It keeps only the newest update, a slow
//     reader never builds up a backlog. Subscriptions end on Unsubscribe, when the server ends
//     them (the reason is returned by Next) or when the connection is lost.
//
// Usage:
//
//	c, err := client.NewRPCClient(
//	  common.ClientConfig{Endpoint: "localhost:1337", TimeoutSecond: 5, RetryCount: 3},
//	  tcp.NewTCPClientTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//	  return err
//	}
//	defer c.Close()
//
//	sub, err := c.Subscribe(ctx, "Control.main_outputs.ball_position", common.FormatBinary)
//	if err != nil {
//	  return err
//	}
//	for {
//	  value, err := sub.Next(ctx)
//	  ...
//	}
//
// Thread Safety:
//
//	RPCClient is safe for concurrent use. Next of a subscription must be called by a single
//	goroutine.
package client
