package server

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/router"
	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/serializer"
)

// NewRouterServerAdapter creates an adapter that answers requests from a router.
func NewRouterServerAdapter(r *router.Router) IRPCServerAdapter {
	return &routerServerAdapterImpl{
		router: r,
		peers:  xsync.NewMapOf[string, *peerState](),
	}
}

type routerServerAdapterImpl struct {
	router *router.Router
	peers  *xsync.MapOf[string, *peerState]
}

// peerState holds the subscriptions of one connection by their client chosen id
type peerState struct {
	peer          IPeer
	subscriptions *xsync.MapOf[uint64, *router.Subscription]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *routerServerAdapterImpl) Handle(peer IPeer, req *common.Message) (*common.Message, func()) {
	switch req.MsgType {
	case common.MsgTGetPaths:
		kind, err := router.ParsePathKind(req.Kind)
		if err != nil {
			return common.NewGetPathsResponse(nil, err), nil
		}
		return common.NewGetPathsResponse(a.router.Paths(kind), nil), nil

	case common.MsgTRead:
		return a.read(req), nil

	case common.MsgTSubscribe:
		// updates are forwarded only after the response was written
		start, err := a.subscribe(peer, req)
		return common.NewSubscribeResponse(req.ID, err), start

	case common.MsgTUnsubscribe:
		return common.NewUnsubscribeResponse(req.ID, a.unsubscribe(peer, req.ID)), nil

	case common.MsgTWrite:
		return common.NewWriteResponse(a.write(req)), nil

	case common.MsgTPersist:
		p, err := path.Parse(req.Path)
		if err == nil {
			err = a.router.Persist(p, req.Scope)
		}
		return common.NewPersistResponse(err), nil

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC RouterAdapter - Unsupported message type: %s", req.MsgType),
		), nil
	}
}

func (a *routerServerAdapterImpl) Disconnect(peer IPeer) {
	state, ok := a.peers.LoadAndDelete(peer.ID())
	if !ok {
		return
	}
	count := 0
	state.subscriptions.Range(func(id uint64, sub *router.Subscription) bool {
		state.subscriptions.Delete(id)
		sub.Close()
		count++
		return true
	})
	Logger.Debugf("Dropped %d subscriptions of session %s", count, peer.ID())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (a *routerServerAdapterImpl) read(req *common.Message) *common.Message {
	codec, err := serializer.NewValueCodec(req.Format)
	if err != nil {
		return common.NewReadResponse(common.Timestamp{}, nil, err)
	}
	p, err := path.Parse(req.Path)
	if err != nil {
		return common.NewReadResponse(common.Timestamp{}, nil, err)
	}
	value, err := a.router.Read(p)
	if err != nil {
		return common.NewReadResponse(common.Timestamp{}, nil, err)
	}
	encoded, err := codec.Encode(value.Data)
	if err != nil {
		return common.NewReadResponse(common.Timestamp{}, nil, fmt.Errorf("failed to encode value: %w", err))
	}
	return common.NewReadResponse(common.NewTimestamp(value.Timestamp), encoded, nil)
}

func (a *routerServerAdapterImpl) write(req *common.Message) error {
	codec, err := serializer.NewValueCodec(req.Format)
	if err != nil {
		return err
	}
	p, err := path.Parse(req.Path)
	if err != nil {
		return err
	}
	value, err := codec.Decode(req.Value)
	if err != nil {
		return router.NewError(router.RetCDecode, fmt.Sprintf("failed to decode value for %s: %v", p, err))
	}
	return a.router.Write(p, req.Timestamp.Time(), value)
}

// stateOf returns the state of a peer, the first request of a peer registers its disconnect
func (a *routerServerAdapterImpl) stateOf(peer IPeer) *peerState {
	state, loaded := a.peers.LoadOrCompute(peer.ID(), func() *peerState {
		return &peerState{
			peer:          peer,
			subscriptions: xsync.NewMapOf[uint64, *router.Subscription](),
		}
	})
	if !loaded {
		go func() {
			<-peer.Done()
			a.Disconnect(peer)
		}()
	}
	return state
}

// subscribe registers the subscription and returns the func that starts forwarding its updates
func (a *routerServerAdapterImpl) subscribe(peer IPeer, req *common.Message) (func(), error) {
	if req.ID == 0 {
		return nil, fmt.Errorf("subscription id must not be 0")
	}
	codec, err := serializer.NewValueCodec(req.Format)
	if err != nil {
		return nil, err
	}
	p, err := path.Parse(req.Path)
	if err != nil {
		return nil, err
	}

	state := a.stateOf(peer)
	if _, exists := state.subscriptions.Load(req.ID); exists {
		return nil, fmt.Errorf("subscription id %d is already in use", req.ID)
	}

	sub, err := a.router.Subscribe(p)
	if err != nil {
		return nil, err
	}
	if _, loaded := state.subscriptions.LoadOrStore(req.ID, sub); loaded {
		sub.Close()
		return nil, fmt.Errorf("subscription id %d is already in use", req.ID)
	}

	Logger.Debugf("Session %s subscribed to %s with id %d", peer.ID(), p, req.ID)
	return func() { go a.forward(state, req.ID, sub, codec) }, nil
}

func (a *routerServerAdapterImpl) unsubscribe(peer IPeer, id uint64) error {
	state, ok := a.peers.Load(peer.ID())
	if !ok {
		return fmt.Errorf("no subscription with id %d", id)
	}
	sub, ok := state.subscriptions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("no subscription with id %d", id)
	}
	sub.Close()
	return nil
}

// forward pushes the values of a subscription to its peer until the subscription ends.
// A subscription the router ended (not the client) is reported with a failed update.
func (a *routerServerAdapterImpl) forward(state *peerState, id uint64, sub *router.Subscription, codec serializer.IValueCodec) {
	for {
		value, err := sub.Next(context.Background())
		if err != nil {
			if a.release(state, id, sub) {
				if pushErr := state.peer.Push(common.NewUpdate(id, common.Timestamp{}, nil, err)); pushErr != nil {
					Logger.Debugf("Failed to push end of subscription %d: %v", id, pushErr)
				}
			}
			return
		}

		encoded, err := codec.Encode(value.Data)
		if err != nil {
			err = fmt.Errorf("failed to encode value: %w", err)
			sub.Close()
			if a.release(state, id, sub) {
				_ = state.peer.Push(common.NewUpdate(id, common.Timestamp{}, nil, err))
			}
			return
		}

		if err := state.peer.Push(common.NewUpdate(id, common.NewTimestamp(value.Timestamp), encoded, nil)); err != nil {
			Logger.Debugf("Failed to push update of subscription %d: %v", id, err)
			sub.Close()
			a.release(state, id, sub)
			return
		}
	}
}

// release removes sub from the peer state, it reports whether sub was still registered
func (a *routerServerAdapterImpl) release(state *peerState, id uint64, sub *router.Subscription) bool {
	removed := false
	state.subscriptions.Compute(id, func(old *router.Subscription, loaded bool) (*router.Subscription, bool) {
		if loaded && old == sub {
			removed = true
			return nil, true
		}
		return old, !loaded
	})
	return removed
}
