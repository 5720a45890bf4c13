package router

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/util"
)

// Value is a snapshot of the data at a path together with the time it was produced.
type Value struct {
	Timestamp time.Time
	Data      any
}

// --------------------------------------------------------------------------
// Subscription (latest-only mailbox)
// --------------------------------------------------------------------------

// Subscription delivers the values at one path. It is a single-slot mailbox: a value that was not
// consumed before the next one arrives is overwritten and counted as dropped, so a slow consumer
// always sees the most recent value and never a backlog.
//
// Thread-safety: offer is called by the router's forwarder goroutine, Next by one consumer.
type Subscription struct {
	path path.Path
	box  *util.Latest[Value]

	stop    context.CancelFunc
	release func()
	onClose func(*Subscription)
}

func newSubscription(p path.Path) *Subscription {
	return &Subscription{path: p, box: util.NewLatest[Value]()}
}

// Path returns the subscribed path.
func (s *Subscription) Path() path.Path {
	return s.path
}

// offer places v in the mailbox, overwriting an unconsumed value.
func (s *Subscription) offer(v Value) {
	s.box.Offer(v)
}

// Next blocks until a value is available and returns it. After the subscription was closed it
// returns the close reason (ErrClosed for a regular Close).
func (s *Subscription) Next(ctx context.Context) (Value, error) {
	return s.box.Next(ctx)
}

// Dropped returns the number of values that were overwritten before they were consumed.
func (s *Subscription) Dropped() uint64 {
	return s.box.Dropped()
}

// Close ends the subscription. A pending value is discarded. Close is idempotent.
func (s *Subscription) Close() {
	s.closeWith(ErrClosed)
}

func (s *Subscription) closeWith(reason error) {
	if !s.box.Close(reason) {
		return
	}
	if s.stop != nil {
		s.stop()
	}
	if s.release != nil {
		s.release()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}
