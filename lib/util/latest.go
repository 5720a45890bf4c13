package util

import (
	"context"
	"sync"
)

// Latest is a single-slot mailbox. A value that was not received before the next one is offered
// is overwritten and counted as dropped, so a slow consumer always gets the most recent value
// and never a backlog.
//
// Offer may be called from any goroutine, Next by one consumer.
type Latest[T any] struct {
	mu      sync.Mutex
	pending *T
	closed  bool
	err     error
	drops   uint64
	wake    chan struct{} // capacity 1, signalled on offer and close
}

// NewLatest creates an empty mailbox.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{wake: make(chan struct{}, 1)}
}

// Offer places v in the mailbox, overwriting an unreceived value. Offers after Close are ignored.
func (l *Latest[T]) Offer(v T) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.pending != nil {
		l.drops++
	}
	l.pending = &v
	l.mu.Unlock()
	l.signal()
}

func (l *Latest[T]) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available and returns it. After Close it returns the close reason.
func (l *Latest[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		l.mu.Lock()
		if l.pending != nil {
			v := *l.pending
			l.pending = nil
			l.mu.Unlock()
			return v, nil
		}
		if l.closed {
			err := l.err
			l.mu.Unlock()
			return zero, err
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Dropped returns the number of values that were overwritten before they were received.
func (l *Latest[T]) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Close ends the mailbox with reason, a pending value is discarded. Only the first call has an
// effect, it reports whether this call closed the mailbox.
func (l *Latest[T]) Close(reason error) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.closed = true
	l.err = reason
	l.pending = nil
	l.mu.Unlock()
	l.signal()
	return true
}
