// Package util provides the mailboxes used between goroutines: a lock-free multi-producer
// single-consumer queue (MPSC) and a latest-only single-slot mailbox (Latest).
//
// The queue is the hand-off between the router subscriptions of the recorder (one producer
// goroutine per recorded path) and the single goroutine writing the record file:
//
//   - Lock-free pushes: producers append with CAS on the tail, they never wait for the consumer.
//   - Unbounded: a slow disk never applies back pressure to the subscriptions.
//   - Single consumer: values are delivered through the Recv channel.
//   - Per producer FIFO: values of one producer arrive in push order. There is no global order
//     between producers.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type link[T any] struct {
	value T
	next  atomic.Pointer[link[T]]
}

// MPSC is a lock-free multi-producer single-consumer queue.
type MPSC[T any] struct {
	head   atomic.Pointer[link[T]]
	tail   atomic.Pointer[link[T]]
	out    chan T
	done   chan struct{}
	closed atomic.Bool
	pushed atomic.Uint64

	// wakes the forwarding goroutine
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a queue and starts its forwarding goroutine.
func NewMPSC[T any]() *MPSC[T] {
	sentinel := &link[T]{}
	q := &MPSC[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.forward()
	return q
}

// Push appends a value. It returns false if the queue is closed.
// Safe for concurrent use.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	next := &link[T]{value: value}
	var backoff uint8
	for {
		tail := q.tail.Load()
		successor := tail.next.Load()
		if successor == nil {
			if tail.next.CompareAndSwap(nil, next) {
				// another producer may have advanced the tail already
				q.tail.CompareAndSwap(tail, next)
				q.pushed.Add(1)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tail, successor)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves values from the linked list to the out channel.
func (q *MPSC[T]) forward() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		delivered := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true
			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = zero
		}

		if !delivered && q.closed.Load() {
			return
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel values are delivered on. It is closed after Close once all pushed
// values were received.
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close rejects further pushes. Values already pushed are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Done is closed when the forwarding goroutine exited.
func (q *MPSC[T]) Done() <-chan struct{} {
	return q.done
}

// Pushed returns the number of values accepted so far.
func (q *MPSC[T]) Pushed() uint64 {
	return q.pushed.Load()
}
