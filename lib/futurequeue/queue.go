// Package futurequeue carries perception results from a perception cycler to the real-time cycler.
//
// A perception cycler announces the start time of every cycle before running its nodes and
// finalizes the item with its main outputs afterwards. The real-time cycler consumes finalized
// items in announcement order up to its own cycle start time. Announced but not yet finalized
// items stay visible as a watermark (FirstTimestampOfNonFinalizedItems), which tells the consumer
// how far back the producer may still refer to in time.
package futurequeue

import (
	"sync"
	"time"
)

// Item is one finalized perception result.
type Item[T any] struct {
	// Timestamp is the cycle start time of the producing cycle.
	Timestamp time.Time
	Data      T
}

type entry[T any] struct {
	timestamp time.Time
	data      T
	finalized bool
}

// queue is shared between exactly one Producer and one Consumer.
//
// The critical sections are append/slice operations; neither side ever blocks on the other.
type queue[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
}

// New creates a connected producer/consumer pair.
func New[T any]() (*Producer[T], *Consumer[T]) {
	q := &queue[T]{}
	return &Producer[T]{q: q}, &Consumer[T]{q: q}
}

// --------------------------------------------------------------------------
// Producer
// --------------------------------------------------------------------------

// Producer is the perception cycler's side of the queue. It must only be used from one goroutine.
type Producer[T any] struct {
	q *queue[T]
}

// Announce registers the start of a producer cycle. If the previous announcement was never
// finalized (the cycle was abandoned without Abort) it is replaced.
func (p *Producer[T]) Announce(timestamp time.Time) {
	p.q.mu.Lock()
	defer p.q.mu.Unlock()

	if n := len(p.q.entries); n > 0 && !p.q.entries[n-1].finalized {
		p.q.entries[n-1].timestamp = timestamp
		return
	}
	p.q.entries = append(p.q.entries, entry[T]{timestamp: timestamp})
}

// Finalize attaches the cycle's result to the last announcement.
// It returns false if there is no pending announcement.
func (p *Producer[T]) Finalize(data T) bool {
	p.q.mu.Lock()
	defer p.q.mu.Unlock()

	n := len(p.q.entries)
	if n == 0 || p.q.entries[n-1].finalized {
		return false
	}
	p.q.entries[n-1].data = data
	p.q.entries[n-1].finalized = true
	return true
}

// Abort drops the pending announcement of a failed cycle.
func (p *Producer[T]) Abort() {
	p.q.mu.Lock()
	defer p.q.mu.Unlock()

	if n := len(p.q.entries); n > 0 && !p.q.entries[n-1].finalized {
		var zero entry[T]
		p.q.entries[n-1] = zero
		p.q.entries = p.q.entries[:n-1]
	}
}

// --------------------------------------------------------------------------
// Consumer
// --------------------------------------------------------------------------

// Consumer is the real-time cycler's side of the queue. It must only be used from one goroutine.
type Consumer[T any] struct {
	q *queue[T]
}

// ConsumeUpTo removes and returns all finalized items with a timestamp not after watermark,
// in announcement order. Consumption stops at the first non-finalized item, so a later item
// is never delivered before an earlier one.
func (c *Consumer[T]) ConsumeUpTo(watermark time.Time) []Item[T] {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()

	n := 0
	for n < len(c.q.entries) {
		e := c.q.entries[n]
		if !e.finalized || e.timestamp.After(watermark) {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}

	items := make([]Item[T], n)
	for i := 0; i < n; i++ {
		items[i] = Item[T]{Timestamp: c.q.entries[i].timestamp, Data: c.q.entries[i].data}
	}

	// shift the remaining entries and clear the tail for the gc
	remaining := copy(c.q.entries, c.q.entries[n:])
	var zero entry[T]
	for i := remaining; i < len(c.q.entries); i++ {
		c.q.entries[i] = zero
	}
	c.q.entries = c.q.entries[:remaining]

	return items
}

// FirstTimestampOfNonFinalizedItems returns the timestamp of the oldest announced but not yet
// finalized item. ok is false if the producer has no cycle in flight.
func (c *Consumer[T]) FirstTimestampOfNonFinalizedItems() (timestamp time.Time, ok bool) {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()

	for _, e := range c.q.entries {
		if !e.finalized {
			return e.timestamp, true
		}
	}
	return time.Time{}, false
}

// FirstTimestampOfUnconsumedItems returns the timestamp of the oldest item still in the queue,
// finalized or not. ok is false if the queue is empty.
func (c *Consumer[T]) FirstTimestampOfUnconsumedItems() (timestamp time.Time, ok bool) {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()

	if len(c.q.entries) == 0 {
		return time.Time{}, false
	}
	return c.q.entries[0].timestamp, true
}

// Len returns the number of items in the queue, including non-finalized ones.
func (c *Consumer[T]) Len() int {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return len(c.q.entries)
}
