package buffer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoWritableSlot is the panic value of NextWrite when every slot is held by readers.
// This is a sizing error (too few slots for the number of concurrent readers), not a runtime fault.
var ErrNoWritableSlot = errors.New("buffer: no free slot for the writer")

// --------------------------------------------------------------------------
// Slot State
// --------------------------------------------------------------------------

type slotState uint8

const (
	stateFree slotState = iota
	stateWriteable
	stateReadable
)

func (s slotState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateWriteable:
		return "writeable"
	case stateReadable:
		return "readable"
	default:
		return "unknown"
	}
}

// slotMeta is the bookkeeping of one slot. The value itself lives in Buffer.values
// so that guards can hand out a stable pointer.
type slotMeta struct {
	state   slotState
	age     uint64 // cycles since the slot became free after its last write
	readers int    // number of read guards holding the slot
	stale   bool   // the last write was discarded, never hand this slot to readers
}

// --------------------------------------------------------------------------
// Buffer
// --------------------------------------------------------------------------

// Buffer is a single-writer, multi-reader publication buffer with a fixed number of slots.
//
// The writer always gets the free slot holding the oldest data, readers always get the
// freshest slot that is not being written. With at least readers+2 slots the writer never
// has to wait for a reader, and a reader never observes a slot while it is being written.
//
// The slot bookkeeping is guarded by a mutex whose critical section is a scan over the
// (few) slots; no lock is held while a guard is alive.
//
// Thread-safety: NextWrite must only be called by a single goroutine, NextRead and the
// guards' Release methods are safe for concurrent use.
type Buffer[T any] struct {
	mu     sync.Mutex
	slots  []slotMeta
	values []T
}

// SlotCount returns the number of slots needed for the given number of concurrent
// readers and writers: readers + 2*writers, but never less than 3.
func SlotCount(readers, writers int) int {
	n := readers + 2*writers
	if n < 3 {
		return 3
	}
	return n
}

// New creates a buffer with n slots, each initialized by init.
// The function panics if n < 3.
func New[T any](n int, init func() T) *Buffer[T] {
	if n < 3 {
		panic(fmt.Sprintf("buffer: at least 3 slots required, got %d", n))
	}
	b := &Buffer[T]{
		slots:  make([]slotMeta, n),
		values: make([]T, n),
	}
	for i := range b.values {
		b.values[i] = init()
	}
	return b
}

// Len returns the number of slots.
func (b *Buffer[T]) Len() int {
	return len(b.slots)
}

// NextWrite marks the free slot with the maximum age as writeable and returns a guard for it.
// The slot becomes visible to readers when the guard is released.
//
// Panics with ErrNoWritableSlot when no slot is free.
func (b *Buffer[T]) NextWrite() *WriteGuard[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := -1
	for i, s := range b.slots {
		if s.state != stateFree {
			continue
		}
		// stale slots are the best write targets, their content is worthless
		if index == -1 || s.stale || (!b.slots[index].stale && s.age > b.slots[index].age) {
			index = i
		}
		if s.stale {
			break
		}
	}
	if index == -1 {
		panic(ErrNoWritableSlot)
	}

	b.slots[index].state = stateWriteable
	return &WriteGuard[T]{buffer: b, index: index}
}

// NextRead marks the free or readable slot with the minimum age as readable and returns a guard for it.
// Slots currently held by the writer and slots whose last write was discarded are skipped.
func (b *Buffer[T]) NextRead() *ReadGuard[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := -1
	for i, s := range b.slots {
		if s.state == stateWriteable || s.stale {
			continue
		}
		if index == -1 || s.age < b.slots[index].age {
			index = i
		}
	}
	if index == -1 {
		// every slot is either written or stale, fall back to the freshest non-written slot
		for i, s := range b.slots {
			if s.state == stateWriteable {
				continue
			}
			if index == -1 || s.age < b.slots[index].age {
				index = i
			}
		}
	}

	b.slots[index].state = stateReadable
	b.slots[index].readers++
	return &ReadGuard[T]{buffer: b, index: index}
}

// releaseWrite publishes the written slot: it becomes Free{0} and every other slot ages by one.
func (b *Buffer[T]) releaseWrite(index int, publish bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[index]
	s.state = stateFree
	if !publish {
		s.stale = true
		return
	}

	s.stale = false
	s.age = 0
	for i := range b.slots {
		if i != index {
			b.slots[i].age++
		}
	}
}

// releaseRead drops one reader from the slot; the last reader frees it (keeping its age).
func (b *Buffer[T]) releaseRead(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[index]
	s.readers--
	if s.readers <= 0 {
		s.readers = 0
		s.state = stateFree
	}
}

// --------------------------------------------------------------------------
// Guards
// --------------------------------------------------------------------------

// WriteGuard grants exclusive access to one slot. Exactly one of Release or Discard must be called.
type WriteGuard[T any] struct {
	buffer   *Buffer[T]
	index    int
	released bool
}

// Value returns a pointer to the slot's value. It must not be used after the guard is released.
func (g *WriteGuard[T]) Value() *T {
	return &g.buffer.values[g.index]
}

// Release publishes the slot to readers.
func (g *WriteGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.buffer.releaseWrite(g.index, true)
}

// Discard frees the slot without publishing it. Readers keep observing the previously published slots.
func (g *WriteGuard[T]) Discard() {
	if g.released {
		return
	}
	g.released = true
	g.buffer.releaseWrite(g.index, false)
}

// ReadGuard grants shared read access to one slot. Release must be called exactly once.
type ReadGuard[T any] struct {
	buffer   *Buffer[T]
	index    int
	released bool
}

// Value returns a pointer to the slot's value. The value must be treated as read-only
// and must not be used after the guard is released.
func (g *ReadGuard[T]) Value() *T {
	return &g.buffer.values[g.index]
}

// Release returns the slot to the buffer.
func (g *ReadGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.buffer.releaseRead(g.index)
}
