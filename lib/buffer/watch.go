package buffer

import (
	"context"
	"errors"
	"sync"
)

// Watch bridges a cycler thread to any number of asynchronous observers.
//
// The publishing side calls Notify once per published buffer slot. Observers remember the
// last version they handled and block in Changed until a newer one exists. Observers never
// see intermediate versions they were too slow for: a slow observer wakes up once and reads
// the latest slot from the buffer, which gives latest-only delivery for free.
//
// Thread-safety: All methods are safe for concurrent use. Notify never blocks.
type Watch struct {
	mu      sync.Mutex
	version uint64
	changed chan struct{} // closed and replaced on every Notify
	closed  bool
}

// NewWatch creates a new watch at version 0.
func NewWatch() *Watch {
	return &Watch{changed: make(chan struct{})}
}

// Notify bumps the version and wakes every waiting observer.
func (w *Watch) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
}

// Version returns the current version.
func (w *Watch) Version() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Changed blocks until the version is greater than seen and returns the new version.
// It returns ctx.Err() when the context is done and ErrWatchClosed after Close.
func (w *Watch) Changed(ctx context.Context, seen uint64) (uint64, error) {
	for {
		w.mu.Lock()
		if w.version > seen {
			v := w.version
			w.mu.Unlock()
			return v, nil
		}
		if w.closed {
			w.mu.Unlock()
			return seen, ErrWatchClosed
		}
		ch := w.changed
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return seen, ctx.Err()
		}
	}
}

// Close wakes all observers permanently; subsequent Changed calls return ErrWatchClosed
// once they have seen the last version.
func (w *Watch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.changed)
}

// ErrWatchClosed is returned by Changed after the watch was closed.
var ErrWatchClosed = errors.New("buffer: watch closed")
