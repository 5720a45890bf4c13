package database

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Unpublished State
// --------------------------------------------------------------------------

// State is a named set of mutable values owned by exactly one cycler. It backs both the persistent
// state and the cycler state of a cycler. It is only touched from the cycler's goroutine and is
// therefore not synchronized.
type State struct {
	values map[string]any
}

// NewState creates an empty state container.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Get returns a pointer to the named value, creating a zero value on first access.
// All accessors of a name must agree on its type.
func Get[T any](s *State, name string) (*T, error) {
	if existing, ok := s.values[name]; ok {
		typed, ok := existing.(*T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("state %q holds %T, requested %s", name, existing, reflect.TypeOf(zero))
		}
		return typed, nil
	}
	value := new(T)
	s.values[name] = value
	return value, nil
}

// Reset drops the named value, the next Get starts from the zero value again.
func (s *State) Reset(name string) {
	delete(s.values, name)
}

// Len returns the number of values currently held.
func (s *State) Len() int {
	return len(s.values)
}

// --------------------------------------------------------------------------
// Additional Output Requests
// --------------------------------------------------------------------------

type request struct {
	refs       atomic.Int64
	leaseUntil atomic.Int64 // unix nanos
}

// Requests tracks which additional outputs of a cycler are currently wanted by a client.
// Subscriptions hold a reference for their whole lifetime, reads grant a short lease.
// Nodes consult it through their cycle context and skip work for unrequested outputs.
type Requests struct {
	entries *xsync.MapOf[string, *request]
	now     func() time.Time
}

// NewRequests creates an empty request registry.
func NewRequests() *Requests {
	return &Requests{
		entries: xsync.NewMapOf[string, *request](),
		now:     time.Now,
	}
}

func (r *Requests) entry(name string) *request {
	e, _ := r.entries.LoadOrCompute(name, func() *request { return &request{} })
	return e
}

// Acquire marks the output as requested until the returned release function is called.
// Release is idempotent.
func (r *Requests) Acquire(name string) (release func()) {
	e := r.entry(name)
	e.refs.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			e.refs.Add(-1)
		}
	}
}

// Lease marks the output as requested for the given duration.
func (r *Requests) Lease(name string, d time.Duration) {
	e := r.entry(name)
	until := r.now().Add(d).UnixNano()
	for {
		current := e.leaseUntil.Load()
		if current >= until || e.leaseUntil.CompareAndSwap(current, until) {
			return
		}
	}
}

// IsRequested reports whether a client currently wants the output.
func (r *Requests) IsRequested(name string) bool {
	e, ok := r.entries.Load(name)
	if !ok {
		return false
	}
	return e.refs.Load() > 0 || e.leaseUntil.Load() > r.now().UnixNano()
}
