package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/path"
)

var Logger = logger.GetLogger("router")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// ISource publishes the values below a mount point.
type ISource interface {
	// Paths enumerates every path below the mount (relative to it) with its type name.
	Paths() map[string]string
	// Read returns a snapshot of the value at suffix.
	Read(suffix path.Path) (Value, error)
	// Watch is notified whenever the values of the source may have changed.
	Watch() *buffer.Watch
}

// IRequestingSource is implemented by sources whose values are only produced on demand.
// The router calls Request when a subscription opens and the release function when it closes.
type IRequestingSource interface {
	ISource
	Request(suffix path.Path) (release func())
}

// ISink accepts writes below a mount point.
type ISink interface {
	// Write replaces the value at suffix. An empty suffix replaces the whole subtree.
	Write(suffix path.Path, timestamp time.Time, value any) error
}

// IPersistingSink is implemented by sinks that can store their in-memory state on disk.
type IPersistingSink interface {
	ISink
	Persist(suffix path.Path, scope string) error
}

// PathKind separates the mounts for tooling.
type PathKind string

const (
	KindOutputs    PathKind = "outputs"
	KindParameters PathKind = "parameters"
)

// ParsePathKind parses the kind of a GetPaths request.
func ParsePathKind(s string) (PathKind, error) {
	switch PathKind(s) {
	case KindOutputs, KindParameters:
		return PathKind(s), nil
	default:
		return "", fmt.Errorf("unknown path kind %q, must be one of %s, %s", s, KindOutputs, KindParameters)
	}
}

// Mount binds a path prefix to a source, a sink or both.
type Mount struct {
	Prefix path.Path
	Kind   PathKind
	Source ISource
	Sink   ISink
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// Router dispatches path addressed requests to the mount whose prefix matches. No mount prefix is
// a prefix of another, so at most one mount matches any path.
// Mounts are registered at startup. All methods are safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	mounts []*Mount // longest prefix first
	closed bool

	// mounts by their dotted prefix
	lookup        *xsync.MapOf[string, *Mount]
	subscriptions *xsync.MapOf[*Subscription, struct{}]

	ctx    context.Context
	cancel context.CancelFunc

	reads, writes, subscribes, failures *vm.Counter
}

// New creates an empty router. Metrics are registered in set (a fresh set if nil).
func New(set *vm.Set) *Router {
	if set == nil {
		set = vm.NewSet()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		lookup:        xsync.NewMapOf[string, *Mount](),
		subscriptions: xsync.NewMapOf[*Subscription, struct{}](),
		ctx:           ctx,
		cancel:        cancel,
		reads:         set.GetOrCreateCounter(`dcycle_router_requests_total{op="read"}`),
		writes:        set.GetOrCreateCounter(`dcycle_router_requests_total{op="write"}`),
		subscribes:    set.GetOrCreateCounter(`dcycle_router_requests_total{op="subscribe"}`),
		failures:      set.GetOrCreateCounter(`dcycle_router_failures_total`),
	}
	set.GetOrCreateGauge(`dcycle_router_subscriptions`, func() float64 {
		return float64(r.SubscriptionCount())
	})
	return r
}

// Mount registers a mount point. A prefix that equals, contains or lies below the prefix of an
// existing mount fails with ErrMountConflict.
func (r *Router) Mount(m Mount) error {
	if m.Source == nil && m.Sink == nil {
		return NewError(RetCMountConflict, fmt.Sprintf("mount %s has neither source nor sink", m.Prefix))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.mounts {
		if existing.Prefix.Equal(m.Prefix) {
			return NewError(RetCMountConflict, fmt.Sprintf("%s is already mounted", m.Prefix))
		}
		if existing.Prefix.Overlaps(m.Prefix) {
			return NewError(RetCMountConflict, fmt.Sprintf("%s overlaps the mount %s", m.Prefix, existing.Prefix))
		}
	}
	mount := m
	r.mounts = append(r.mounts, &mount)
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].Prefix) > len(r.mounts[j].Prefix)
	})
	r.lookup.Store(mount.Prefix.String(), &mount)

	Logger.Debugf("mounted %s (source: %t, sink: %t)", m.Prefix, m.Source != nil, m.Sink != nil)
	return nil
}

// resolve finds the mount for p and returns it together with the remaining suffix.
func (r *Router) resolve(p path.Path) (*Mount, path.Path, error) {
	for i := 1; i <= len(p); i++ {
		if m, ok := r.lookup.Load(p[:i].String()); ok {
			return m, p[i:], nil
		}
	}
	return nil, nil, NewError(RetCNoSuchPath, fmt.Sprintf("no mount for %s", p))
}

// Paths enumerates all readable paths of the given kind with their type names.
func (r *Router) Paths(kind PathKind) map[string]string {
	r.mu.RLock()
	mounts := make([]*Mount, len(r.mounts))
	copy(mounts, r.mounts)
	r.mu.RUnlock()

	out := make(map[string]string)
	for _, m := range mounts {
		if m.Kind != kind || m.Source == nil {
			continue
		}
		for suffix, typeName := range m.Source.Paths() {
			out[m.Prefix.String()+"."+suffix] = typeName
		}
	}
	return out
}

// Read returns a snapshot of the value at p.
func (r *Router) Read(p path.Path) (Value, error) {
	r.reads.Inc()
	m, suffix, err := r.resolve(p)
	if err != nil {
		return Value{}, r.fail(err)
	}
	if m.Source == nil {
		return Value{}, r.fail(NewError(RetCNotReadable, fmt.Sprintf("%s is write only", m.Prefix)))
	}
	v, err := m.Source.Read(suffix)
	if err != nil {
		return Value{}, r.fail(translate(p, err))
	}
	return v, nil
}

// Write applies value at p.
func (r *Router) Write(p path.Path, timestamp time.Time, value any) error {
	r.writes.Inc()
	m, suffix, err := r.resolve(p)
	if err != nil {
		return r.fail(err)
	}
	if m.Sink == nil {
		return r.fail(NewError(RetCNotWritable, fmt.Sprintf("%s is read only", m.Prefix)))
	}
	if err := m.Sink.Write(suffix, timestamp, value); err != nil {
		return r.fail(translate(p, err))
	}
	return nil
}

// Persist stores the value at p on disk in the given scope.
func (r *Router) Persist(p path.Path, scope string) error {
	m, suffix, err := r.resolve(p)
	if err != nil {
		return r.fail(err)
	}
	persisting, ok := m.Sink.(IPersistingSink)
	if !ok {
		return r.fail(NewError(RetCNotWritable, fmt.Sprintf("%s cannot be persisted", m.Prefix)))
	}
	if err := persisting.Persist(suffix, scope); err != nil {
		return r.fail(translate(p, err))
	}
	return nil
}

// Subscribe opens a subscription on p. The current value is delivered as the first update, after
// that a value is delivered whenever the value at p changed. The caller must Close the subscription.
func (r *Router) Subscribe(p path.Path) (*Subscription, error) {
	r.subscribes.Inc()
	m, suffix, err := r.resolve(p)
	if err != nil {
		return nil, r.fail(err)
	}
	if m.Source == nil {
		return nil, r.fail(NewError(RetCNotReadable, fmt.Sprintf("%s is write only", m.Prefix)))
	}

	sub := newSubscription(p)
	if requesting, ok := m.Source.(IRequestingSource); ok {
		sub.release = requesting.Request(suffix)
	}

	// version first, so a change between it and the initial read is never missed
	watch := m.Source.Watch()
	seen := watch.Version()
	first, err := m.Source.Read(suffix)
	if err != nil {
		if sub.release != nil {
			sub.release()
		}
		return nil, r.fail(translate(p, err))
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		if sub.release != nil {
			sub.release()
		}
		return nil, NewError(RetCClosed, "router is closed")
	}
	ctx, stop := context.WithCancel(r.ctx)
	sub.stop = stop
	sub.onClose = func(s *Subscription) { r.subscriptions.Delete(s) }
	r.subscriptions.Store(sub, struct{}{})
	r.mu.RUnlock()

	sub.offer(first)
	go r.forward(ctx, sub, m, suffix, watch, seen, first)

	Logger.Debugf("subscribed %s", p)
	return sub, nil
}

// forward feeds a subscription until it is closed.
func (r *Router) forward(ctx context.Context, sub *Subscription, m *Mount, suffix path.Path, watch *buffer.Watch, seen uint64, last Value) {
	for {
		version, err := watch.Changed(ctx, seen)
		if err != nil {
			if errors.Is(err, buffer.ErrWatchClosed) {
				sub.closeWith(NewError(RetCClosed, fmt.Sprintf("source of %s closed", m.Prefix)))
			}
			return
		}
		seen = version

		v, err := m.Source.Read(suffix)
		if err != nil {
			Logger.Debugf("closing subscription %s: %v", sub.path, err)
			sub.closeWith(translate(sub.path, err))
			return
		}
		if reflect.DeepEqual(v.Data, last.Data) {
			continue
		}
		last = v
		sub.offer(v)
	}
}

// Close closes all subscriptions. Further subscriptions fail with ErrClosed.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.subscriptions.Range(func(s *Subscription, _ struct{}) bool {
		s.Close()
		return true
	})
}

// SubscriptionCount returns the number of open subscriptions.
func (r *Router) SubscriptionCount() int {
	return r.subscriptions.Size()
}

func (r *Router) fail(err error) error {
	r.failures.Inc()
	return err
}

// translate maps errors of the path algebra to router errors.
func translate(p path.Path, err error) error {
	var routerErr *Error
	switch {
	case errors.As(err, &routerErr):
		return err
	case errors.Is(err, path.ErrNoSuchPath):
		return NewError(RetCNoSuchPath, fmt.Sprintf("%s: %v", p, err))
	case errors.Is(err, path.ErrTypeMismatch), errors.Is(err, path.ErrInvalidPath):
		return NewError(RetCDecode, fmt.Sprintf("%s: %v", p, err))
	default:
		return err
	}
}
