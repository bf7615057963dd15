// Package router dispatches received CAN frames to identifier-bound
// callbacks over a fixed-capacity route table.
//
// A Router binds to exactly one peripheral (bus.Bus) and installs its
// dispatch entry point as that peripheral's receive callback. On every
// received frame it scans the route table in insertion order and invokes
// the first handler whose identifier matches; frames that match nothing
// are dropped. The table never grows: capacity is fixed at construction
// and registration beyond it fails with ErrCapacityExceeded.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/metrics"
)

// DefaultCapacity is the route table size used when WithCapacity is not given.
const DefaultCapacity = 32

// Sentinel errors callers classify via errors.Is.
var (
	// ErrCapacityExceeded is returned by route registration when the fixed
	// route table is full. Recoverable: cancel a binding or rebuild with a
	// larger capacity.
	ErrCapacityExceeded = errors.New("route capacity exceeded")
	// ErrDetached is returned by operations on a router that has been
	// handed off or closed.
	ErrDetached = errors.New("router detached")
)

// Router routes received CAN frames to registered handlers by identifier.
//
// Exactly one router may be active for a given peripheral: the constructor
// installs the router's dispatch entry point as the peripheral's single
// receive callback slot, Handoff re-points it at the successor, and Close
// resets it to a no-op. Routers are created by New only and never copied.
type Router struct {
	mu sync.RWMutex
	b  bus.Bus // nil once detached
	st *store  // moves wholesale on Handoff
}

// Option configures a Router at construction time.
type Option func(*config)

type config struct {
	capacity int
}

// WithCapacity sets the fixed route table capacity.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// New binds a router to b and installs its dispatch entry point as the
// peripheral's receive callback. The peripheral must outlive the router.
func New(b bus.Bus, opts ...Option) (*Router, error) {
	if b == nil {
		return nil, errors.New("router: nil bus")
	}
	cfg := config{capacity: DefaultCapacity}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.capacity <= 0 {
		return nil, fmt.Errorf("router: invalid capacity %d", cfg.capacity)
	}
	r := &Router{b: b, st: newStore(cfg.capacity)}
	b.OnReceive(r.dispatch)
	return r, nil
}

// Bus returns the peripheral the router listens on, for transmitting
// through the same port. Calling Bus on a detached router is a programmer
// error; it returns nil.
func (r *Router) Bus() bus.Bus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.b
}

// AddRoute registers id with the default drop handler. The returned binding
// must be retained: the route stays active until Binding.Cancel.
func (r *Router) AddRoute(id uint32) (*Binding, error) {
	return r.AddRouteFunc(id, Drop)
}

// AddRouteFunc registers a handler for frames whose identifier equals id.
// Two routes may share an identifier; only the first-registered one ever
// fires. Fails with ErrCapacityExceeded when the route table is full.
func (r *Router) AddRouteFunc(id uint32, h Handler) (*Binding, error) {
	r.mu.RLock()
	st := r.st
	r.mu.RUnlock()
	if st == nil {
		return nil, ErrDetached
	}
	if h == nil {
		h = Drop
	}
	idx, ok := st.pushBack(Route{ID: id, Handler: h})
	if !ok {
		metrics.IncCapacityReject()
		return nil, fmt.Errorf("%w (capacity %d)", ErrCapacityExceeded, st.capacity())
	}
	metrics.SetRoutes(st.len())
	return &Binding{st: st, id: id, idx: idx}, nil
}

// Routes returns a copy of the registered routes in insertion order, for
// diagnostics and tests.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	st := r.st
	r.mu.RUnlock()
	if st == nil {
		return nil
	}
	return st.snapshot()
}

// Handoff transfers the route table and the peripheral to a new router
// instance, re-points the peripheral's receive callback at it, and leaves
// the receiver detached. Outstanding bindings stay valid against the
// successor. Fails with ErrDetached if the receiver was already handed off
// or closed.
func (r *Router) Handoff() (*Router, error) {
	r.mu.Lock()
	if r.b == nil {
		r.mu.Unlock()
		return nil, ErrDetached
	}
	nr := &Router{b: r.b, st: r.st}
	r.b = nil
	r.st = nil
	r.mu.Unlock()
	nr.b.OnReceive(nr.dispatch)
	return nr, nil
}

// Close resets the peripheral's receive callback to a no-op and detaches
// the router, guaranteeing no callback fires into released router state.
// Closing a detached router is a no-op. Close never fails; it exists to
// satisfy the usual io.Closer teardown shape.
func (r *Router) Close() error {
	r.mu.Lock()
	b := r.b
	r.b = nil
	r.st = nil
	r.mu.Unlock()
	if b != nil {
		b.OnReceive(nil)
	}
	return nil
}

// dispatch is the receive entry point installed on the peripheral. It runs
// on the backend's RX goroutine (the interrupt context of this design) and
// performs a bounded linear scan with no allocation: first identifier match
// wins, no match drops the frame.
func (r *Router) dispatch(fr can.Frame) {
	r.mu.RLock()
	st := r.st
	r.mu.RUnlock()
	if st == nil {
		// Stale invocation after detach; the callback has been rebound or
		// cleared, so nothing to do.
		return
	}
	if st.dispatch(fr) {
		metrics.IncDispatched()
	} else {
		metrics.IncUnrouted()
	}
}
