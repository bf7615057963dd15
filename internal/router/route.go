package router

import (
	"sync"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/metrics"
)

// Handler is the callback bound to a route. It runs on the backend's RX
// goroutine, so it must be quick and must not block.
type Handler func(can.Frame)

// Drop is the default route handler: it discards the frame.
func Drop(can.Frame) {}

// Route is a single (identifier, handler) binding. The identifier is the
// masked bus address (11-bit standard or 29-bit extended); frame flag bits
// never participate in matching.
type Route struct {
	ID      uint32
	Handler Handler
}

// Binding is the caller-owned token for a registered route. The route stays
// active until Cancel is called; the router itself never revokes a binding.
// Bindings survive a router Handoff untouched.
type Binding struct {
	st         *store
	id         uint32
	idx        int32
	cancelOnce sync.Once
}

// ID returns the identifier the binding was registered with.
func (b *Binding) ID() uint32 { return b.id }

// Cancel removes the bound route in O(1). It is idempotent; canceling an
// already-canceled binding is a no-op.
func (b *Binding) Cancel() {
	if b == nil {
		return
	}
	b.cancelOnce.Do(func() {
		if b.st.remove(b.idx) {
			metrics.SetRoutes(b.st.len())
		}
	})
}
