package bus

import (
	"sync"

	"github.com/mjaros/go-can-router/internal/can"
)

// Loopback is an in-memory CAN bus for tests and simulations. Ports opened
// from the same Loopback exchange frames: a frame sent on one port is
// delivered synchronously, in the sender's goroutine, to the receive
// callback of every other port. Synchronous delivery mimics the
// interrupt-context invocation of a real peripheral's receive hook.
type Loopback struct {
	mu     sync.RWMutex
	closed bool
	ports  map[*Port]struct{}
}

// NewLoopback creates an empty loopback bus.
func NewLoopback() *Loopback {
	return &Loopback{ports: make(map[*Port]struct{})}
}

// Open attaches a new port to the bus.
func (b *Loopback) Open() *Port {
	p := &Port{bus: b}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		p.dead = true
		return p
	}
	b.ports[p] = struct{}{}
	b.mu.Unlock()
	return p
}

// Close detaches all ports and marks the bus closed.
func (b *Loopback) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for p := range b.ports {
		p.mu.Lock()
		p.dead = true
		p.cb = nil
		p.mu.Unlock()
	}
	b.ports = nil
	b.mu.Unlock()
	return nil
}

// Port is a single endpoint on a Loopback bus. It implements Bus.
type Port struct {
	bus  *Loopback
	mu   sync.RWMutex
	cb   ReceiveFunc
	dead bool
}

// SendFrame delivers the frame to all other ports on the same bus.
func (p *Port) SendFrame(fr can.Frame) error {
	p.mu.RLock()
	dead := p.dead
	p.mu.RUnlock()
	if dead {
		return ErrClosed
	}
	p.bus.mu.RLock()
	if p.bus.closed {
		p.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Port, 0, len(p.bus.ports))
	for t := range p.bus.ports {
		if t != p {
			targets = append(targets, t)
		}
	}
	p.bus.mu.RUnlock()
	for _, t := range targets {
		t.deliver(fr)
	}
	return nil
}

// OnReceive installs fn as the port's receive callback; nil clears it.
func (p *Port) OnReceive(fn ReceiveFunc) {
	p.mu.Lock()
	p.cb = fn
	p.mu.Unlock()
}

// Close detaches the port from the bus. Further sends fail with ErrClosed
// and the port no longer receives frames.
func (p *Port) Close() error {
	p.bus.mu.Lock()
	if p.bus.ports != nil {
		delete(p.bus.ports, p)
	}
	p.bus.mu.Unlock()
	p.mu.Lock()
	p.dead = true
	p.cb = nil
	p.mu.Unlock()
	return nil
}

func (p *Port) deliver(fr can.Frame) {
	p.mu.RLock()
	cb := p.cb
	dead := p.dead
	p.mu.RUnlock()
	if dead || cb == nil {
		return
	}
	cb(fr)
}
