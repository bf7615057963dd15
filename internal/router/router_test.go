package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/can"
)

// fakeBus records the installed receive callback so tests can simulate
// frame arrival and observe rebinding across handoff and close.
type fakeBus struct {
	mu       sync.Mutex
	cb       bus.ReceiveFunc
	sent     []can.Frame
	installs int
}

func (f *fakeBus) SendFrame(fr can.Frame) error {
	f.mu.Lock()
	f.sent = append(f.sent, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) OnReceive(fn bus.ReceiveFunc) {
	f.mu.Lock()
	f.cb = fn
	f.installs++
	f.mu.Unlock()
}

func (f *fakeBus) Close() error { return nil }

// inject simulates the peripheral delivering a received frame.
func (f *fakeBus) inject(fr can.Frame) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(fr)
	}
}

func (f *fakeBus) callbackInstalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb != nil
}

func TestNewInstallsCallback(t *testing.T) {
	fb := &fakeBus{}
	r, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()
	if !fb.callbackInstalled() {
		t.Fatal("constructor did not install the receive callback")
	}
	if r.Bus() != bus.Bus(fb) {
		t.Fatal("Bus() did not return the bound peripheral")
	}
}

func TestNewNilBus(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil bus")
	}
}

func TestNewInvalidCapacity(t *testing.T) {
	if _, err := New(&fakeBus{}, WithCapacity(0)); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := New(&fakeBus{}, WithCapacity(-1)); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestDispatchFirstRegisteredWins(t *testing.T) {
	fb := &fakeBus{}
	r, err := New(fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	var fired []string
	a, _ := r.AddRouteFunc(0x100, func(can.Frame) { fired = append(fired, "A") })
	b, _ := r.AddRouteFunc(0x200, func(can.Frame) { fired = append(fired, "B") })
	c, _ := r.AddRouteFunc(0x100, func(can.Frame) { fired = append(fired, "C") })
	defer a.Cancel()
	defer b.Cancel()
	defer c.Cancel()

	fb.inject(can.Frame{CANID: 0x100})
	fb.inject(can.Frame{CANID: 0x200})
	fb.inject(can.Frame{CANID: 0x300}) // no route; silent drop

	if len(fired) != 2 || fired[0] != "A" || fired[1] != "B" {
		t.Fatalf("expected [A B], got %v", fired)
	}
}

func TestDispatchIgnoresFlagBits(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb)
	defer r.Close()

	var got int
	bd, _ := r.AddRouteFunc(0x1234, func(can.Frame) { got++ })
	defer bd.Cancel()

	fb.inject(can.Frame{CANID: 0x1234 | can.CAN_EFF_FLAG})
	if got != 1 {
		t.Fatalf("extended-flagged frame did not match masked ID, got %d", got)
	}
}

func TestCancelRemovesExactlyThatRoute(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb)
	defer r.Close()

	var fired []string
	first, _ := r.AddRouteFunc(0x100, func(can.Frame) { fired = append(fired, "first") })
	second, _ := r.AddRouteFunc(0x100, func(can.Frame) { fired = append(fired, "second") })
	defer second.Cancel()

	first.Cancel()
	first.Cancel() // idempotent

	fb.inject(can.Frame{CANID: 0x100})
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("expected fall-through to second route, got %v", fired)
	}

	second.Cancel()
	fb.inject(can.Frame{CANID: 0x100})
	if len(fired) != 1 {
		t.Fatalf("handler fired after all routes canceled: %v", fired)
	}
}

func TestCapacityExceeded(t *testing.T) {
	fb := &fakeBus{}
	r, err := New(fb, WithCapacity(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	a, err := r.AddRoute(0x1)
	if err != nil {
		t.Fatalf("first AddRoute: %v", err)
	}
	if _, err := r.AddRoute(0x2); err != nil {
		t.Fatalf("second AddRoute: %v", err)
	}
	if _, err := r.AddRoute(0x3); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	a.Cancel()
	if _, err := r.AddRoute(0x3); err != nil {
		t.Fatalf("AddRoute after freeing a slot: %v", err)
	}
}

func TestRoutesSnapshot(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb)
	defer r.Close()

	b1, _ := r.AddRoute(0x10)
	b2, _ := r.AddRoute(0x20)
	defer b1.Cancel()
	defer b2.Cancel()

	rts := r.Routes()
	if len(rts) != 2 || rts[0].ID != 0x10 || rts[1].ID != 0x20 {
		t.Fatalf("unexpected Routes snapshot: %+v", rts)
	}
	// Mutating the snapshot must not affect the router.
	rts[0].ID = 0xFF
	if r.Routes()[0].ID != 0x10 {
		t.Fatal("Routes returned a mutable view of internal state")
	}
}

func TestHandoffTransfersRoutesAndRebinds(t *testing.T) {
	fb := &fakeBus{}
	old, _ := New(fb)

	var fired int
	bd, _ := old.AddRouteFunc(0x100, func(can.Frame) { fired++ })

	nr, err := old.Handoff()
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	defer nr.Close()

	// Route registered before the move still dispatches through the successor.
	fb.inject(can.Frame{CANID: 0x100})
	if fired != 1 {
		t.Fatalf("expected dispatch through successor, fired=%d", fired)
	}

	// The source is detached: its Close must not clear the peripheral callback.
	if err := old.Close(); err != nil {
		t.Fatalf("Close detached: %v", err)
	}
	fb.inject(can.Frame{CANID: 0x100})
	if fired != 2 {
		t.Fatalf("detached Close cleared the live callback, fired=%d", fired)
	}

	// Detached source rejects further operations.
	if _, err := old.AddRoute(0x1); !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached from AddRoute, got %v", err)
	}
	if _, err := old.Handoff(); !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached from second Handoff, got %v", err)
	}
	if old.Bus() != nil {
		t.Fatal("detached router still exposes a bus")
	}

	// Bindings stay valid against the successor.
	bd.Cancel()
	fb.inject(can.Frame{CANID: 0x100})
	if fired != 2 {
		t.Fatalf("canceled binding still dispatched, fired=%d", fired)
	}
}

func TestCloseResetsCallback(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb)

	var fired int
	bd, _ := r.AddRouteFunc(0x100, func(can.Frame) { fired++ })
	defer bd.Cancel()

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fb.callbackInstalled() {
		t.Fatal("Close did not reset the receive callback")
	}
	// Simulated late delivery is a safe no-op.
	fb.inject(can.Frame{CANID: 0x100})
	if fired != 0 {
		t.Fatalf("handler fired after Close, fired=%d", fired)
	}
	// Idempotent.
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestHandlerMayMutateRoutes(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb)
	defer r.Close()

	var late *Binding
	bd, _ := r.AddRouteFunc(0x1, func(can.Frame) {
		// Registering from within a handler must not deadlock.
		late, _ = r.AddRoute(0x2)
	})
	defer bd.Cancel()

	fb.inject(can.Frame{CANID: 0x1})
	if late == nil {
		t.Fatal("registration from handler failed")
	}
	late.Cancel()
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	fb := &fakeBus{}
	r, _ := New(fb, WithCapacity(128))
	defer r.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				fb.inject(can.Frame{CANID: 0x42})
			}
		}
	}()
	for i := 0; i < 100; i++ {
		bd, err := r.AddRoute(uint32(i))
		if err != nil {
			t.Errorf("AddRoute %d: %v", i, err)
			break
		}
		bd.Cancel()
	}
	close(stop)
	wg.Wait()
}
