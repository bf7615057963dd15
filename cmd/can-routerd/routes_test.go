package main

import (
	"log/slog"
	"testing"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/monitor"
	"github.com/mjaros/go-can-router/internal/router"
)

func TestInstallRoutes_MonitorFanout(t *testing.T) {
	lb := bus.NewLoopback()
	dev := lb.Open()
	peer := lb.Open()
	defer lb.Close()

	rt, err := router.New(dev, router.WithCapacity(4))
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	defer rt.Close()

	h := monitor.NewHub()
	cl := &monitor.Client{Out: make(chan can.Frame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	cfg := validConfig()
	cfg.routeCapacity = 4
	cfg.monitorIDs = []uint32{0x100}
	bindings, err := installRoutes(rt, cfg, h, slog.Default())
	if err != nil {
		t.Fatalf("installRoutes: %v", err)
	}
	defer cancelAll(bindings)
	if len(bindings) != 1 {
		t.Fatalf("bindings = %d, want 1", len(bindings))
	}

	// Frame from the peer port reaches the hub client through the route.
	if err := peer.SendFrame(can.Frame{CANID: 0x100, Len: 1, Data: [8]byte{0x42}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case fr := <-cl.Out:
		if fr.CANID != 0x100 || fr.Len != 1 || fr.Data[0] != 0x42 {
			t.Fatalf("unexpected frame %+v", fr)
		}
	default:
		t.Fatal("monitored frame never reached the hub client")
	}

	// Unrelated identifier is dropped silently.
	if err := peer.SendFrame(can.Frame{CANID: 0x7FF}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(cl.Out) != 0 {
		t.Fatal("unrouted frame leaked to the hub")
	}
}

func TestInstallRoutes_CapacityExceeded(t *testing.T) {
	lb := bus.NewLoopback()
	dev := lb.Open()
	defer lb.Close()

	rt, err := router.New(dev, router.WithCapacity(1))
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	defer rt.Close()

	cfg := validConfig()
	cfg.routeCapacity = 1
	cfg.monitorIDs = []uint32{0x100, 0x200}
	if _, err := installRoutes(rt, cfg, monitor.NewHub(), slog.Default()); err == nil {
		t.Fatal("expected capacity error")
	}
	if got := len(rt.Routes()); got != 0 {
		t.Fatalf("partial install left %d routes", got)
	}
}
