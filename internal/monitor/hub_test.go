package monitor

import (
	"testing"
	"time"

	"github.com/mjaros/go-can-router/internal/can"
)

func TestHubBroadcastDropDoesNotBlock(t *testing.T) {
	h := NewHub()
	cl := &Client{Out: make(chan can.Frame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate a slow client.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(can.Frame{CANID: 0x123 | can.CAN_EFF_FLAG})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected full client buffer, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHubBroadcastDropKeepsOthersFlowing(t *testing.T) {
	h := NewHub()
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan can.Frame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill the slow buffer, then burst.
	h.Broadcast(can.Frame{CANID: 0x1})
	for i := 0; i < 10; i++ {
		h.Broadcast(can.Frame{CANID: 0x2})
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatal("fast client received nothing while slow was backpressured")
	}
}

func TestHubKickPolicyClosesSlowClient(t *testing.T) {
	h := NewHub()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(can.Frame{CANID: 0x1}) // fills buffer
	h.Broadcast(can.Frame{CANID: 0x2}) // overflow -> kick
	select {
	case <-slow.Closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("slow client was not kicked")
	}
}

func TestHubRemoveIdempotent(t *testing.T) {
	h := NewHub()
	cl := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(cl)
	if h.Count() != 1 {
		t.Fatalf("count = %d", h.Count())
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count after remove = %d", h.Count())
	}
}
