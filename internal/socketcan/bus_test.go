//go:build linux

package socketcan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mjaros/go-can-router/internal/can"
)

// fakeDev is an in-memory Dev: reads pop from a channel, writes accumulate.
type fakeDev struct {
	mu     sync.Mutex
	rx     chan can.Frame
	wrote  []can.Frame
	closed bool
}

func newFakeDev() *fakeDev { return &fakeDev{rx: make(chan can.Frame, 16)} }

func (d *fakeDev) ReadFrame(fr *can.Frame) error {
	f, ok := <-d.rx
	if !ok {
		return errors.New("device closed")
	}
	*fr = f
	return nil
}

func (d *fakeDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.wrote = append(d.wrote, fr)
	d.mu.Unlock()
	return nil
}

func (d *fakeDev) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.rx)
	}
	d.mu.Unlock()
	return nil
}

func TestBusReceiveInvokesCallback(t *testing.T) {
	dev := newFakeDev()
	b := NewBus(context.Background(), dev, 8)
	defer b.Close()

	got := make(chan can.Frame, 1)
	b.OnReceive(func(fr can.Frame) { got <- fr })

	dev.rx <- can.Frame{CANID: 0x123, Len: 1, Data: [8]byte{0xAB}}
	select {
	case fr := <-got:
		if fr.CANID != 0x123 {
			t.Fatalf("unexpected frame %+v", fr)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestBusSendWritesDevice(t *testing.T) {
	dev := newFakeDev()
	b := NewBus(context.Background(), dev, 8)
	defer b.Close()

	if err := b.SendFrame(can.Frame{CANID: 0x55, Len: 2, Data: [8]byte{1, 2}}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dev.mu.Lock()
		n := len(dev.wrote)
		dev.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("frame never written to device")
}

func TestBusClearCallback(t *testing.T) {
	dev := newFakeDev()
	b := NewBus(context.Background(), dev, 8)
	defer b.Close()

	got := make(chan can.Frame, 4)
	b.OnReceive(func(fr can.Frame) { got <- fr })
	dev.rx <- can.Frame{CANID: 1}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("first frame not delivered")
	}
	b.OnReceive(nil)
	dev.rx <- can.Frame{CANID: 2}
	select {
	case fr := <-got:
		t.Fatalf("frame delivered after callback cleared: %+v", fr)
	case <-time.After(50 * time.Millisecond):
	}
}
