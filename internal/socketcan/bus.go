//go:build linux

package socketcan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/logging"
	"github.com/mjaros/go-can-router/internal/metrics"
	"github.com/mjaros/go-can-router/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// Dev is the minimal device surface needed by Bus.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// Bus adapts a SocketCAN device to the bus.Bus peripheral contract: a
// single RX pump goroutine invokes the installed receive callback for every
// frame read from the socket, and all writes funnel through one TX queue.
type Bus struct {
	dev    Dev
	tx     *transport.TxQueue
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.RWMutex
	cb bus.ReceiveFunc
}

// OpenBus opens iface and starts the RX pump. txBuf sizes the async TX queue.
func OpenBus(parent context.Context, iface string, txBuf int) (*Bus, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	return NewBus(parent, dev, txBuf), nil
}

// NewBus wraps an already-open device. Used directly by tests with a fake Dev.
func NewBus(parent context.Context, dev Dev, txBuf int) *Bus {
	ctx, cancel := context.WithCancel(parent)
	b := &Bus{dev: dev, cancel: cancel}
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrSocketCANWrite) },
		OnSent:  func() { metrics.IncBusTx() },
		OnOverflow: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	}
	b.tx = transport.NewTxQueue(ctx, txBuf, dev.WriteFrame, hooks)
	b.wg.Add(1)
	go b.rxPump(ctx)
	return b
}

func (b *Bus) rxPump(ctx context.Context) {
	defer b.wg.Done()
	defer logging.L().Info("socketcan_rx_end")
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var fr can.Frame
		if err := b.dev.ReadFrame(&fr); err != nil {
			if ctx.Err() != nil { // shutting down
				return
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			logging.L().Warn("socketcan_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		metrics.IncBusRx()
		b.mu.RLock()
		cb := b.cb
		b.mu.RUnlock()
		if cb != nil {
			cb(fr)
		}
		backoff = rxBackoffMin
	}
}

// SendFrame queues a frame for asynchronous device write; drops with
// ErrTxOverflow when the queue is full.
func (b *Bus) SendFrame(fr can.Frame) error { return b.tx.Enqueue(fr) }

// OnReceive installs fn as the receive callback; nil clears it.
func (b *Bus) OnReceive(fn bus.ReceiveFunc) {
	b.mu.Lock()
	b.cb = fn
	b.mu.Unlock()
}

// Close stops the RX pump and TX queue and closes the device.
func (b *Bus) Close() error {
	b.cancel()
	err := b.dev.Close() // unblocks a pending read
	b.wg.Wait()
	b.tx.Close()
	return err
}
