package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/logging"
	"github.com/mjaros/go-can-router/internal/metrics"
	"github.com/mjaros/go-can-router/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

const (
	readBufSize = 4096
	// Reclaim the RX accumulator once it has drained but grew past this,
	// so bursts of line noise do not pin a large backing array forever.
	bufReclaimThreshold = 16 * 1024
	rxBackoffMin        = 20 * time.Millisecond
	rxBackoffMax        = 500 * time.Millisecond
)

// Bus adapts a serial CAN adapter to the bus.Bus peripheral contract. One
// RX pump goroutine reads the port, reassembles frames through the codec
// and invokes the installed receive callback; writes funnel through a
// single TX queue.
type Bus struct {
	port   Port
	codec  Codec
	tx     *transport.TxQueue
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.RWMutex
	cb bus.ReceiveFunc
}

// OpenBus opens the serial device and starts the RX pump. The port read
// timeout keeps the pump responsive to shutdown.
func OpenBus(parent context.Context, device string, baud int, readTimeout time.Duration, txBuf int) (*Bus, error) {
	sp, err := Open(device, baud, readTimeout)
	if err != nil {
		return nil, err
	}
	return NewBus(parent, sp, txBuf), nil
}

// NewBus wraps an already-open port. Used directly by tests with a fake Port.
func NewBus(parent context.Context, sp Port, txBuf int) *Bus {
	ctx, cancel := context.WithCancel(parent)
	b := &Bus{port: sp, cancel: cancel}
	send := func(fr can.Frame) error {
		_, err := sp.Write(b.codec.Encode(fr))
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnSent: func() { metrics.IncBusTx() },
		OnOverflow: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	b.tx = transport.NewTxQueue(ctx, txBuf, send, hooks)
	b.wg.Add(1)
	go b.rxPump(ctx)
	return b
}

func (b *Bus) rxPump(ctx context.Context) {
	defer b.wg.Done()
	defer logging.L().Info("serial_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := b.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			_ = b.codec.DecodeStream(acc, b.deliver)
			if acc.Len() == 0 && cap(acc.Bytes()) > bufReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil { // shutting down
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout or transient EOF
			}
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serial_read_error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

func (b *Bus) deliver(fr can.Frame) {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()
	if cb != nil {
		cb(fr)
	}
}

// SendFrame queues a frame for asynchronous port write; drops with
// ErrTxOverflow when the queue is full.
func (b *Bus) SendFrame(fr can.Frame) error { return b.tx.Enqueue(fr) }

// OnReceive installs fn as the receive callback; nil clears it.
func (b *Bus) OnReceive(fn bus.ReceiveFunc) {
	b.mu.Lock()
	b.cb = fn
	b.mu.Unlock()
}

// Close stops the RX pump and TX queue and closes the port.
func (b *Bus) Close() error {
	b.cancel()
	err := b.port.Close() // unblocks a pending read
	b.wg.Wait()
	b.tx.Close()
	return err
}
