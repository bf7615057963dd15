package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mjaros/go-can-router/internal/can"
)

// ErrTxQueueClosed is returned by Enqueue after Close.
var ErrTxQueueClosed = errors.New("tx queue closed")

// TxQueue funnels frame writes for one device through a single goroutine
// (fan-in). Enqueue never blocks: when the buffer is full the configured
// OnOverflow hook runs and its error is returned, so producers are never
// held hostage by a slow or wedged device.
//
// Life-cycle:
//
//	q := NewTxQueue(ctx, buf, sendFn, hooks)
//	q.Enqueue(frame)
//	q.Close()
//
// Hooks let each backend keep its own metrics and logging without
// duplicating the goroutine and buffer plumbing.
type TxQueue struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize TxQueue behavior.
type Hooks struct {
	// OnError runs when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnSent runs after every successful send.
	OnSent func()
	// OnOverflow runs when the buffer is full; its error is returned from
	// Enqueue. If nil, the overflow is silent (best-effort fire-and-forget).
	OnOverflow func() error
}

// NewTxQueue starts a TxQueue with a buffered channel of size buf.
func NewTxQueue(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *TxQueue {
	ctx, cancel := context.WithCancel(parent)
	q := &TxQueue{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *TxQueue) loop() {
	defer q.wg.Done()
	for {
		select {
		case fr, ok := <-q.ch:
			if !ok {
				return
			}
			if err := q.send(fr); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(err)
				}
				continue
			}
			if q.hooks.OnSent != nil {
				q.hooks.OnSent()
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// Enqueue queues a frame for asynchronous transmission. Returns the
// overflow error when the buffer is full and ErrTxQueueClosed after Close.
func (q *TxQueue) Enqueue(fr can.Frame) error {
	// Fast path so steady-state sends skip the lock once shut down.
	if q.closed.Load() {
		return ErrTxQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrTxQueueClosed
	}
	select {
	case q.ch <- fr:
		return nil
	default:
		if q.hooks.OnOverflow != nil {
			return q.hooks.OnOverflow()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. Idempotent.
func (q *TxQueue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
