package bus

import (
	"errors"

	"github.com/mjaros/go-can-router/internal/can"
)

// ReceiveFunc is the receive callback a peripheral invokes for every frame
// that arrives on the wire. Backends call it from their RX pump goroutine,
// so implementations must be quick and must not block.
type ReceiveFunc func(can.Frame)

// Bus is the CAN peripheral driver contract consumed by the router.
//
// OnReceive installs the single receive callback slot: last writer wins and
// nil clears the slot back to a no-op. SendFrame transmits a frame through
// the same port the callback listens on.
type Bus interface {
	SendFrame(can.Frame) error
	OnReceive(ReceiveFunc)
	Close() error
}

// ErrClosed is returned by SendFrame on a closed bus or port.
var ErrClosed = errors.New("bus closed")
