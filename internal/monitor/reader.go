package monitor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/metrics"
	"github.com/mjaros/go-can-router/internal/serial"
	"github.com/mjaros/go-can-router/internal/socketcan"
	"github.com/mjaros/go-can-router/internal/transport"
)

// startReader launches the goroutine decoding frames a client sends and
// injecting them onto the bus.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		onFrame := func(fr can.Frame) {
			metrics.IncMonitorRx()
			if s.Send == nil {
				return
			}
			if err := s.Send(fr); err != nil {
				if errors.Is(err, serial.ErrTxOverflow) || errors.Is(err, socketcan.ErrTxOverflow) {
					s.totalBusOverflow.Add(1)
					logger.Debug("bus_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
				} else {
					wrap := fmt.Errorf("%w: %v", ErrBusTx, err)
					s.setError(wrap)
					s.totalBusErrors.Add(1)
					logger.Error("bus_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.CANID))
				}
			}
		}
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			var err error
			if mfd, ok := s.Codec.(transport.MultiFrameDecoder); ok {
				count, err = mfd.DecodeN(conn, 16, onFrame)
			} else {
				var fr can.Frame
				fr, err = s.Codec.Decode(conn)
				if err == nil {
					onFrame(fr)
					count = 1
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
