package monitor

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/metrics"
	"github.com/mjaros/go-can-router/internal/transport"
)

// startWriter launches the goroutine pushing hub frames to a single client
// connection, batching writes up to batchSize or flushInterval.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			if be, ok := s.Codec.(transport.FrameBatchEncoder); ok {
				_, err := be.EncodeTo(conn, batch)
				batch = batch[:0]
				if err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return wrap
				}
				metrics.AddMonitorTx(n)
				return nil
			}
			// Codec without batch support cannot serve the writer; drop.
			batch = batch[:0]
			return nil
		}
		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
