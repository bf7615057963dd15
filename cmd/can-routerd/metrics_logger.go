package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mjaros/go-can-router/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"dispatched", snap.Dispatched,
					"unrouted", snap.Unrouted,
					"capacity_rejects", snap.CapacityRejects,
					"routes", snap.Routes,
					"bus_rx", snap.BusRx,
					"bus_tx", snap.BusTx,
					"monitor_rx", snap.MonitorRx,
					"monitor_tx", snap.MonitorTx,
					"monitor_drops", snap.MonitorDrops,
					"monitor_clients", snap.MonitorClients,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
