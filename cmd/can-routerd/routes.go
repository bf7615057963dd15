package main

import (
	"fmt"
	"log/slog"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/monitor"
	"github.com/mjaros/go-can-router/internal/router"
)

// installRoutes registers the configured identifier routes on the router.
// Monitored identifiers fan out to TCP clients through the hub; logged
// identifiers emit a structured log line per frame. Returned bindings stay
// alive for the daemon lifetime; the caller cancels them on shutdown.
func installRoutes(r *router.Router, cfg *appConfig, h *monitor.Hub, l *slog.Logger) ([]*router.Binding, error) {
	bindings := make([]*router.Binding, 0, len(cfg.monitorIDs)+len(cfg.logIDs))
	for _, id := range cfg.monitorIDs {
		b, err := r.AddRouteFunc(id, func(fr can.Frame) { h.Broadcast(fr) })
		if err != nil {
			cancelAll(bindings)
			return nil, fmt.Errorf("monitor route 0x%X: %w", id, err)
		}
		bindings = append(bindings, b)
	}
	for _, id := range cfg.logIDs {
		b, err := r.AddRouteFunc(id, func(fr can.Frame) {
			l.Info("frame",
				"can_id", fmt.Sprintf("0x%X", fr.ID()),
				"ext", fr.Extended(),
				"rtr", fr.RTR(),
				"len", fr.Len,
				"data", fmt.Sprintf("% X", fr.Payload()))
		})
		if err != nil {
			cancelAll(bindings)
			return nil, fmt.Errorf("log route 0x%X: %w", id, err)
		}
		bindings = append(bindings, b)
	}
	l.Info("routes_installed",
		"monitored", len(cfg.monitorIDs),
		"logged", len(cfg.logIDs),
		"capacity", cfg.routeCapacity)
	return bindings, nil
}

func cancelAll(bindings []*router.Binding) {
	for _, b := range bindings {
		b.Cancel()
	}
}
