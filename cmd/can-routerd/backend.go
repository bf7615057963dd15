package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mjaros/go-can-router/internal/bus"
)

// initBackend opens the configured CAN backend. The returned Bus owns its RX
// pump and TX queue; closing it releases the device. Errors are returned
// instead of exiting so the caller can shut down gracefully.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (bus.Bus, error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, l)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, l)
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
