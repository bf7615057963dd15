package main

import (
	"context"
	"log/slog"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/serial"
)

func initSerialBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (bus.Bus, error) {
	b, err := serial.OpenBus(ctx, cfg.serialDev, cfg.baud, cfg.serialReadTO, txQueueSize)
	if err != nil {
		return nil, err
	}
	l.Info("serial_backend_ready", "device", cfg.serialDev, "baud", cfg.baud)
	return b, nil
}
