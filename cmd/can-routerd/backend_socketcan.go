//go:build linux

package main

import (
	"context"
	"log/slog"

	"github.com/mjaros/go-can-router/internal/bus"
	"github.com/mjaros/go-can-router/internal/socketcan"
)

func initSocketCANBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (bus.Bus, error) {
	b, err := socketcan.OpenBus(ctx, cfg.canIf, txQueueSize)
	if err != nil {
		return nil, err
	}
	l.Info("socketcan_backend_ready", "interface", cfg.canIf)
	return b, nil
}
