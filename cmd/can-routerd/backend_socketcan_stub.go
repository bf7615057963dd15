//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mjaros/go-can-router/internal/bus"
)

func initSocketCANBackend(_ context.Context, _ *appConfig, _ *slog.Logger) (bus.Bus, error) {
	return nil, errors.New("socketcan backend requires linux")
}
