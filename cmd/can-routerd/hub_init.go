package main

import (
	"log/slog"

	"github.com/mjaros/go-can-router/internal/monitor"
)

func initHub(cfg *appConfig, l *slog.Logger) *monitor.Hub {
	h := monitor.NewHub()
	h.OutBufSize = cfg.hubBuffer
	if cfg.hubPolicy == "kick" {
		h.Policy = monitor.PolicyKick
	}
	l.Info("hub_init", "buffer", h.OutBufSize, "policy", cfg.hubPolicy)
	return h
}
