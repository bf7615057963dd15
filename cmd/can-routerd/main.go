package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mjaros/go-can-router/internal/metrics"
	"github.com/mjaros/go-can-router/internal/monitor"
	"github.com/mjaros/go-can-router/internal/router"
	"github.com/mjaros/go-can-router/internal/wire"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, hub_init.go, routes.go, backend.go, metrics_logger.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-routerd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	b, berr := initBackend(ctx, cfg, l)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		os.Exit(1)
	}

	rt, rerr := router.New(b, router.WithCapacity(cfg.routeCapacity))
	if rerr != nil {
		l.Error("router_init_error", "error", rerr)
		_ = b.Close()
		os.Exit(1)
	}
	bindings, rierr := installRoutes(rt, cfg, h, l)
	if rierr != nil {
		l.Error("route_install_error", "error", rierr)
		rt.Close()
		_ = b.Close()
		os.Exit(1)
	}

	srv := monitor.NewServer(
		monitor.WithHub(h),
		monitor.WithCodec(&wire.Codec{}),
		monitor.WithSend(b.SendFrame),
		monitor.WithLogger(l),
		monitor.WithMaxClients(cfg.maxClients),
		monitor.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("monitor_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 { // fallback attempt if format unexpected
			lastColon := strings.LastIndex(addr, ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the monitor listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Warn("monitor_shutdown_error", "error", err)
	}
	cancelAll(bindings)
	rt.Close()
	if err := b.Close(); err != nil {
		l.Warn("backend_close_error", "error", err)
	}
	wg.Wait()
}
