package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mjaros/go-can-router/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	DispatchedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_dispatched_frames_total",
		Help: "Total received CAN frames handed to a matching route handler.",
	})
	UnroutedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_unrouted_frames_total",
		Help: "Total received CAN frames with no matching route (silently dropped).",
	})
	RouteCapacityRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_capacity_rejects_total",
		Help: "Total route registrations rejected because the route store was full.",
	})
	ActiveRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_active_routes",
		Help: "Current number of registered routes.",
	})
	BusRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "Total CAN frames received from the peripheral backend.",
	})
	BusTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_tx_frames_total",
		Help: "Total CAN frames written to the peripheral backend.",
	})
	MonitorRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_rx_frames_total",
		Help: "Total CAN frames received from monitor TCP clients.",
	})
	MonitorTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_tx_frames_total",
		Help: "Total CAN frames sent to monitor TCP clients.",
	})
	MonitorDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_dropped_frames_total",
		Help: "Total CAN frames dropped by the monitor hub due to slow clients.",
	})
	MonitorKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	MonitorRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	MonitorActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_active_clients",
		Help: "Current number of connected monitor clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid length, bad checksum, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localDispatched uint64
	localUnrouted   uint64
	localCapRejects uint64
	localRoutes     uint64
	localBusRx      uint64
	localBusTx      uint64
	localMonRx      uint64
	localMonTx      uint64
	localMonDrop    uint64
	localMonKick    uint64
	localMonReject  uint64
	localMonClients uint64
	localErrors     uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Dispatched      uint64
	Unrouted        uint64
	CapacityRejects uint64
	Routes          uint64
	BusRx           uint64
	BusTx           uint64
	MonitorRx       uint64
	MonitorTx       uint64
	MonitorDrops    uint64
	MonitorKicks    uint64
	MonitorRejects  uint64
	MonitorClients  uint64
	Errors          uint64 // sum across error labels
	Malformed       uint64
}

func Snap() Snapshot {
	return Snapshot{
		Dispatched:      atomic.LoadUint64(&localDispatched),
		Unrouted:        atomic.LoadUint64(&localUnrouted),
		CapacityRejects: atomic.LoadUint64(&localCapRejects),
		Routes:          atomic.LoadUint64(&localRoutes),
		BusRx:           atomic.LoadUint64(&localBusRx),
		BusTx:           atomic.LoadUint64(&localBusTx),
		MonitorRx:       atomic.LoadUint64(&localMonRx),
		MonitorTx:       atomic.LoadUint64(&localMonTx),
		MonitorDrops:    atomic.LoadUint64(&localMonDrop),
		MonitorKicks:    atomic.LoadUint64(&localMonKick),
		MonitorRejects:  atomic.LoadUint64(&localMonReject),
		MonitorClients:  atomic.LoadUint64(&localMonClients),
		Errors:          atomic.LoadUint64(&localErrors),
		Malformed:       atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDispatched() {
	DispatchedFrames.Inc()
	atomic.AddUint64(&localDispatched, 1)
}

func IncUnrouted() {
	UnroutedFrames.Inc()
	atomic.AddUint64(&localUnrouted, 1)
}

func IncCapacityReject() {
	RouteCapacityRejects.Inc()
	atomic.AddUint64(&localCapRejects, 1)
}

// SetRoutes records the current registered route count.
func SetRoutes(n int) {
	ActiveRoutes.Set(float64(n))
	atomic.StoreUint64(&localRoutes, uint64(n))
}

func IncBusRx() {
	BusRxFrames.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncBusTx() {
	BusTxFrames.Inc()
	atomic.AddUint64(&localBusTx, 1)
}

func IncMonitorRx() {
	MonitorRxFrames.Inc()
	atomic.AddUint64(&localMonRx, 1)
}

func AddMonitorTx(n int) {
	MonitorTxFrames.Add(float64(n))
	atomic.AddUint64(&localMonTx, uint64(n))
}

func IncMonitorDrop() {
	MonitorDroppedFrames.Inc()
	atomic.AddUint64(&localMonDrop, 1)
}

func IncMonitorKick() {
	MonitorKickedClients.Inc()
	atomic.AddUint64(&localMonKick, 1)
}

func IncMonitorReject() {
	MonitorRejectedClients.Inc()
	atomic.AddUint64(&localMonReject, 1)
}

func SetMonitorClients(n int) {
	MonitorActiveClients.Set(float64(n))
	atomic.StoreUint64(&localMonClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite,
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
