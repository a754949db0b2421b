package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/K4HVH/mav-lite/internal/logging"
	"github.com/K4HVH/mav-lite/internal/routing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series. Kind-labeled counters replace the teacher's separate
// Serial*/SocketCAN* counters since the router has exactly two endpoint
// kinds rather than a fixed backend choice.
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavrouter_rx_frames_total",
		Help: "Total MAVLink frames received, by source endpoint kind.",
	}, []string{"kind"})
	DispatchDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavrouter_dispatch_drops_total",
		Help: "Total frames dropped because a destination's outbound queue was full.",
	}, []string{"kind"})
	DiscoveryAdoptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavrouter_discovery_adoptions_total",
		Help: "Total UART paths adopted as live endpoints by the discovery agent.",
	})
	DiscoveryRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavrouter_discovery_rejections_total",
		Help: "Total UART paths rejected by the discovery agent (no traffic within the detection window).",
	})
	ActiveEndpoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavrouter_active_endpoints",
		Help: "Current number of registered endpoints (TCP + UART).",
	})
	SysidTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavrouter_sysid_table_size",
		Help: "Current number of sysids with a known owning endpoint.",
	})
	FanoutLast = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavrouter_last_fanout",
		Help: "Number of destination endpoints targeted by the most recent dispatch.",
	})
	TCPClientsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavrouter_tcp_clients_rejected_total",
		Help: "Total TCP connection attempts rejected (max_clients reached).",
	})
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavrouter_reconnect_attempts_total",
		Help: "Total UART reconnect attempts, by device path.",
	}, []string{"path"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavrouter_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrTCPAccept  = "tcp_accept"
	ErrTCPListen  = "tcp_listen"
	ErrSerialRead = "serial_read"
	ErrSerialOpen = "serial_open"
	ErrConfig     = "config"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
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

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping
// Prometheus, same shape as the teacher's Snap/Snapshot pair.
var (
	localRxTCP      uint64
	localRxUART     uint64
	localDropsTCP   uint64
	localDropsUART  uint64
	localAdoptions  uint64
	localRejections uint64
	localErrors     uint64
	localEndpoints  uint64
	localSysids     uint64
	localFanout     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxTCP      uint64
	RxUART     uint64
	DropsTCP   uint64
	DropsUART  uint64
	Adoptions  uint64
	Rejections uint64
	Errors     uint64
	Endpoints  uint64
	Sysids     uint64
	Fanout     uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxTCP:      atomic.LoadUint64(&localRxTCP),
		RxUART:     atomic.LoadUint64(&localRxUART),
		DropsTCP:   atomic.LoadUint64(&localDropsTCP),
		DropsUART:  atomic.LoadUint64(&localDropsUART),
		Adoptions:  atomic.LoadUint64(&localAdoptions),
		Rejections: atomic.LoadUint64(&localRejections),
		Errors:     atomic.LoadUint64(&localErrors),
		Endpoints:  atomic.LoadUint64(&localEndpoints),
		Sysids:     atomic.LoadUint64(&localSysids),
		Fanout:     atomic.LoadUint64(&localFanout),
	}
}

func IncRx(k routing.Kind) {
	RxFrames.WithLabelValues(k.String()).Inc()
	if k == routing.KindTCP {
		atomic.AddUint64(&localRxTCP, 1)
	} else {
		atomic.AddUint64(&localRxUART, 1)
	}
}

func IncDispatchDrop(k routing.Kind) {
	DispatchDrops.WithLabelValues(k.String()).Inc()
	if k == routing.KindTCP {
		atomic.AddUint64(&localDropsTCP, 1)
	} else {
		atomic.AddUint64(&localDropsUART, 1)
	}
}

func IncDiscoveryAdoption() {
	DiscoveryAdoptions.Inc()
	atomic.AddUint64(&localAdoptions, 1)
}

func IncDiscoveryRejection() {
	DiscoveryRejections.Inc()
	atomic.AddUint64(&localRejections, 1)
}

func SetActiveEndpoints(n int) {
	ActiveEndpoints.Set(float64(n))
	atomic.StoreUint64(&localEndpoints, uint64(n))
}

func SetSysidTableSize(n int) {
	SysidTableSize.Set(float64(n))
	atomic.StoreUint64(&localSysids, uint64(n))
}

func SetFanout(n int) {
	FanoutLast.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncTCPClientRejected() {
	TCPClientsRejected.Inc()
}

func IncReconnectAttempt(path string) { ReconnectAttempts.WithLabelValues(path).Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers known error
// label series so the first occurrence of each doesn't pay registration
// latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrTCPAccept, ErrTCPListen, ErrSerialRead, ErrSerialOpen, ErrConfig} {
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
	if fn == nil {
		return true
	}
	return fn()
}

func Ready() bool { return IsReady() }
