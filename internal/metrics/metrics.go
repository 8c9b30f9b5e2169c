package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series
var (
	SerialFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_serial_frames_total",
		Help: "Total frames decoded from the device.",
	})
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fakeldat_commands_sent_total",
		Help: "Total command frames written to the device, by command.",
	}, []string{"command"})
	ChecksumFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_checksum_failures_total",
		Help: "Total frames rejected for a checksum mismatch.",
	})
	InputFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_input_flushes_total",
		Help: "Total input-buffer flushes performed to resync after a checksum failure.",
	})
	DecodeFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_decode_faults_total",
		Help: "Total frames rejected for an unknown command or invalid setting payload.",
	})
	Reports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fakeldat_reports_total",
		Help: "Total decoded reports, by kind.",
	}, []string{"kind"})
	DeviceReopens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_device_reopens_total",
		Help: "Total device reacquisition attempts after a port failure.",
	})
	FeedTxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_feed_tx_lines_total",
		Help: "Total report lines sent to feed clients.",
	})
	FeedControls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_feed_controls_total",
		Help: "Total control lines accepted from feed clients.",
	})
	HubDroppedReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_hub_dropped_reports_total",
		Help: "Total reports dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_hub_kicked_clients_total",
		Help: "Total clients disconnected by the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_hub_active_clients",
		Help: "Current number of connected feed clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_hub_queue_depth_max",
		Help: "Observed max queued reports among clients in the last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_hub_queue_depth_avg",
		Help: "Approximate average queued reports per client in the last sample.",
	})
	CSVRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fakeldat_csv_rows_total",
		Help: "Total rows written to the CSV recorder.",
	})
	PollRateHz = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_device_poll_rate_hz",
		Help: "Device sampling rate from the last settings report.",
	})
	TriggerThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fakeldat_device_threshold",
		Help: "Device brightness threshold from the last settings report.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fakeldat_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fakeldat_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialOpen  = "serial_open"
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
	ErrDecode      = "decode"
	ErrFeedRead    = "feed_read"
	ErrFeedWrite   = "feed_write"
	ErrFeedBanner  = "feed_banner"
	ErrControl     = "feed_control"
	ErrCSVWrite    = "csv_write"
	ErrCSVOverflow = "csv_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe
// at /ready on addr.
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
	localSerialFrames uint64
	localCommands     uint64
	localChecksum     uint64
	localFlushes      uint64
	localDecodeFaults uint64
	localReports      uint64
	localReopens      uint64
	localFeedTx       uint64
	localFeedCtl      uint64
	localHubDrop      uint64
	localHubKick      uint64
	localHubReject    uint64
	localHubClients   uint64
	localFanout       uint64
	localQDMax        uint64
	localQDAvg        uint64
	localCSVRows      uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialFrames     uint64
	CommandsSent     uint64
	ChecksumFailures uint64
	InputFlushes     uint64
	DecodeFaults     uint64
	Reports          uint64
	Reopens          uint64
	FeedTx           uint64
	FeedControls     uint64
	HubDrops         uint64
	HubKicks         uint64
	HubRejects       uint64
	HubClients       uint64
	Fanout           uint64
	QueueDepthMax    uint64
	QueueDepthAvg    uint64
	CSVRows          uint64
	Errors           uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		SerialFrames:     atomic.LoadUint64(&localSerialFrames),
		CommandsSent:     atomic.LoadUint64(&localCommands),
		ChecksumFailures: atomic.LoadUint64(&localChecksum),
		InputFlushes:     atomic.LoadUint64(&localFlushes),
		DecodeFaults:     atomic.LoadUint64(&localDecodeFaults),
		Reports:          atomic.LoadUint64(&localReports),
		Reopens:          atomic.LoadUint64(&localReopens),
		FeedTx:           atomic.LoadUint64(&localFeedTx),
		FeedControls:     atomic.LoadUint64(&localFeedCtl),
		HubDrops:         atomic.LoadUint64(&localHubDrop),
		HubKicks:         atomic.LoadUint64(&localHubKick),
		HubRejects:       atomic.LoadUint64(&localHubReject),
		HubClients:       atomic.LoadUint64(&localHubClients),
		Fanout:           atomic.LoadUint64(&localFanout),
		QueueDepthMax:    atomic.LoadUint64(&localQDMax),
		QueueDepthAvg:    atomic.LoadUint64(&localQDAvg),
		CSVRows:          atomic.LoadUint64(&localCSVRows),
		Errors:           atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialFrame() {
	SerialFrames.Inc()
	atomic.AddUint64(&localSerialFrames, 1)
}

func IncCommand(command string) {
	CommandsSent.WithLabelValues(command).Inc()
	atomic.AddUint64(&localCommands, 1)
}

func IncChecksumFailure() {
	ChecksumFailures.Inc()
	atomic.AddUint64(&localChecksum, 1)
}

func IncInputFlush() {
	InputFlushes.Inc()
	atomic.AddUint64(&localFlushes, 1)
}

func IncDecodeFault() {
	DecodeFaults.Inc()
	atomic.AddUint64(&localDecodeFaults, 1)
}

func IncReport(kind string) {
	Reports.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localReports, 1)
}

func IncReopen() {
	DeviceReopens.Inc()
	atomic.AddUint64(&localReopens, 1)
}

func AddFeedTx(n int) {
	FeedTxLines.Add(float64(n))
	atomic.AddUint64(&localFeedTx, uint64(n))
}

func IncFeedControl() {
	FeedControls.Inc()
	atomic.AddUint64(&localFeedCtl, 1)
}

func IncHubDrop() {
	HubDroppedReports.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

func IncCSVRow() {
	CSVRows.Inc()
	atomic.AddUint64(&localCSVRows, 1)
}

func SetPollRate(hz uint16) { PollRateHz.Set(float64(hz)) }

func SetThreshold(v int16) { TriggerThreshold.Set(float64(v)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-create the error series so they export as 0 before the first increment.
	for _, lbl := range []string{
		ErrSerialOpen, ErrSerialRead, ErrSerialWrite, ErrDecode,
		ErrFeedRead, ErrFeedWrite, ErrFeedBanner, ErrControl,
		ErrCSVWrite, ErrCSVOverflow,
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
	if fn == nil { // no probe registered
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
