package api

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"sync"
	"time"

	"danmaku/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-style or per-actor labels)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "danmaku_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033},
	})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "danmaku_overlay_render_seconds",
		Help:    "Time spent rendering an overlay image",
		Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
	})

	bulletCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "danmaku_bullets",
		Help: "Live bullets across all pools",
	})

	poolCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "danmaku_pools",
		Help: "Live projectile pools",
	})

	laserCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "danmaku_lasers",
		Help: "Active lasers",
	})

	receiverCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "danmaku_receivers",
		Help: "Registered hit receivers",
	})

	simEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "danmaku_sim_events_total",
		Help: "Simulation events by kind",
	}, []string{"kind"}) // Bounded: "spawned", "expired", "hit", "graze", "kill", "command_error"

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "danmaku_api_commands_total",
		Help: "Commands received over the API",
	}, []string{"result"}) // Bounded: "accepted", "rejected"

	// Event log metrics
	eventLogTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Events accepted by the event log",
	}, []string{"type"}) // Bounded: event type names

	eventLogDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped by a type budget, a full tick or a full writer queue",
	}, []string{"type"})

	eventLogQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_queued_ticks",
		Help: "Tick batches waiting for the event log writer",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin or auth check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// Metrics feeds per-tick simulation statistics into Prometheus. It
// implements game.MetricsSink.
type Metrics struct {
	mu     sync.Mutex
	synced map[string]game.EventTypeStats // last event log counts per type
}

// NewMetrics creates a sink for Engine.SetMetrics.
func NewMetrics() *Metrics {
	return &Metrics{synced: make(map[string]game.EventTypeStats)}
}

// ObserveTick records one tick. Called on the tick goroutine.
func (m *Metrics) ObserveTick(stats game.TickStats, took time.Duration) {
	tickDuration.Observe(took.Seconds())

	bulletCount.Set(float64(stats.Bullets))
	poolCount.Set(float64(stats.Pools))
	laserCount.Set(float64(stats.Lasers))
	receiverCount.Set(float64(stats.Receivers))

	addEvents("spawned", stats.Spawned)
	addEvents("expired", stats.Expired)
	addEvents("hit", stats.Hits)
	addEvents("graze", stats.Grazes)
	addEvents("kill", stats.Kills)
	addEvents("command_error", stats.CommandErrors)
}

func addEvents(kind string, n int) {
	if n > 0 {
		simEvents.WithLabelValues(kind).Add(float64(n))
	}
}

// SyncEventLog converts the event log's per-type counts into counter
// increments. Counts never move a counter backwards.
func (m *Metrics) SyncEventLog(stats game.EventLogStats) {
	eventLogQueued.Set(float64(stats.Queued))

	m.mu.Lock()
	defer m.mu.Unlock()
	for typ, cur := range stats.ByType {
		last := m.synced[typ]
		if cur.Emitted > last.Emitted {
			eventLogTotal.WithLabelValues(typ).Add(float64(cur.Emitted - last.Emitted))
			last.Emitted = cur.Emitted
		}
		if cur.Dropped > last.Dropped {
			eventLogDropped.WithLabelValues(typ).Add(float64(cur.Dropped - last.Dropped))
			last.Dropped = cur.Dropped
		}
		m.synced[typ] = last
	}
}

// DebugServerConfig configures the debug server
type DebugServerConfig struct {
	Port          int    // 0 disables the server
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DebugServerConfigFromEnv reads the optional basic auth credentials.
func DebugServerConfigFromEnv(port int) DebugServerConfig {
	return DebugServerConfig{
		Port:          port,
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}
}

// NewDebugServer builds the internal observability server: pprof and
// /metrics. It returns nil when disabled. The caller runs ListenAndServe.
// CRITICAL: This binds to localhost only to prevent pprof-based DoS
func NewDebugServer(cfg DebugServerConfig) *http.Server {
	if cfg.Port <= 0 {
		log.Println("📊 Debug server disabled")
		return nil
	}

	host := "127.0.0.1"
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		log.Println("⚠️ Debug server exposed on all interfaces")
		host = ""
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	log.Printf("📊 Debug server on %s", addr)
	log.Printf("   - pprof:   http://%s/debug/pprof/", addr)
	log.Printf("   - metrics: http://%s/metrics", addr)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordRender records overlay render timing
func RecordRender(duration time.Duration) {
	renderDuration.Observe(duration.Seconds())
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of the bounded values listed on connectionRejected.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

func recordCommands(accepted, rejected int) {
	if accepted > 0 {
		commandsTotal.WithLabelValues("accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		commandsTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
