package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec // labels: kind=tick|book|deal
	EventQueueDrops  prometheus.Counter
	ComputeDur       prometheus.Histogram
	ComputeTimeouts  prometheus.Counter
	UnavailableTotal *prometheus.CounterVec // labels: base_type
	UpdatesTotal     prometheus.Counter

	// Ring buffers
	BufferResizes   prometheus.Counter
	BufferOverflow  prometheus.Counter
	BuffersSwept    prometheus.Counter
	ActiveVariants  prometheus.Gauge
	ActiveStrategies prometheus.Gauge

	// Strategy state machine
	TransitionsTotal    *prometheus.CounterVec // labels: to_state
	TransitionsRejected prometheus.Counter

	// Fan-out backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutSaturation *prometheus.GaugeVec   // labels: subscriber, 0..1 queue fill ratio

	// Redis publisher
	PublishErrors   prometheus.Counter
	PublishBuffered prometheus.Counter
	BreakerState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips    prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_events_total",
			Help: "Market events ingested (by kind)",
		}, []string{"kind"}),
		EventQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_event_queue_drops_total",
			Help: "Market events dropped because a worker queue was full",
		}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_compute_duration_seconds",
			Help:    "Indicator compute latency per variant",
			Buckets: []float64{0.000005, 0.00005, 0.0005, 0.005, 0.05, 0.5},
		}),
		ComputeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_compute_timeouts_total",
			Help: "Indicator computations abandoned on deadline",
		}),
		UnavailableTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_unavailable_total",
			Help: "Indicator computations that yielded no value (by base type)",
		}, []string{"base_type"}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_indicator_updates_total",
			Help: "Indicator values published",
		}),

		BufferResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_buffer_resizes_total",
			Help: "Ring buffer capacity adjustments",
		}),
		BufferOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_buffer_overflow_total",
			Help: "Samples evicted from full ring buffers",
		}),
		BuffersSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_buffers_swept_total",
			Help: "Idle symbol buffers reclaimed by the sweeper",
		}),
		ActiveVariants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_active_variants",
			Help: "Registered indicator variants",
		}),
		ActiveStrategies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_active_strategies",
			Help: "Active strategy instances",
		}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_transitions_total",
			Help: "Strategy state transitions (by destination state)",
		}, []string{"to_state"}),
		TransitionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_transitions_rejected_total",
			Help: "Strategy transitions rejected as invalid",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_fanout_drops_total",
			Help: "Indicator updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		FanoutSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_fanout_queue_saturation",
			Help: "Fan-out subscriber queue fill ratio (len/cap)",
		}, []string{"subscriber"}),

		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_publish_errors_total",
			Help: "Redis publish failures",
		}),
		PublishBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_publish_buffered_total",
			Help: "Events buffered locally while the publish breaker was open",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_publish_breaker_state",
			Help: "Publish circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_publish_breaker_trips_total",
			Help: "Times the publish circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.EventsTotal,
		m.EventQueueDrops,
		m.ComputeDur,
		m.ComputeTimeouts,
		m.UnavailableTotal,
		m.UpdatesTotal,
		m.BufferResizes,
		m.BufferOverflow,
		m.BuffersSwept,
		m.ActiveVariants,
		m.ActiveStrategies,
		m.TransitionsTotal,
		m.TransitionsRejected,
		m.FanoutDropsTotal,
		m.FanoutSaturation,
		m.PublishErrors,
		m.PublishBuffered,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SourceConnected bool      `json:"source_connected"`
	LastEventTime   time.Time `json:"last_event_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSourceConnected(v bool) {
	h.mu.Lock()
	h.SourceConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SourceConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SourceConnected bool    `json:"source_connected"`
		LastEventTime   string  `json:"last_event_time"`
		EventAge        string  `json:"event_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SourceConnected: h.SourceConnected,
		LastEventTime:   h.LastEventTime.Format(time.RFC3339),
		EventAge:        eventAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
