package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the signal daemon.
type Metrics struct {
	PollsTotal       *prometheus.CounterVec // labels: symbol
	FetchErrors      *prometheus.CounterVec // labels: symbol
	FetchDur         prometheus.Histogram
	BarsReceived     *prometheus.CounterVec // labels: symbol
	NoopCycles       *prometheus.CounterVec // labels: symbol
	RejectedBatches  *prometheus.CounterVec // labels: symbol, reason
	CyclesTotal      *prometheus.CounterVec // labels: symbol, signal
	RecomputeDur     prometheus.Histogram
	RecomputedPoints *prometheus.CounterVec // labels: kind=windowed|ema
	SeriesLen        *prometheus.GaugeVec   // labels: symbol
	CurrentSignal    *prometheus.GaugeVec   // labels: symbol; -1=undefined 0=hold 1=buy 2=sell
	LastPrice        *prometheus.GaugeVec   // labels: symbol

	// Sink delivery
	SinkDropsTotal  *prometheus.CounterVec // labels: sink
	SinkErrorsTotal *prometheus.CounterVec // labels: sink
	SinkPublishDur  *prometheus.HistogramVec

	// Storage
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Renderer
	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	fastBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_polls_total",
			Help: "Total poll attempts per instrument",
		}, []string{"symbol"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fetch_errors_total",
			Help: "Failed exchange fetches per instrument",
		}, []string{"symbol"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_fetch_duration_seconds",
			Help:    "Exchange kline fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		BarsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_bars_received_total",
			Help: "Bars received from the exchange",
		}, []string{"symbol"}),
		NoopCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_noop_polls_total",
			Help: "Polls that left the series unchanged",
		}, []string{"symbol"}),
		RejectedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_rejected_batches_total",
			Help: "Batches rejected during ingestion",
		}, []string{"symbol", "reason"}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_cycles_total",
			Help: "Completed update cycles by resulting signal",
		}, []string{"symbol", "signal"}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_recompute_duration_seconds",
			Help:    "Merge + incremental indicator recompute latency",
			Buckets: fastBuckets,
		}),
		RecomputedPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_recomputed_points_total",
			Help: "Indicator points recomputed (windowed or EMA)",
		}, []string{"kind"}),
		SeriesLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signald_series_bars",
			Help: "Bars retained per instrument",
		}, []string{"symbol"}),
		CurrentSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signald_current_signal",
			Help: "Latest signal (-1=undefined, 0=hold, 1=buy, 2=sell)",
		}, []string{"symbol"}),
		LastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signald_last_price",
			Help: "Close of the newest bar",
		}, []string{"symbol"}),

		SinkDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_sink_drops_total",
			Help: "Cycles dropped because a sink queue was full",
		}, []string{"sink"}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_sink_errors_total",
			Help: "Cycles a sink failed to publish",
		}, []string{"sink"}),
		SinkPublishDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signald_sink_publish_duration_seconds",
			Help:    "Per-sink publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_ws_clients",
			Help: "Connected WebSocket renderer clients",
		}),
	}

	reg.MustRegister(
		m.PollsTotal,
		m.FetchErrors,
		m.FetchDur,
		m.BarsReceived,
		m.NoopCycles,
		m.RejectedBatches,
		m.CyclesTotal,
		m.RecomputeDur,
		m.RecomputedPoints,
		m.SeriesLen,
		m.CurrentSignal,
		m.LastPrice,
		m.SinkDropsTotal,
		m.SinkErrorsTotal,
		m.SinkPublishDur,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
	)

	return m
}

// QueueCollector exports the fill level of each sink queue at scrape time.
type QueueCollector struct {
	desc  *prometheus.Desc
	depth func() map[string]int
}

// NewQueueCollector reads queue depths from depth on every scrape.
func NewQueueCollector(depth func() map[string]int) *QueueCollector {
	return &QueueCollector{
		desc: prometheus.NewDesc("signald_sink_queue_depth",
			"Cycles waiting in a sink queue", []string{"sink"}, nil),
		depth: depth,
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	for sink, n := range c.depth() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), sink)
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeOK     bool      `json:"exchange_ok"`
	LastPollTime   time.Time `json:"last_poll_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Instruments    []string  `json:"instruments"`

	// Probes are skipped for backends that are not configured.
	RedisEnabled  bool `json:"-"`
	SQLiteEnabled bool `json:"-"`

	// Liveness probe results
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

func (h *HealthStatus) SetExchangeOK(v bool) {
	h.mu.Lock()
	h.ExchangeOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPollTime(t time.Time) {
	h.mu.Lock()
	h.LastPollTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(symbols []string) {
	h.mu.Lock()
	h.Instruments = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil backends are skipped.
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

// Report is the /healthz body.
type Report struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	ExchangeOK      bool     `json:"exchange_ok"`
	LastPollTime    string   `json:"last_poll_time"`
	PollAge         string   `json:"poll_age"`
	RedisConnected  bool     `json:"redis_connected"`
	RedisLatencyMs  float64  `json:"redis_latency_ms"`
	SQLiteOK        bool     `json:"sqlite_ok"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
	Instruments     []string `json:"instruments"`
	LastCheckAt     string   `json:"last_check_at"`
}

// Report computes the overall status and the HTTP code it maps to.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if !h.ExchangeOK || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.ExchangeOK && !h.LastPollTime.IsZero() && time.Since(h.LastPollTime) > 5*time.Minute {
		overallStatus = "unhealthy"
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	return Report{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		ExchangeOK:      h.ExchangeOK,
		LastPollTime:    h.LastPollTime.Format(time.RFC3339),
		PollAge:         pollAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Instruments:     h.Instruments,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, httpCode
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Warn().Err(err).Str("component", "metrics").Msg("healthz encode failed")
	}
}
