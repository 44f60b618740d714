// Package health tracks per-exchange liveness and per-(exchange, symbol)
// rolling metrics, aged by a periodic staleness sweep. Grounded on the
// teacher's internal/adapter/circuit_breaker.go (per-key state map, a
// Run loop consuming a feed, external MarkStale hook), generalized from
// gating trade execution to the spec's plain liveness/metrics contract,
// and exported via github.com/prometheus/client_golang per SPEC_FULL's
// domain stack (original_source's PrometheusConfig, dropped by the
// distillation, restored here).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caesar-terminal/caesar/internal/types"
)

// Config tunes a Monitor's staleness sweep and rate-sampling window.
type Config struct {
	// StalenessWindow is the duration without a successful update after
	// which a venue is marked unhealthy. Default 30s.
	StalenessWindow time.Duration
	// SweepInterval is how often the staleness sweep runs. Default 10s.
	SweepInterval time.Duration
	// SampleWindow is the rolling window updates/sec is computed over.
	// Default 1s.
	SampleWindow time.Duration
}

// DefaultConfig returns the spec's default cadences.
func DefaultConfig() Config {
	return Config{
		StalenessWindow: 30 * time.Second,
		SweepInterval:   10 * time.Second,
		SampleWindow:    time.Second,
	}
}

type metricsKey struct {
	exchange types.Exchange
	symbol   types.TradingPair
}

type metricsState struct {
	metrics     types.Metrics
	windowStart time.Time
	windowCount uint64
}

// Monitor owns the process-wide HealthStatus and Metrics maps. They are
// written by RecordUpdate (called from each symbol's merger), RecordError
// (which the merger does not call) and the staleness sweep, and read by
// many (point queries, the aggregator's control surface); see
// GetHealthStatus and GetMetrics.
type Monitor struct {
	cfg Config
	now func() time.Time

	healthMu sync.RWMutex
	health   map[types.Exchange]types.HealthStatus

	metricsMu sync.RWMutex
	metrics   map[metricsKey]*metricsState

	updatesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	healthGauge  *prometheus.GaugeVec
	latencyGauge *prometheus.GaugeVec
	rateGauge    *prometheus.GaugeVec
}

// NewMonitor constructs a Monitor with every known exchange seeded
// unhealthy (spec §3: HealthStatus "Created at startup for every known
// exchange (initial is_healthy = false)"). reg may be nil to skip metric
// registration (e.g. in tests using multiple Monitors in one process).
func NewMonitor(cfg Config, reg prometheus.Registerer) *Monitor {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = time.Second
	}

	m := &Monitor{
		cfg:     cfg,
		now:     time.Now,
		health:  make(map[types.Exchange]types.HealthStatus),
		metrics: make(map[metricsKey]*metricsState),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_connector_updates_total",
			Help: "Total PriceLevelUpdate values successfully applied, by exchange and symbol.",
		}, []string{"exchange", "symbol"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_connector_errors_total",
			Help: "Total connector errors recorded, by exchange and symbol.",
		}, []string{"exchange", "symbol"}),
		healthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aggregator_exchange_healthy",
			Help: "1 if the exchange is currently healthy, 0 otherwise.",
		}, []string{"exchange"}),
		latencyGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aggregator_update_latency_ms",
			Help: "Observed latency between exchange-reported and locally received timestamps.",
		}, []string{"exchange", "symbol"}),
		rateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aggregator_updates_per_second",
			Help: "Windowed update rate, by exchange and symbol.",
		}, []string{"exchange", "symbol"}),
	}

	for _, ex := range types.AllExchanges() {
		m.health[ex] = types.HealthStatus{Exchange: ex, IsHealthy: false}
		m.healthGauge.WithLabelValues(string(ex)).Set(0)
	}

	if reg != nil {
		reg.MustRegister(m.updatesTotal, m.errorsTotal, m.healthGauge, m.latencyGauge, m.rateGauge)
	}
	return m
}

// RecordUpdate marks exchange healthy and folds one successful apply into
// that (exchange, symbol)'s rolling metrics. sourceTimestamp is the
// exchange-reported event time, used only for latency measurement (spec
// §9: "Timestamp trust").
func (m *Monitor) RecordUpdate(exchange types.Exchange, symbol types.TradingPair, sourceTimestamp time.Time) {
	now := m.now()

	m.healthMu.Lock()
	m.health[exchange] = types.HealthStatus{Exchange: exchange, IsHealthy: true, LastUpdate: now}
	m.healthMu.Unlock()
	m.healthGauge.WithLabelValues(string(exchange)).Set(1)

	key := metricsKey{exchange, symbol}
	m.metricsMu.Lock()
	st, ok := m.metrics[key]
	if !ok {
		st = &metricsState{metrics: types.Metrics{Exchange: exchange, Symbol: symbol}, windowStart: now}
		m.metrics[key] = st
	}
	st.windowCount++
	st.metrics.LastUpdate = now
	if !sourceTimestamp.IsZero() {
		st.metrics.LatencyMS = float64(now.Sub(sourceTimestamp).Microseconds()) / 1000.0
	}
	if elapsed := now.Sub(st.windowStart); elapsed >= m.cfg.SampleWindow {
		st.metrics.UpdatesPerSecond = float64(st.windowCount) / elapsed.Seconds()
		st.windowCount = 0
		st.windowStart = now
	}
	snap := st.metrics
	m.metricsMu.Unlock()

	m.latencyGauge.WithLabelValues(string(exchange), symbol.String()).Set(snap.LatencyMS)
	m.rateGauge.WithLabelValues(string(exchange), symbol.String()).Set(snap.UpdatesPerSecond)
	m.updatesTotal.WithLabelValues(string(exchange), symbol.String()).Inc()
}

// RecordError increments the error counter for (exchange, symbol) and
// attaches errMsg to the exchange's current HealthStatus, without
// otherwise touching its liveness.
func (m *Monitor) RecordError(exchange types.Exchange, symbol types.TradingPair, errMsg string) {
	key := metricsKey{exchange, symbol}
	m.metricsMu.Lock()
	st, ok := m.metrics[key]
	if !ok {
		st = &metricsState{metrics: types.Metrics{Exchange: exchange, Symbol: symbol}, windowStart: m.now()}
		m.metrics[key] = st
	}
	st.metrics.ErrorCount++
	m.metricsMu.Unlock()
	m.errorsTotal.WithLabelValues(string(exchange), symbol.String()).Inc()

	m.healthMu.Lock()
	hs := m.health[exchange]
	hs.ErrorMessage = errMsg
	m.health[exchange] = hs
	m.healthMu.Unlock()
}

// GetHealthStatus is a point query for one exchange's current health.
func (m *Monitor) GetHealthStatus(exchange types.Exchange) (types.HealthStatus, bool) {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	hs, ok := m.health[exchange]
	return hs, ok
}

// GetAllHealth returns a snapshot copy of every tracked exchange's health.
func (m *Monitor) GetAllHealth() map[types.Exchange]types.HealthStatus {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	out := make(map[types.Exchange]types.HealthStatus, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// GetMetrics is a point query for one (exchange, symbol)'s rolling
// counters.
func (m *Monitor) GetMetrics(exchange types.Exchange, symbol types.TradingPair) (types.Metrics, bool) {
	m.metricsMu.RLock()
	defer m.metricsMu.RUnlock()
	st, ok := m.metrics[metricsKey{exchange, symbol}]
	if !ok {
		return types.Metrics{}, false
	}
	return st.metrics, true
}

// Run sweeps at SweepInterval, marking any exchange whose last update is
// older than StalenessWindow unhealthy without clearing its recorded
// state. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := m.now()
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	for ex, hs := range m.health {
		if hs.LastUpdate.IsZero() || !hs.IsHealthy {
			continue
		}
		if now.Sub(hs.LastUpdate) > m.cfg.StalenessWindow {
			hs.IsHealthy = false
			hs.ErrorMessage = "stale: no update within staleness window"
			m.health[ex] = hs
			m.healthGauge.WithLabelValues(string(ex)).Set(0)
		}
	}
}
