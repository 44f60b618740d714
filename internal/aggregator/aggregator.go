// Package aggregator is the control surface: it owns the lifecycle of
// every per-symbol merger, every venue connector, the arbitrage scanner,
// and the health monitor, and exposes the point-query accessors spec §6
// requires. Grounded on the shape of the teacher's cmd/caesar/main.go
// (signal.NotifyContext-driven shutdown), generalized from a bare func
// main into a reusable value type per spec §9's "no global singletons" —
// multiple independent Aggregators can coexist in one process.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/arbitrage"
	"github.com/caesar-terminal/caesar/internal/broadcast"
	"github.com/caesar-terminal/caesar/internal/config"
	"github.com/caesar-terminal/caesar/internal/connector"
	"github.com/caesar-terminal/caesar/internal/connector/binance"
	"github.com/caesar-terminal/caesar/internal/connector/bitstamp"
	"github.com/caesar-terminal/caesar/internal/connector/bybit"
	"github.com/caesar-terminal/caesar/internal/connector/coinbase"
	"github.com/caesar-terminal/caesar/internal/connector/cryptodotcom"
	"github.com/caesar-terminal/caesar/internal/connector/kraken"
	"github.com/caesar-terminal/caesar/internal/connector/okx"
	"github.com/caesar-terminal/caesar/internal/health"
	"github.com/caesar-terminal/caesar/internal/logging"
	"github.com/caesar-terminal/caesar/internal/merged"
	"github.com/caesar-terminal/caesar/internal/orderbook"
	"github.com/caesar-terminal/caesar/internal/types"
)

// ErrAlreadyRunning is returned by Start on an Aggregator that is already
// running.
var ErrAlreadyRunning = errors.New("aggregator: already running")

// ErrNotRunning is returned by Stop on an Aggregator that was never
// started or has already stopped.
var ErrNotRunning = errors.New("aggregator: not running")

// ErrShutdown is wrapped into Stop's error when the grace period elapses
// before every task has exited.
var ErrShutdown = errors.New("aggregator: shutdown grace period exceeded")

// Aggregator is the top-level value owning one running instance of the
// pipeline: per-symbol mergers, venue connectors, the arbitrage scanner,
// and the health monitor. The zero value is not usable; construct with
// New.
type Aggregator struct {
	cfg      *config.Config
	health   *health.Monitor
	registry *prometheus.Registry

	summaryHub *broadcast.Hub[types.Summary]
	oppHub     *broadcast.Hub[types.ArbitrageOpportunity]
	scanner    *arbitrage.Scanner

	mu        sync.RWMutex
	summaries map[types.TradingPair]types.Summary

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New constructs an Aggregator from cfg. It does not start any tasks;
// call Start for that.
func New(cfg *config.Config) *Aggregator {
	registry := prometheus.NewRegistry()
	return &Aggregator{
		cfg:        cfg,
		health:     health.NewMonitor(health.DefaultConfig(), registry),
		registry:   registry,
		summaryHub: broadcast.NewHub[types.Summary](),
		oppHub:     broadcast.NewHub[types.ArbitrageOpportunity](),
		summaries:  make(map[types.TradingPair]types.Summary),
	}
}

// Registry exposes the Prometheus registry backing this Aggregator's
// health and metrics gauges, for mounting on whatever HTTP mux the caller
// runs (transport is out of core scope; the registry itself is not).
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.registry
}

// Summaries returns the Summary broadcast hub for downstream subscribers.
func (a *Aggregator) Summaries() *broadcast.Hub[types.Summary] {
	return a.summaryHub
}

// Opportunities returns the ArbitrageOpportunity broadcast hub for
// downstream subscribers.
func (a *Aggregator) Opportunities() *broadcast.Hub[types.ArbitrageOpportunity] {
	return a.oppHub
}

// Start spawns every connector, merger, the scanner, and the health
// monitor, and returns once they have been launched (it does not block
// for the pipeline's lifetime — tasks run in the background until Stop or
// parent's cancellation).
func (a *Aggregator) Start(parent context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.running = true

	impl := orderbook.Implementation(a.cfg.Orderbook.Implementation)
	depth := a.cfg.Orderbook.MaxDepth

	a.scanner = arbitrage.NewScanner(arbitrage.Config{
		ProfitThreshold: decimal.NewFromFloat(a.cfg.Arbitrage.ProfitThresholdPct),
		VolumeThreshold: decimal.NewFromFloat(a.cfg.Arbitrage.VolumeThreshold),
		TickInterval:    time.Duration(a.cfg.Arbitrage.TickMS) * time.Millisecond,
	}, a, a.oppHub)

	a.spawn(func() { a.health.Run(ctx) })
	a.spawn(func() { a.runProjector(ctx) })
	a.spawnScanner(ctx)

	for _, pair := range a.cfg.TradingPairs {
		a.startSymbol(ctx, pair, impl, depth)
	}

	return nil
}

func (a *Aggregator) spawnScanner(ctx context.Context) {
	if a.cfg.Arbitrage.Mode == "tick" {
		a.spawn(func() { a.scanner.RunTick(ctx) })
		return
	}
	sub := a.summaryHub.Subscribe(256)
	a.spawn(func() {
		defer sub.Close()
		a.scanner.RunEvent(ctx, sub)
	})
}

func (a *Aggregator) startSymbol(ctx context.Context, pair types.TradingPair, impl orderbook.Implementation, depth int) {
	var ins []<-chan types.PriceLevelUpdate
	for name, exCfg := range a.cfg.Exchanges {
		if !exCfg.Enabled {
			continue
		}
		conn, err := buildConnector(name, exCfg)
		if err != nil {
			logging.Log.Warn().Str("exchange", name).Err(err).Msg("skipping unrecognized exchange in config")
			continue
		}
		queue := make(chan types.PriceLevelUpdate, 10000)
		if err := conn.Spawn(ctx, pair, depth, queue); err != nil {
			logging.Log.Error().Str("exchange", name).Str("symbol", pair.String()).Err(err).Msg("failed to spawn connector")
			continue
		}
		ins = append(ins, queue)
	}

	fanIn := make(chan types.PriceLevelUpdate, 10000)
	a.spawn(func() { mergeInputs(ctx, ins, fanIn) })

	book := merged.NewBook(pair, impl, depth, depth)
	m := merged.NewMerger(pair, book, a.health, a.summaryHub, fanIn)
	a.spawn(func() { a.runMergerSupervised(ctx, pair, m) })
}

// spawn registers f on the Aggregator's WaitGroup and runs it in its own
// goroutine.
func (a *Aggregator) spawn(f func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		f()
	}()
}

// mergeInputs fans multiple per-venue queues into a single channel,
// preserving each source's own FIFO order while interleaving arrival
// order across sources. Grounded on the teacher's Broadcaster.Run (one
// goroutine per source, a shared WaitGroup, ctx.Done as the exit signal).
func mergeInputs(ctx context.Context, ins []<-chan types.PriceLevelUpdate, out chan<- types.PriceLevelUpdate) {
	var wg sync.WaitGroup
	for _, in := range ins {
		wg.Add(1)
		go func(in <-chan types.PriceLevelUpdate) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- u:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}
	wg.Wait()
}

// runMergerSupervised runs m.Run, recovering any panic and restarting the
// pipeline for this symbol, per spec §7: "merger panics are
// supervisor-observable and restart the (symbol) pipeline."
func (a *Aggregator) runMergerSupervised(ctx context.Context, symbol types.TradingPair, m *merged.Merger) {
	logger := logging.Component("supervisor").With().Str("symbol", symbol.String()).Logger()
	for ctx.Err() == nil {
		if panicErr := runMergerOnce(ctx, m); panicErr != nil {
			logger.Error().Err(panicErr).Msg("merger task panicked, restarting")
			continue
		}
		return
	}
}

func runMergerOnce(ctx context.Context, m *merged.Merger) (panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = fmt.Errorf("merger panic: %v", r)
		}
	}()
	_ = m.Run(ctx)
	return nil
}

func (a *Aggregator) runProjector(ctx context.Context) {
	sub := a.summaryHub.Subscribe(1024)
	defer sub.Close()
	for {
		summary, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrLagged) {
				continue
			}
			return
		}
		a.mu.Lock()
		a.summaries[summary.Symbol] = summary
		a.mu.Unlock()
	}
}

// Stop cancels every spawned task and waits up to grace for the tasks the
// Aggregator runs itself (mergers, fan-ins, scanner, health monitor,
// projector) to exit. Connector goroutines started through Spawn see the
// same cancellation but are not waited for.
func (a *Aggregator) Stop(grace time.Duration) error {
	a.lifecycleMu.Lock()
	if !a.running {
		a.lifecycleMu.Unlock()
		return ErrNotRunning
	}
	cancel := a.cancel
	a.lifecycleMu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		return fmt.Errorf("%w: tasks did not exit within %v", ErrShutdown, grace)
	}

	a.lifecycleMu.Lock()
	a.running = false
	a.lifecycleMu.Unlock()
	return nil
}

// GetSummary is a point query for one symbol's latest merged Summary.
func (a *Aggregator) GetSummary(pair types.TradingPair) (types.Summary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.summaries[pair]
	return s, ok
}

// GetAllSummaries implements arbitrage.SummaryProvider and the spec's
// get_all_summaries() control-surface accessor.
func (a *Aggregator) GetAllSummaries() map[types.TradingPair]types.Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[types.TradingPair]types.Summary, len(a.summaries))
	for k, v := range a.summaries {
		out[k] = v
	}
	return out
}

// GetHealthStatus is a point query for one exchange's liveness.
func (a *Aggregator) GetHealthStatus(exchange types.Exchange) (types.HealthStatus, bool) {
	return a.health.GetHealthStatus(exchange)
}

// GetMetrics is a point query for one (exchange, symbol)'s rolling
// counters.
func (a *Aggregator) GetMetrics(exchange types.Exchange, symbol types.TradingPair) (types.Metrics, bool) {
	return a.health.GetMetrics(exchange, symbol)
}

var _ arbitrage.SummaryProvider = (*Aggregator)(nil)

func buildConnector(name string, cfg config.ExchangeConfig) (connector.Connector, error) {
	ws := connector.WebSocketConfig{
		ReconnectMS:          cfg.WebSocket.ReconnectMS,
		PingMS:               cfg.WebSocket.PingMS,
		MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
		BufferSize:           cfg.WebSocket.BufferSize,
	}
	rl := connector.RateLimitConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}

	switch name {
	case "binance":
		c := binance.DefaultConfig()
		c.WebSocket, c.RateLimit = ws, rl
		return binance.New(c), nil
	case "bybit":
		c := bybit.DefaultConfig()
		c.WebSocket, c.RateLimit = ws, rl
		return bybit.New(c), nil
	case "kraken":
		c := kraken.DefaultConfig()
		c.WebSocket = ws
		c.SymbolMap = krakenSymbolMap(cfg.SymbolMap)
		return kraken.New(c), nil
	case "coinbase":
		return coinbase.New(), nil
	case "bitstamp":
		return bitstamp.New(), nil
	case "crypto_dot_com":
		return cryptodotcom.New(), nil
	case "okx":
		return okx.New(), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}

// krakenSymbolMap converts config's canonical-string-keyed alias map
// ("BTC/USD" -> "XBT/USD") into kraken.Config's TradingPair-keyed form.
// Malformed keys are skipped with a warning rather than failing startup.
func krakenSymbolMap(raw map[string]string) map[types.TradingPair]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[types.TradingPair]string, len(raw))
	for k, v := range raw {
		pair, err := types.ParseTradingPair(k)
		if err != nil {
			logging.Log.Warn().Str("pair", k).Err(err).Msg("skipping malformed kraken symbol_map entry")
			continue
		}
		out[pair] = v
	}
	return out
}
