// Package arbitrage scans merged cross-venue summaries for crossed books
// and emits ArbitrageOpportunity values past a profit and volume gate.
// Grounded on original_source/analysis-tools/src/arbitrage.rs's
// ArbitrageDetector (same best-bid/best-ask-across-venues scan, same
// profit-percentage formula, same threshold fields) crossed with the
// teacher's UnifiedBook.checkArbitrage (the non-blocking "never block the
// producer" emit via select/default, generalized here to a dropped-count
// rather than a silent drop since the spec opportunity stream already
// reports lag, and a bare silent drop would throw that signal away).
package arbitrage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/broadcast"
	"github.com/caesar-terminal/caesar/internal/types"
)

// Config tunes a Scanner's gating thresholds and tick-mode cadence.
type Config struct {
	// ProfitThreshold is the minimum cross-venue spread, as a percentage
	// of the ask price, required to emit an opportunity.
	ProfitThreshold decimal.Decimal
	// VolumeThreshold is the minimum available volume (min of the best
	// bid and best ask quantities) required to emit an opportunity.
	VolumeThreshold decimal.Decimal
	// TickInterval is the tick-mode scan cadence.
	TickInterval time.Duration
}

// DefaultConfig mirrors the original detector's defaults: a 0.1% profit
// threshold and a 0.01-unit volume floor, ticking once a second.
func DefaultConfig() Config {
	return Config{
		ProfitThreshold: decimal.NewFromFloat(0.1),
		VolumeThreshold: decimal.NewFromFloat(0.01),
		TickInterval:    time.Second,
	}
}

// SummaryProvider is the read side of the aggregator's shared summaries
// map, used by tick mode to re-scan every symbol on each tick.
type SummaryProvider interface {
	GetAllSummaries() map[types.TradingPair]types.Summary
}

// Scanner detects crossed merged books and publishes opportunities onto
// an ArbitrageOpportunity broadcast hub. A single Scanner instance is
// shared by both trigger disciplines (RunTick, RunEvent); both may run
// concurrently against the same Scanner without additional locking,
// since evaluate only reads its arguments and the hub handles its own
// concurrency.
type Scanner struct {
	cfg      Config
	provider SummaryProvider
	out      *broadcast.Hub[types.ArbitrageOpportunity]

	dropped atomic.Uint64
	now     func() time.Time
}

// NewScanner constructs a Scanner. provider is read by RunTick; out
// receives every opportunity that clears the gate.
func NewScanner(cfg Config, provider SummaryProvider, out *broadcast.Hub[types.ArbitrageOpportunity]) *Scanner {
	return &Scanner{cfg: cfg, provider: provider, out: out, now: time.Now}
}

// Dropped reports how many gate-clearing opportunities were discarded
// because the arbitrage broadcast had no subscribers at publish time.
func (s *Scanner) Dropped() uint64 {
	return s.dropped.Load()
}

// RunTick scans every known symbol's current summary once per
// cfg.TickInterval until ctx is cancelled.
func (s *Scanner) RunTick(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanAll()
		}
	}
}

// RunEvent scans each newly published Summary as it arrives on sub, until
// ctx is cancelled or sub's hub is closed. A lagged signal on sub just
// means one or more summaries were skipped between scans; the scanner
// keeps going rather than treating it as terminal.
func (s *Scanner) RunEvent(ctx context.Context, sub *broadcast.Subscription[types.Summary]) error {
	for {
		summary, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrLagged) {
				continue
			}
			return err
		}
		s.evaluate(summary)
	}
}

func (s *Scanner) scanAll() {
	for _, summary := range s.provider.GetAllSummaries() {
		s.evaluate(summary)
	}
}

func (s *Scanner) evaluate(summary types.Summary) {
	bestBid, ok := summary.BestBid()
	if !ok {
		return
	}
	bestAsk, ok := summary.BestAsk()
	if !ok {
		return
	}
	if bestBid.Exchange == bestAsk.Exchange {
		return
	}
	if !bestBid.Price.GreaterThan(bestAsk.Price) {
		return
	}

	profitPct := bestBid.Price.Sub(bestAsk.Price).Div(bestAsk.Price).Mul(decimal.NewFromInt(100))
	if profitPct.LessThan(s.cfg.ProfitThreshold) {
		return
	}

	volume := decimal.Min(bestBid.Quantity, bestAsk.Quantity)
	if volume.LessThan(s.cfg.VolumeThreshold) {
		return
	}

	s.publish(types.ArbitrageOpportunity{
		BuyExchange:      bestAsk.Exchange,
		SellExchange:     bestBid.Exchange,
		Symbol:           summary.Symbol,
		BuyPrice:         bestAsk.Price,
		SellPrice:        bestBid.Price,
		ProfitPercentage: profitPct,
		Volume:           volume,
		Timestamp:        s.now(),
	})
}

func (s *Scanner) publish(opp types.ArbitrageOpportunity) {
	if s.out == nil {
		return
	}
	if s.out.SubscriberCount() == 0 {
		s.dropped.Add(1)
		return
	}
	s.out.Publish(opp)
}
