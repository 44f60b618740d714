package arbitrage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/caesar/internal/broadcast"
	"github.com/caesar-terminal/caesar/internal/types"
)

func plvl(price, qty float64, ex types.Exchange) types.PriceLevel {
	return types.PriceLevel{
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		Exchange: ex,
	}
}

// crossedSummary mirrors the original detector's test fixture: Binance's
// bid (50000) is above Bybit's ask (49950), a 0.1%+ crossed book.
func crossedSummary(symbol types.TradingPair) types.Summary {
	return types.Summary{
		Symbol: symbol,
		Bids:   []types.PriceLevel{plvl(50000, 1, types.ExchangeBinance)},
		Asks:   []types.PriceLevel{plvl(49950, 1, types.ExchangeBybit)},
	}
}

type staticProvider map[types.TradingPair]types.Summary

func (p staticProvider) GetAllSummaries() map[types.TradingPair]types.Summary {
	return p
}

func TestEvaluateEmitsOnCrossedBook(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	sub := hub.Subscribe(4)
	defer sub.Close()

	s := NewScanner(DefaultConfig(), nil, hub)
	s.evaluate(crossedSummary(symbol))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	opp, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ExchangeBybit, opp.BuyExchange)
	require.Equal(t, types.ExchangeBinance, opp.SellExchange)
	require.True(t, opp.ProfitPercentage.GreaterThan(decimal.NewFromFloat(0.1)))
}

func TestEvaluateSkipsUncrossedBook(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	sub := hub.Subscribe(4)
	defer sub.Close()

	s := NewScanner(DefaultConfig(), nil, hub)
	s.evaluate(types.Summary{
		Symbol: symbol,
		Bids:   []types.PriceLevel{plvl(100, 1, types.ExchangeBinance)},
		Asks:   []types.PriceLevel{plvl(101, 1, types.ExchangeBybit)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvaluateSkipsSameExchangeCross(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	sub := hub.Subscribe(4)
	defer sub.Close()

	s := NewScanner(DefaultConfig(), nil, hub)
	// A single venue's own book never legitimately crosses, but guard the
	// gate explicitly: same exchange on both sides must never emit.
	s.evaluate(types.Summary{
		Symbol: symbol,
		Bids:   []types.PriceLevel{plvl(50000, 1, types.ExchangeBinance)},
		Asks:   []types.PriceLevel{plvl(49950, 1, types.ExchangeBinance)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvaluateGatesOnVolumeThreshold(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	sub := hub.Subscribe(4)
	defer sub.Close()

	cfg := DefaultConfig()
	cfg.VolumeThreshold = decimal.NewFromFloat(5)
	s := NewScanner(cfg, nil, hub)
	s.evaluate(crossedSummary(symbol)) // volume 1, below threshold 5

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishIncrementsDroppedWhenNoSubscribers(t *testing.T) {
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	s := NewScanner(DefaultConfig(), nil, hub)

	s.evaluate(crossedSummary(types.NewTradingPair("eth", "usdt")))

	require.Equal(t, uint64(1), s.Dropped())
}

func TestRunTickScansProviderOnEachTick(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	provider := staticProvider{symbol: crossedSummary(symbol)}
	hub := broadcast.NewHub[types.ArbitrageOpportunity]()
	sub := hub.Subscribe(4)
	defer sub.Close()

	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	s := NewScanner(cfg, provider, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunTick(ctx) }()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	_, err := sub.Recv(recvCtx)
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunEventScansEachPublishedSummary(t *testing.T) {
	symbol := types.NewTradingPair("btc", "usdt")
	summaries := broadcast.NewHub[types.Summary]()
	summarySub := summaries.Subscribe(4)

	opportunities := broadcast.NewHub[types.ArbitrageOpportunity]()
	oppSub := opportunities.Subscribe(4)
	defer oppSub.Close()

	s := NewScanner(DefaultConfig(), nil, opportunities)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunEvent(ctx, summarySub) }()

	summaries.Publish(crossedSummary(symbol))

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	_, err := oppSub.Recv(recvCtx)
	require.NoError(t, err)

	cancel()
	<-done
}
