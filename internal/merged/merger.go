package merged

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/caesar-terminal/caesar/internal/broadcast"
	"github.com/caesar-terminal/caesar/internal/health"
	"github.com/caesar-terminal/caesar/internal/logging"
	"github.com/caesar-terminal/caesar/internal/types"
)

// Merger is the single task that owns one symbol's merged book: it
// consumes the fan-in of every contributing venue's PriceLevelUpdate
// queue, applies each to Book, records liveness on the shared health
// Monitor, and publishes a Summary whenever the merged top-N window
// changes. Grounded on the teacher's internal/adapter/unified_book.go
// consumer loop (select over ctx.Done and an update channel), generalized
// from a fixed Binance/Kraken pair to an arbitrary fan-in per spec §4.3.
//
// A Merger is single-threaded per symbol by construction: Run is the only
// caller of Book.Apply, so Book's own no-locking contract holds.
type Merger struct {
	symbol    types.TradingPair
	book      *Book
	health    *health.Monitor
	summaries *broadcast.Hub[types.Summary]
	in        <-chan types.PriceLevelUpdate
}

// NewMerger constructs a Merger for one symbol. healthMonitor and
// summaries may be nil (useful in tests that only want to exercise
// Book.Apply through Run); in is the fan-in channel the aggregator wires
// every contributing connector's queue into.
func NewMerger(symbol types.TradingPair, book *Book, healthMonitor *health.Monitor, summaries *broadcast.Hub[types.Summary], in <-chan types.PriceLevelUpdate) *Merger {
	return &Merger{
		symbol:    symbol,
		book:      book,
		health:    healthMonitor,
		summaries: summaries,
		in:        in,
	}
}

// Run consumes updates until ctx is cancelled or the input channel is
// closed. It does not recover panics itself: per spec §7, "merger panics
// are supervisor-observable and restart the (symbol) pipeline" — the
// aggregator's supervisor wraps Run in its own recover and respawn.
func (m *Merger) Run(ctx context.Context) error {
	logger := logging.Component("merger").With().Str("symbol", m.symbol.String()).Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-m.in:
			if !ok {
				return nil
			}
			m.handle(logger, u)
		}
	}
}

func (m *Merger) handle(logger zerolog.Logger, u types.PriceLevelUpdate) {
	summary, changed, err := m.book.Apply(u)
	if err != nil {
		logger.Error().Str("exchange", string(u.Exchange)).Err(err).Msg("dropping misrouted update")
		return
	}

	if m.health != nil {
		sourceTS := u.SourceTimestamp
		if sourceTS.IsZero() {
			sourceTS = u.Timestamp
		}
		m.health.RecordUpdate(u.Exchange, u.Symbol, sourceTS)
	}

	if !changed {
		return
	}
	if m.summaries != nil {
		m.summaries.Publish(summary)
	}
}
