// Package merged combines per-exchange order books for one trading pair
// into a single depth-bounded cross-venue view and produces a Summary
// whenever that view's top-N window changes. Grounded on the teacher's
// internal/adapter/unified_book.go, generalized from a fixed two-exchange
// pair to an arbitrary set of contributing venues.
package merged

import (
	"fmt"
	"sort"

	"github.com/caesar-terminal/caesar/internal/orderbook"
	"github.com/caesar-terminal/caesar/internal/types"
)

// Book is the merged cross-venue order book for one symbol. It is not
// safe for concurrent use; it is designed to be owned by exactly one
// Merger goroutine per symbol (spec's "single-threaded per symbol" rule),
// so no internal locking is needed.
type Book struct {
	symbol   types.TradingPair
	impl     orderbook.Implementation
	maxDepth int
	topN     int

	bids map[types.Exchange]orderbook.Side
	asks map[types.Exchange]orderbook.Side
}

// NewBook constructs an empty merged book for symbol. maxDepth bounds each
// per-exchange side; topN bounds the merged Summary window.
func NewBook(symbol types.TradingPair, impl orderbook.Implementation, maxDepth, topN int) *Book {
	return &Book{
		symbol:   symbol,
		impl:     impl,
		maxDepth: maxDepth,
		topN:     topN,
		bids:     make(map[types.Exchange]orderbook.Side),
		asks:     make(map[types.Exchange]orderbook.Side),
	}
}

// Apply applies one connector's update to this symbol's merged view. It
// reports the rebuilt Summary and whether either per-exchange side
// reported a change; publish only on changed == true. The signal is
// conservative: a new, removed, requantified or re-timestamped level
// anywhere within maxDepth counts, even if it lies outside the top-N
// window.
func (b *Book) Apply(u types.PriceLevelUpdate) (types.Summary, bool, error) {
	if u.Symbol != b.symbol {
		return types.Summary{}, false, fmt.Errorf("merged: update for %s applied to book for %s", u.Symbol, b.symbol)
	}

	bidSide, err := b.sideFor(b.bids, u.Exchange, orderbook.KindBid)
	if err != nil {
		return types.Summary{}, false, err
	}
	askSide, err := b.sideFor(b.asks, u.Exchange, orderbook.KindAsk)
	if err != nil {
		return types.Summary{}, false, err
	}

	bidLevels := make([]types.PriceLevel, len(u.Bids))
	for i, lvl := range u.Bids {
		bidLevels[i] = types.PriceLevel(lvl)
	}
	askLevels := make([]types.PriceLevel, len(u.Asks))
	for i, lvl := range u.Asks {
		askLevels[i] = types.PriceLevel(lvl)
	}

	changedBid := bidSide.Apply(bidLevels, b.maxDepth)
	changedAsk := askSide.Apply(askLevels, b.maxDepth)
	if !changedBid && !changedAsk {
		return types.Summary{}, false, nil
	}

	summary := types.Summary{
		Symbol:    b.symbol,
		Bids:      b.mergedTop(b.bids, orderbook.KindBid),
		Asks:      b.mergedTop(b.asks, orderbook.KindAsk),
		Timestamp: u.Timestamp,
	}
	if bb, ok := summary.BestBid(); ok {
		if ba, ok := summary.BestAsk(); ok {
			summary.Spread = ba.Price.Sub(bb.Price)
		}
	}
	return summary, true, nil
}

func (b *Book) sideFor(sides map[types.Exchange]orderbook.Side, exchange types.Exchange, kind orderbook.Kind) (orderbook.Side, error) {
	if side, ok := sides[exchange]; ok {
		return side, nil
	}
	side, err := orderbook.New(kind, b.impl)
	if err != nil {
		return nil, fmt.Errorf("merged: constructing side for %s: %w", exchange, err)
	}
	sides[exchange] = side
	return side, nil
}

// mergedTop collects each contributing exchange's top-N window for one
// side and merges them into a single best-first slice bounded to topN.
// With at most a handful of venues this plain sort is cheaper than a real
// k-way merge and has the identical result.
func (b *Book) mergedTop(sides map[types.Exchange]orderbook.Side, kind orderbook.Kind) []types.PriceLevel {
	var all []types.PriceLevel
	for _, side := range sides {
		all = append(all, side.TopN(b.topN)...)
	}
	if kind == orderbook.KindBid {
		sort.Slice(all, func(i, j int) bool {
			return types.Bid(all[i]).Less(types.Bid(all[j]))
		})
	} else {
		sort.Slice(all, func(i, j int) bool {
			return types.Ask(all[i]).Less(types.Ask(all[j]))
		})
	}
	if len(all) > b.topN {
		all = all[:b.topN]
	}
	return all
}

// Venues reports which exchanges currently have at least one resting level
// on either side of this symbol's merged book.
func (b *Book) Venues() []types.Exchange {
	seen := make(map[types.Exchange]bool)
	for ex, side := range b.bids {
		if side.Depth() > 0 {
			seen[ex] = true
		}
	}
	for ex, side := range b.asks {
		if side.Depth() > 0 {
			seen[ex] = true
		}
	}
	out := make([]types.Exchange, 0, len(seen))
	for ex := range seen {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
