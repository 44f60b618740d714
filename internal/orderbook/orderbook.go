// Package orderbook maintains one side (bids or asks) of one venue's order
// book as an ordered mapping from price to level, bounded to a configured
// depth. Two interchangeable backends are offered behind the Side
// interface: an ordered-tree implementation and a hash-indexed one; the
// config selects which one an aggregator runs with.
package orderbook

import (
	"errors"
	"sort"

	"github.com/caesar-terminal/caesar/internal/types"
)

// Kind selects which side of the book a Side orders for: Bid sorts
// highest price first, Ask sorts lowest price first.
type Kind int

const (
	KindBid Kind = iota
	KindAsk
)

// Implementation selects which Side backend New constructs.
type Implementation string

const (
	// ImplOrderedTree is a B-tree-backed ordered map: O(log n) updates,
	// natural ordered iteration.
	ImplOrderedTree Implementation = "ordered-tree"
	// ImplHashIndexed is a hash map plus a maintained sorted price index:
	// amortized O(1) point updates, O(k log k) top-N rebuild.
	ImplHashIndexed Implementation = "hash-indexed"
)

// ErrUnknownImplementation is returned by New for an unrecognized
// Implementation value.
var ErrUnknownImplementation = errors.New("orderbook: unknown implementation")

// Side is the capability set both backends expose. Implementations hold at
// most one level per price; quantity 0 deletes. Apply trims to max_depth
// after applying every entry in the batch, dropping the worst-priced levels
// first (lowest for bids, highest for asks), ties broken by exchange
// identifier.
type Side interface {
	// Apply applies levels in order (last write at a given price wins),
	// then trims to maxDepth. It reports whether the top-n window (the
	// full retained set, since callers compare against their own n) may
	// have changed — conservatively true whenever any level inside the
	// current depth was touched or dropped.
	Apply(levels []types.PriceLevel, maxDepth int) (changed bool)
	// Best returns the single best level, if any.
	Best() (types.PriceLevel, bool)
	// TopN returns up to n best levels, best-first.
	TopN(n int) []types.PriceLevel
	// Depth returns the current level count.
	Depth() int
	// Clear removes every level.
	Clear()
}

// New constructs a Side of the given kind and backend implementation.
func New(kind Kind, impl Implementation) (Side, error) {
	switch impl {
	case ImplOrderedTree:
		return newBTreeSide(kind), nil
	case ImplHashIndexed:
		return newHashSide(kind), nil
	default:
		return nil, ErrUnknownImplementation
	}
}

// key identifies a retained level: price plus originating exchange, so a
// merged multi-venue side can hold one level per (price, exchange) while a
// single-venue side degenerates to one level per price (its exchange is
// constant).
type key struct {
	price    string // decimal.Decimal.String(), canonical and comparable
	exchange types.Exchange
}

// better reports whether a is strictly the better-priced level for kind,
// tie-broken by exchange identifier so the ordering is total.
func better(kind Kind, a, b types.PriceLevel) bool {
	if !a.Price.Equal(b.Price) {
		if kind == KindBid {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	return a.Exchange.Less(b.Exchange)
}

// sortLevels sorts levels best-first for kind, using better as the
// comparator so both backends present identical iteration order.
func sortLevels(kind Kind, levels []types.PriceLevel) {
	sort.Slice(levels, func(i, j int) bool {
		return better(kind, levels[i], levels[j])
	})
}
