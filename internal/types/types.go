// Package types holds the plain data shared across every package in the
// aggregator: exchanges, trading pairs, price levels, update batches,
// summaries, arbitrage opportunities, health and metrics snapshots.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the source of market data. It is a closed enumeration;
// ParseExchange and String round-trip through the canonical lowercase
// identifier.
type Exchange string

const (
	ExchangeBinance      Exchange = "binance"
	ExchangeBybit        Exchange = "bybit"
	ExchangeKraken       Exchange = "kraken"
	ExchangeCoinbase     Exchange = "coinbase"
	ExchangeBitstamp     Exchange = "bitstamp"
	ExchangeCryptoDotCom Exchange = "crypto_dot_com"
	ExchangeOKX          Exchange = "okx"
)

// AllExchanges returns every exchange known to the aggregator, in a stable
// order. Used to seed the health map at startup.
func AllExchanges() []Exchange {
	return []Exchange{
		ExchangeBinance,
		ExchangeBybit,
		ExchangeKraken,
		ExchangeCoinbase,
		ExchangeBitstamp,
		ExchangeCryptoDotCom,
		ExchangeOKX,
	}
}

// String implements fmt.Stringer, returning the canonical lowercase form.
func (e Exchange) String() string {
	return string(e)
}

// ParseExchange parses a case-insensitive exchange identifier.
func ParseExchange(s string) (Exchange, error) {
	switch strings.ToLower(s) {
	case string(ExchangeBinance):
		return ExchangeBinance, nil
	case string(ExchangeBybit):
		return ExchangeBybit, nil
	case string(ExchangeKraken):
		return ExchangeKraken, nil
	case string(ExchangeCoinbase):
		return ExchangeCoinbase, nil
	case string(ExchangeBitstamp):
		return ExchangeBitstamp, nil
	case string(ExchangeCryptoDotCom):
		return ExchangeCryptoDotCom, nil
	case string(ExchangeOKX):
		return ExchangeOKX, nil
	default:
		return "", fmt.Errorf("types: unknown exchange %q", s)
	}
}

// Less gives Exchange a total order, used to break price ties deterministically.
func (e Exchange) Less(other Exchange) bool {
	return e < other
}

// TradingPair is an ordered (base, quote) pair of uppercase asset symbols.
type TradingPair struct {
	Base  string
	Quote string
}

// NewTradingPair uppercases base and quote and returns the pair.
func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// String returns the canonical "BASE/QUOTE" textual form.
func (p TradingPair) String() string {
	return p.Base + "/" + p.Quote
}

// ParseTradingPair parses the canonical "BASE/QUOTE" textual form.
func ParseTradingPair(s string) (TradingPair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradingPair{}, fmt.Errorf("types: invalid trading pair %q", s)
	}
	return NewTradingPair(parts[0], parts[1]), nil
}

// PriceLevel is a single resting level on one side of one venue's book.
// The order-book backends identify a level by (Price, Exchange); ordering
// is handled by the sided refinements Bid and Ask.
type PriceLevel struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Exchange  Exchange
	Timestamp time.Time
}

// IsRemoval reports whether this level is the sentinel "delete" update
// (quantity == 0).
func (l PriceLevel) IsRemoval() bool {
	return l.Quantity.Sign() == 0
}

// Bid is a PriceLevel on the buy side: higher price is better.
type Bid PriceLevel

// Less orders bids best-first (highest price first), tie-broken by
// exchange identifier so the ordering is total and reproducible.
func (b Bid) Less(other Bid) bool {
	if !b.Price.Equal(other.Price) {
		return b.Price.GreaterThan(other.Price)
	}
	return b.Exchange.Less(other.Exchange)
}

// Ask is a PriceLevel on the sell side: lower price is better.
type Ask PriceLevel

// Less orders asks best-first (lowest price first), tie-broken by exchange
// identifier.
func (a Ask) Less(other Ask) bool {
	if !a.Price.Equal(other.Price) {
		return a.Price.LessThan(other.Price)
	}
	return a.Exchange.Less(other.Exchange)
}

// PriceLevelUpdate is one atomic delivery from a single connector for one
// symbol. Within the batch, later entries at the same price override
// earlier ones. A batch is a delta unless it is the initial post-resync
// snapshot, which is self-sufficient.
type PriceLevelUpdate struct {
	ID       string
	Symbol   TradingPair
	Exchange Exchange
	Bids     []Bid
	Asks     []Ask
	// Timestamp is local receive time.
	Timestamp time.Time
	// SourceTimestamp is the exchange-reported event time, when the venue's
	// wire format carries one; zero if it does not. Carried separately from
	// Timestamp so observed latency (source vs local receive) stays
	// measurable instead of collapsing to ~0.
	SourceTimestamp time.Time
}

// Summary is the consolidated top-of-book view for one symbol across every
// contributing exchange.
type Summary struct {
	Symbol    TradingPair
	Spread    decimal.Decimal
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the best (first) bid level, if any.
func (s Summary) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the best (first) ask level, if any.
func (s Summary) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// ArbitrageOpportunity is a detected cross-venue spread clearing the
// configured profit and volume thresholds.
type ArbitrageOpportunity struct {
	BuyExchange      Exchange
	SellExchange     Exchange
	Symbol           TradingPair
	BuyPrice         decimal.Decimal
	SellPrice        decimal.Decimal
	ProfitPercentage decimal.Decimal
	Volume           decimal.Decimal
	Timestamp        time.Time
}

// HealthStatus is the liveness state of one exchange connector.
type HealthStatus struct {
	Exchange     Exchange
	IsHealthy    bool
	LastUpdate   time.Time
	ErrorMessage string
}

// Metrics are rolling counters for one (exchange, symbol) pair.
type Metrics struct {
	Exchange         Exchange
	Symbol           TradingPair
	UpdatesPerSecond float64
	LatencyMS        float64
	ErrorCount       uint64
	LastUpdate       time.Time
}
