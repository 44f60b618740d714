package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestExchangeRoundTrip(t *testing.T) {
	for _, ex := range AllExchanges() {
		got, err := ParseExchange(ex.String())
		if err != nil {
			t.Fatalf("ParseExchange(%q): %v", ex, err)
		}
		if got != ex {
			t.Fatalf("round trip: want %v, got %v", ex, got)
		}
	}
}

func TestParseExchangeUnknown(t *testing.T) {
	if _, err := ParseExchange("definitely-not-an-exchange"); err == nil {
		t.Fatal("expected error for unknown exchange")
	}
}

func TestTradingPairRoundTrip(t *testing.T) {
	cases := []TradingPair{
		NewTradingPair("btc", "usdt"),
		NewTradingPair("ETH", "USD"),
		NewTradingPair("Sol", "uSdC"),
	}
	for _, p := range cases {
		got, err := ParseTradingPair(p.String())
		if err != nil {
			t.Fatalf("ParseTradingPair(%q): %v", p, err)
		}
		if got != p {
			t.Fatalf("round trip: want %+v, got %+v", p, got)
		}
	}
}

func TestParseTradingPairInvalid(t *testing.T) {
	cases := []string{"BTCUSDT", "BTC/", "/USDT", "BTC/USDT/EXTRA"}
	for _, s := range cases {
		if _, err := ParseTradingPair(s); err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
	}
}

func TestBidLess(t *testing.T) {
	high := Bid{Price: decimal.NewFromInt(100), Exchange: ExchangeBinance}
	low := Bid{Price: decimal.NewFromInt(99), Exchange: ExchangeBinance}
	if !high.Less(low) {
		t.Fatal("higher-priced bid should sort first")
	}
	if low.Less(high) {
		t.Fatal("lower-priced bid should not sort before higher")
	}

	// Tie on price: broken by exchange identifier.
	a := Bid{Price: decimal.NewFromInt(100), Exchange: ExchangeBinance}
	b := Bid{Price: decimal.NewFromInt(100), Exchange: ExchangeBybit}
	if !a.Less(b) {
		t.Fatal("tie should break by exchange identifier (binance < bybit)")
	}
}

func TestAskLess(t *testing.T) {
	low := Ask{Price: decimal.NewFromInt(99), Exchange: ExchangeBinance}
	high := Ask{Price: decimal.NewFromInt(100), Exchange: ExchangeBinance}
	if !low.Less(high) {
		t.Fatal("lower-priced ask should sort first")
	}
	if high.Less(low) {
		t.Fatal("higher-priced ask should not sort before lower")
	}
}

func TestPriceLevelIsRemoval(t *testing.T) {
	zero := PriceLevel{Price: decimal.NewFromInt(10), Quantity: decimal.Zero}
	if !zero.IsRemoval() {
		t.Fatal("zero quantity should be a removal sentinel")
	}
	nonZero := PriceLevel{Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(1)}
	if nonZero.IsRemoval() {
		t.Fatal("non-zero quantity should not be a removal")
	}
}

func TestSummaryBestBidAsk(t *testing.T) {
	s := Summary{}
	if _, ok := s.BestBid(); ok {
		t.Fatal("empty summary should have no best bid")
	}
	if _, ok := s.BestAsk(); ok {
		t.Fatal("empty summary should have no best ask")
	}

	s.Bids = []PriceLevel{{Price: decimal.NewFromInt(100)}}
	s.Asks = []PriceLevel{{Price: decimal.NewFromInt(101)}}
	bb, ok := s.BestBid()
	if !ok || !bb.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected best bid: %+v, ok=%v", bb, ok)
	}
	ba, ok := s.BestAsk()
	if !ok || !ba.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("unexpected best ask: %+v, ok=%v", ba, ok)
	}
}
