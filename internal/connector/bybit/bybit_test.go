package bybit

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/types"
)

func TestToUpdateTagsExchangeAndFields(t *testing.T) {
	pair := types.NewTradingPair("btc", "usdt")
	d := depthData{
		Symbol:   "BTCUSDT",
		Bids:     [][2]string{{"50000", "1.5"}},
		Asks:     [][2]string{{"50010", "2.0"}},
		UpdateID: 42,
		Seq:      42,
	}
	u, err := toUpdate(pair, d, 1534614248000)
	if err != nil {
		t.Fatalf("toUpdate: %v", err)
	}
	if u.Exchange != types.ExchangeBybit || u.Symbol != pair {
		t.Fatalf("unexpected identity: %+v", u)
	}
	if len(u.Bids) != 1 || len(u.Asks) != 1 {
		t.Fatalf("expected one bid and one ask, got %d/%d", len(u.Bids), len(u.Asks))
	}
	if !u.Bids[0].Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected bid price: %v", u.Bids[0].Price)
	}
	if u.SourceTimestamp.UnixMilli() != 1534614248000 {
		t.Fatalf("expected SourceTimestamp to reflect the venue's ts field, got %v", u.SourceTimestamp)
	}
}

func TestToUpdateRejectsMalformedQuantity(t *testing.T) {
	pair := types.NewTradingPair("btc", "usdt")
	d := depthData{Bids: [][2]string{{"50000", "not-a-number"}}}
	if _, err := toUpdate(pair, d, 0); err == nil {
		t.Fatal("expected an error for a malformed quantity field")
	}
}

func TestToUpdateZeroEventTSLeavesSourceTimestampZero(t *testing.T) {
	pair := types.NewTradingPair("btc", "usdt")
	d := depthData{Bids: [][2]string{{"50000", "1.5"}}, Asks: [][2]string{{"50010", "2.0"}}}
	u, err := toUpdate(pair, d, 0)
	if err != nil {
		t.Fatalf("toUpdate: %v", err)
	}
	if !u.SourceTimestamp.IsZero() {
		t.Fatalf("expected a zero SourceTimestamp when the venue sends no event time, got %v", u.SourceTimestamp)
	}
}

func TestParseSubscribeMessageShape(t *testing.T) {
	msg := subscribeMsg{Op: "subscribe", Args: []string{"orderbook.50.BTCUSDT"}}
	if msg.Op != "subscribe" || len(msg.Args) != 1 {
		t.Fatalf("unexpected subscribe message: %+v", msg)
	}
}

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.WSURL == "" || cfg.RESTURL == "" {
		t.Fatal("expected default endpoints to be populated")
	}
	if cfg.RateLimit.RPS <= 0 {
		t.Fatal("expected a positive default rate limit")
	}
}
