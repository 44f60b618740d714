package kraken

import (
	"testing"

	"github.com/caesar-terminal/caesar/internal/types"
)

func TestClassifyControlFrame(t *testing.T) {
	kind, _, err := classify([]byte(`{"event":"subscriptionStatus","status":"subscribed"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != frameControl {
		t.Fatalf("expected frameControl, got %v", kind)
	}
}

func TestClassifySnapshotFrame(t *testing.T) {
	raw := []byte(`[
		336,
		{"as":[["5541.30000","2.50700000","1534614248.123678"]],"bs":[["5541.20000","1.52900000","1534614248.765567"]]},
		"book-10",
		"XBT/USD"
	]`)
	kind, payload, err := classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != frameSnapshot {
		t.Fatalf("expected frameSnapshot, got %v", kind)
	}
	if len(payload.Asks) != 1 || len(payload.Bids) != 1 {
		t.Fatalf("unexpected payload shape: %+v", payload)
	}
}

func TestClassifyDeltaFrame(t *testing.T) {
	raw := []byte(`[
		336,
		{"a":[["5541.30000","2.50700000","1534614248.123678"]]},
		"book-10",
		"XBT/USD"
	]`)
	kind, payload, err := classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != frameDelta {
		t.Fatalf("expected frameDelta, got %v", kind)
	}
	if len(payload.AskUpdates) != 1 {
		t.Fatalf("expected one ask update, got %d", len(payload.AskUpdates))
	}
}

func TestClassifyIgnoresEmptyBookPayload(t *testing.T) {
	raw := []byte(`[336, {}, "book-10", "XBT/USD"]`)
	kind, _, err := classify(raw)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if kind != frameIgnored {
		t.Fatalf("expected frameIgnored, got %v", kind)
	}
}

func TestSnapshotUpdateParsesPrices(t *testing.T) {
	pair := types.NewTradingPair("btc", "usd")
	payload := bookPayload{
		Bids: []levelTriple{{"5541.20000", "1.52900000", "1534614248.765567"}},
		Asks: []levelTriple{{"5541.30000", "2.50700000", "1534614248.123678"}},
	}
	u, err := snapshotUpdate(pair, payload)
	if err != nil {
		t.Fatalf("snapshotUpdate: %v", err)
	}
	if u.Exchange != types.ExchangeKraken || u.Symbol != pair {
		t.Fatalf("unexpected identity: %+v", u)
	}
	if len(u.Bids) != 1 || len(u.Asks) != 1 {
		t.Fatalf("expected one bid and one ask, got %d/%d", len(u.Bids), len(u.Asks))
	}
}

func TestWirePairUsesSymbolMapAlias(t *testing.T) {
	pair := types.NewTradingPair("btc", "usd")
	c := New(Config{SymbolMap: map[types.TradingPair]string{pair: "XBT/USD"}})
	if got := c.wirePair(pair); got != "XBT/USD" {
		t.Fatalf("expected aliased wire pair XBT/USD, got %s", got)
	}

	unaliased := types.NewTradingPair("eth", "usd")
	if got := c.wirePair(unaliased); got != "ETH/USD" {
		t.Fatalf("expected unaliased pair to pass through as canonical form, got %s", got)
	}
}

func TestParseTripleRejectsMalformedPrice(t *testing.T) {
	if _, _, err := parseTriple(levelTriple{"not-a-number", "1.0", "0"}); err == nil {
		t.Fatal("expected an error for a malformed price field")
	}
}

func TestSnapshotUpdateCarriesSourceTimestamp(t *testing.T) {
	pair := types.NewTradingPair("btc", "usd")
	payload := bookPayload{
		Bids: []levelTriple{{"5541.20000", "1.52900000", "1534614248.000000"}},
		Asks: []levelTriple{{"5541.30000", "2.50700000", "1534614249.000000"}},
	}
	u, err := snapshotUpdate(pair, payload)
	if err != nil {
		t.Fatalf("snapshotUpdate: %v", err)
	}
	if u.SourceTimestamp.IsZero() {
		t.Fatal("expected a non-zero SourceTimestamp")
	}
	if got := u.SourceTimestamp.Unix(); got != 1534614249 {
		t.Fatalf("expected the latest level timestamp (1534614249), got %d", got)
	}
}

func TestLatestTripleTimestampIgnoresUnparseable(t *testing.T) {
	sides := [][]levelTriple{
		{{"1.0", "1.0", "not-a-timestamp"}},
		{{"1.0", "1.0", "1534614248.5"}},
	}
	got := latestTripleTimestamp(sides[0], sides[1])
	if got.IsZero() {
		t.Fatal("expected the parseable timestamp to win")
	}
	if got.Unix() != 1534614248 {
		t.Fatalf("expected unix seconds 1534614248, got %d", got.Unix())
	}
}
