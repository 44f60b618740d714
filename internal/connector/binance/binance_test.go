package binance

import (
	"testing"
	"time"

	"github.com/caesar-terminal/caesar/internal/types"
)

// TestValidateSequenceStraddle covers seed scenario S5's accepted delta:
// snapshot lastUpdateId=1000, delta (U=1001, u=1005) straddles it cleanly.
func TestValidateSequenceStraddle(t *testing.T) {
	ev := depthEvent{FirstUpdateID: 1001, FinalUpdateID: 1005}
	if !validateSequence(1000, true, ev) {
		t.Fatal("expected straddling delta to be accepted")
	}
}

// TestValidateSequenceGap covers S5's second delta: (U=1007, u=1010) after
// lastFinal=1005 skips 1006, which must be rejected as a sequence gap.
func TestValidateSequenceGap(t *testing.T) {
	ev := depthEvent{FirstUpdateID: 1007, FinalUpdateID: 1010}
	if validateSequence(1005, false, ev) {
		t.Fatal("expected a sequence gap to be detected")
	}
}

func TestValidateSequenceContiguous(t *testing.T) {
	ev := depthEvent{FirstUpdateID: 1006, FinalUpdateID: 1010}
	if !validateSequence(1005, false, ev) {
		t.Fatal("expected contiguous delta to be accepted")
	}
}

func TestValidateSequenceStraddleRejectsPastSnapshot(t *testing.T) {
	// Final update id at or below the snapshot's sequence must already have
	// been filtered out before reaching validateSequence; if one slips
	// through it should still fail the straddle check.
	ev := depthEvent{FirstUpdateID: 990, FinalUpdateID: 995}
	if validateSequence(1000, true, ev) {
		t.Fatal("expected a stale delta to be rejected")
	}
}

func TestToBidsAndAsks(t *testing.T) {
	raw := [][2]string{{"50000.5", "1.25"}, {"49999.0", "0"}}
	bids, err := toBids(raw, time.Now())
	if err != nil {
		t.Fatalf("toBids: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(bids))
	}
	if !bids[1].Quantity.IsZero() {
		t.Fatal("expected second bid to carry zero quantity (removal sentinel)")
	}
	for _, b := range bids {
		if b.Exchange != types.ExchangeBinance {
			t.Fatalf("expected binance exchange tag, got %v", b.Exchange)
		}
	}

	asks, err := toAsks(raw, time.Now())
	if err != nil {
		t.Fatalf("toAsks: %v", err)
	}
	if len(asks) != 2 {
		t.Fatalf("expected 2 asks, got %d", len(asks))
	}
}

func TestToBidsRejectsMalformedPrice(t *testing.T) {
	raw := [][2]string{{"not-a-number", "1.0"}}
	if _, err := toBids(raw, time.Now()); err == nil {
		t.Fatal("expected an error for a malformed price field")
	}
}

func TestSnapshotUpdateProducesExchangeTaggedLevels(t *testing.T) {
	pair := types.NewTradingPair("btc", "usdt")
	snap := snapshot{
		LastUpdateID: 1000,
		Bids:         [][2]string{{"100", "1"}},
		Asks:         [][2]string{{"101", "1"}},
	}
	u, err := snapshotUpdate(pair, snap)
	if err != nil {
		t.Fatalf("snapshotUpdate: %v", err)
	}
	if u.Symbol != pair || u.Exchange != types.ExchangeBinance {
		t.Fatalf("unexpected update identity: %+v", u)
	}
	if len(u.Bids) != 1 || len(u.Asks) != 1 {
		t.Fatalf("expected one bid and one ask, got %d/%d", len(u.Bids), len(u.Asks))
	}
	if u.ID == "" {
		t.Fatal("expected a non-empty update id")
	}
	if !u.SourceTimestamp.IsZero() {
		t.Fatal("expected a zero SourceTimestamp for a REST snapshot, which carries no event time")
	}
}

func TestDeltaUpdateCarriesSourceTimestamp(t *testing.T) {
	pair := types.NewTradingPair("btc", "usdt")
	ev := depthEvent{
		EventType:     "depthUpdate",
		EventTime:     1534614248000,
		FirstUpdateID: 1,
		FinalUpdateID: 2,
		Bids:          [][2]string{{"100", "1"}},
		Asks:          [][2]string{{"101", "1"}},
	}
	u, err := deltaUpdate(pair, ev)
	if err != nil {
		t.Fatalf("deltaUpdate: %v", err)
	}
	if u.SourceTimestamp.UnixMilli() != 1534614248000 {
		t.Fatalf("expected SourceTimestamp to reflect the venue's E field, got %v", u.SourceTimestamp)
	}
}
