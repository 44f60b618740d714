package cryptodotcom

import (
	"context"
	"testing"

	"github.com/caesar-terminal/caesar/internal/connector"
	"github.com/caesar-terminal/caesar/internal/types"
)

func TestSpawnReturnsNotImplemented(t *testing.T) {
	c := New()
	out := make(chan types.PriceLevelUpdate)
	err := c.Spawn(context.Background(), types.NewTradingPair("btc", "usd"), 10, out)
	if err != connector.ErrNotImplemented {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
