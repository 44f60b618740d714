// Package connector drives one venue's websocket + REST order-book feed for
// one trading pair, normalizing wire frames into types.PriceLevelUpdate and
// emitting them onto a bounded per-venue queue with reconnect and resync.
package connector

import (
	"context"
	"errors"

	"github.com/caesar-terminal/caesar/internal/types"
)

// ErrNotImplemented is returned by Spawn on venue slots that have no wire
// implementation yet. The aggregator must register these without blocking
// startup.
var ErrNotImplemented = errors.New("connector: not implemented")

// ErrSequenceGap is the internal signal that a delta skipped a sequence
// number; it never escapes a connector, it only forces a resync.
var ErrSequenceGap = errors.New("connector: sequence gap, resync required")

// Connector produces a lossless, ordered stream of PriceLevelUpdate for one
// (venue, symbol) pair onto out. Spawn starts its goroutines and returns
// once the connector is underway (or immediately with an error for a stub);
// shutdown is driven entirely by ctx cancellation.
type Connector interface {
	Spawn(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error
}

// RateLimitConfig bounds REST snapshot fetches for one venue. Outbound
// websocket frames are not rate limited.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// WebSocketConfig tunes a venue's WSClient.
type WebSocketConfig struct {
	ReconnectMS          int
	PingMS               int
	MaxReconnectAttempts int // 0 = unlimited
	BufferSize           int
}
