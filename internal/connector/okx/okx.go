// Package okx is a registered connector.Connector slot for OKX. No wire
// implementation exists yet; Spawn fails immediately so the aggregator can
// register this venue without blocking startup on the other connectors.
package okx

import (
	"context"

	"github.com/caesar-terminal/caesar/internal/connector"
	"github.com/caesar-terminal/caesar/internal/types"
)

// Connector is an unimplemented connector.Connector for OKX.
type Connector struct{}

var _ connector.Connector = (*Connector)(nil)

// New constructs the stub Connector.
func New() *Connector { return &Connector{} }

// Spawn always returns connector.ErrNotImplemented.
func (c *Connector) Spawn(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	return connector.ErrNotImplemented
}
