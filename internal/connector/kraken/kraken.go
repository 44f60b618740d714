// Package kraken implements the connector.Connector contract for Kraken's
// public websocket (wss://ws.kraken.com). Kraken's book channel is
// self-sufficient: the first message after subscribe is a snapshot (as/bs
// arrays), and every later message is a delta (a/b arrays); there is no
// separate REST snapshot fetch for this venue.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/caesar/internal/connector"
	"github.com/caesar-terminal/caesar/internal/logging"
	"github.com/caesar-terminal/caesar/internal/types"
)

func log() zerolog.Logger { return logging.Component("kraken") }

const defaultWSURL = "wss://ws.kraken.com"

// Config tunes a Connector's endpoint and resilience parameters, and
// carries the per-pair alias map Kraken's wire protocol requires (e.g.
// BTC/USD must be sent as XBT/USD).
type Config struct {
	WSURL     string
	WebSocket connector.WebSocketConfig
	// SymbolMap overrides the wire-form pair sent in the subscribe frame.
	// Keys are canonical pairs (BTC/USD); values are Kraken's alias
	// (XBT/USD). Pairs absent from the map are sent as-is.
	SymbolMap map[types.TradingPair]string
}

// DefaultConfig returns Kraken's production endpoint.
func DefaultConfig() Config {
	return Config{
		WSURL: defaultWSURL,
		WebSocket: connector.WebSocketConfig{
			ReconnectMS: 1000,
			PingMS:      20000,
			BufferSize:  1024,
		},
	}
}

// Connector is Kraken's connector.Connector implementation.
type Connector struct {
	cfg Config
}

var _ connector.Connector = (*Connector)(nil)

// New constructs a Connector.
func New(cfg Config) *Connector {
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	return &Connector{cfg: cfg}
}

func (c *Connector) Spawn(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	go c.run(ctx, pair, depth, out)
	return nil
}

func (c *Connector) run(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runSession(ctx, pair, depth, out); err != nil && ctx.Err() == nil {
			log().Warn().Stringer("symbol", pair).Err(err).Msg("session ended")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay()):
		}
	}
}

func (c *Connector) reconnectDelay() time.Duration {
	if c.cfg.WebSocket.ReconnectMS <= 0 {
		return time.Second
	}
	return time.Duration(c.cfg.WebSocket.ReconnectMS) * time.Millisecond
}

func (c *Connector) wirePair(pair types.TradingPair) string {
	if alias, ok := c.cfg.SymbolMap[pair]; ok {
		return alias
	}
	return pair.String()
}

func (c *Connector) runSession(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	ws := connector.NewWSClient(connector.WSConfig{
		URL:                  c.cfg.WSURL,
		HeartbeatTimeout:     30 * time.Second,
		BackoffInitial:       250 * time.Millisecond,
		BackoffMax:           10 * time.Second,
		BackoffFactor:        2.0,
		MaxReconnectAttempts: c.cfg.WebSocket.MaxReconnectAttempts,
	})
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("kraken: connect failed: %w", err)
	}
	defer ws.Close()

	sub, _ := json.Marshal(subscribeMsg{
		Event: "subscribe",
		Pair:  []string{c.wirePair(pair)},
		Subscription: subscriptionDetails{
			Name:  "book",
			Depth: depth,
		},
	})
	ws.Send(sub)

	frames := ws.Subscribe()
	synced := false

	pingTicker := time.NewTicker(c.pingInterval())
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pingTicker.C:
			ping, _ := json.Marshal(pingMsg{Event: "ping"})
			ws.Send(ping)

		case raw, ok := <-frames:
			if !ok {
				return fmt.Errorf("kraken: frame stream closed")
			}

			kind, payload, err := classify(raw)
			if err != nil {
				log().Warn().Err(err).Msg("malformed frame dropped")
				continue
			}
			switch kind {
			case frameControl, frameIgnored:
				continue
			case frameSnapshot:
				u, err := snapshotUpdate(pair, payload)
				if err != nil {
					log().Warn().Err(err).Msg("dropping malformed snapshot")
					continue
				}
				if !sendUpdate(ctx, out, u) {
					return ctx.Err()
				}
				synced = true
			case frameDelta:
				if !synced {
					continue
				}
				u, err := deltaUpdate(pair, payload)
				if err != nil {
					log().Warn().Err(err).Msg("dropping malformed delta")
					continue
				}
				if !sendUpdate(ctx, out, u) {
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Connector) pingInterval() time.Duration {
	if c.cfg.WebSocket.PingMS <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.cfg.WebSocket.PingMS) * time.Millisecond
}

func sendUpdate(ctx context.Context, out chan<- types.PriceLevelUpdate, u types.PriceLevelUpdate) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

type subscribeMsg struct {
	Event        string               `json:"event"`
	Pair         []string             `json:"pair"`
	Subscription subscriptionDetails `json:"subscription"`
}

type subscriptionDetails struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

type pingMsg struct {
	Event string `json:"event"`
}

// bookPayload is the channel's data object, which carries either the
// snapshot keys (as/bs) or the delta keys (a/b); a repeated update within
// one delta message can even carry both simultaneously (one side updated,
// not the other), so both pairs of fields are optional.
type bookPayload struct {
	Asks []levelTriple `json:"as,omitempty"`
	Bids []levelTriple `json:"bs,omitempty"`
	AskUpdates []levelTriple `json:"a,omitempty"`
	BidUpdates []levelTriple `json:"b,omitempty"`
}

// levelTriple is Kraken's [price, volume, timestamp] wire form, all as
// strings.
type levelTriple [3]string

type frameKind int

const (
	frameIgnored frameKind = iota
	frameControl
	frameSnapshot
	frameDelta
)

// classify inspects one raw websocket frame and reports which of Kraken's
// message shapes it is: a control/event frame (subscribed ack, heartbeat,
// pong), a book snapshot, or a book delta. Kraken multiplexes channel data
// as a top-level JSON array `[channelID, data, channelName, pair]` and
// control messages as a top-level JSON object `{"event": ...}`.
func classify(raw []byte) (frameKind, bookPayload, error) {
	trimmed := raw
	if len(trimmed) == 0 {
		return frameIgnored, bookPayload{}, nil
	}
	if trimmed[0] == '{' {
		return frameControl, bookPayload{}, nil
	}
	if trimmed[0] != '[' {
		return frameIgnored, bookPayload{}, fmt.Errorf("unexpected frame shape")
	}

	var raw3 []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw3); err != nil {
		return frameIgnored, bookPayload{}, fmt.Errorf("array frame: %w", err)
	}
	if len(raw3) < 2 {
		return frameIgnored, bookPayload{}, fmt.Errorf("array frame too short")
	}

	var payload bookPayload
	if err := json.Unmarshal(raw3[1], &payload); err != nil {
		return frameIgnored, bookPayload{}, fmt.Errorf("book payload: %w", err)
	}

	if len(payload.Asks) > 0 || len(payload.Bids) > 0 {
		return frameSnapshot, payload, nil
	}
	if len(payload.AskUpdates) > 0 || len(payload.BidUpdates) > 0 {
		return frameDelta, payload, nil
	}
	return frameIgnored, bookPayload{}, nil
}

func snapshotUpdate(pair types.TradingPair, p bookPayload) (types.PriceLevelUpdate, error) {
	bids, err := toBids(p.Bids)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := toAsks(p.Asks)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("snapshot asks: %w", err)
	}
	return types.PriceLevelUpdate{
		ID:              uuid.NewString(),
		Symbol:          pair,
		Exchange:        types.ExchangeKraken,
		Bids:            bids,
		Asks:            asks,
		Timestamp:       time.Now(),
		SourceTimestamp: latestTripleTimestamp(p.Bids, p.Asks),
	}, nil
}

func deltaUpdate(pair types.TradingPair, p bookPayload) (types.PriceLevelUpdate, error) {
	bids, err := toBids(p.BidUpdates)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("delta bids: %w", err)
	}
	asks, err := toAsks(p.AskUpdates)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("delta asks: %w", err)
	}
	return types.PriceLevelUpdate{
		ID:              uuid.NewString(),
		Symbol:          pair,
		Exchange:        types.ExchangeKraken,
		Bids:            bids,
		Asks:            asks,
		Timestamp:       time.Now(),
		SourceTimestamp: latestTripleTimestamp(p.BidUpdates, p.AskUpdates),
	}, nil
}

// latestTripleTimestamp returns the most recent per-level timestamp across
// the given triples; Kraken stamps each [price, volume, timestamp] entry
// individually rather than the book message as a whole, so the batch's
// event time is taken as the newest level in it. Zero if no triple parses.
func latestTripleTimestamp(sides ...[]levelTriple) time.Time {
	var latest time.Time
	for _, side := range sides {
		for _, r := range side {
			secs, err := strconv.ParseFloat(r[2], 64)
			if err != nil {
				continue
			}
			t := time.Unix(0, int64(secs*float64(time.Second)))
			if t.After(latest) {
				latest = t
			}
		}
	}
	return latest
}

func toBids(raw []levelTriple) ([]types.Bid, error) {
	ts := time.Now()
	out := make([]types.Bid, 0, len(raw))
	for _, r := range raw {
		price, qty, err := parseTriple(r)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Bid{Price: price, Quantity: qty, Exchange: types.ExchangeKraken, Timestamp: ts})
	}
	return out, nil
}

func toAsks(raw []levelTriple) ([]types.Ask, error) {
	ts := time.Now()
	out := make([]types.Ask, 0, len(raw))
	for _, r := range raw {
		price, qty, err := parseTriple(r)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Ask{Price: price, Quantity: qty, Exchange: types.ExchangeKraken, Timestamp: ts})
	}
	return out, nil
}

func parseTriple(r levelTriple) (price, qty decimal.Decimal, err error) {
	price, err = decimal.NewFromString(r[0])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("invalid price %q: %w", r[0], err)
	}
	qty, err = decimal.NewFromString(r[1])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("invalid quantity %q: %w", r[1], err)
	}
	return price, qty, nil
}
