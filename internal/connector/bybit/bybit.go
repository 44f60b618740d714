// Package bybit implements the connector.Connector contract for Bybit's v5
// public linear orderbook websocket (wss://stream.bybit.com/v5/public/linear),
// with a REST snapshot probe (https://api.bybit.com/v5/market/orderbook).
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/caesar-terminal/caesar/internal/connector"
	"github.com/caesar-terminal/caesar/internal/logging"
	"github.com/caesar-terminal/caesar/internal/types"
)

func log() zerolog.Logger { return logging.Component("bybit") }

const (
	defaultWSURL   = "wss://stream.bybit.com/v5/public/linear"
	defaultRESTURL = "https://api.bybit.com/v5/market/orderbook"
)

// Config tunes a Connector's endpoints and resilience parameters.
type Config struct {
	WSURL     string
	RESTURL   string
	WebSocket connector.WebSocketConfig
	RateLimit connector.RateLimitConfig
}

// DefaultConfig returns Bybit's production endpoints.
func DefaultConfig() Config {
	return Config{
		WSURL:   defaultWSURL,
		RESTURL: defaultRESTURL,
		WebSocket: connector.WebSocketConfig{
			ReconnectMS: 1000,
			PingMS:      20000,
			BufferSize:  1024,
		},
		RateLimit: connector.RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Connector is Bybit's connector.Connector implementation.
type Connector struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
}

var _ connector.Connector = (*Connector)(nil)

// New constructs a Connector.
func New(cfg Config) *Connector {
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.RESTURL == "" {
		cfg.RESTURL = defaultRESTURL
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit = connector.RateLimitConfig{RPS: 10, Burst: 20}
	}
	return &Connector{
		cfg:     cfg,
		http:    resty.New().SetTimeout(5 * time.Second).SetRetryCount(3).SetRetryWaitTime(200 * time.Millisecond),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}
}

func (c *Connector) Spawn(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	go c.run(ctx, pair, depth, out)
	return nil
}

func (c *Connector) run(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) {
	symbol := pair.Base + pair.Quote
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runSession(ctx, symbol, pair, depth, out); err != nil && ctx.Err() == nil {
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

// runSession dials, subscribes to orderbook.<depth>.<symbol>, discards
// deltas until the websocket's own type=snapshot frame arrives, then
// streams deltas whose "seq" follows the previous one by exactly 1; any
// other "seq" ends the session with ErrSequenceGap. Deltas are not
// buffered, and the REST snapshot fetched alongside is not applied.
func (c *Connector) runSession(ctx context.Context, symbol string, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	ws := connector.NewWSClient(connector.WSConfig{
		URL:                  c.cfg.WSURL,
		HeartbeatTimeout:     30 * time.Second,
		BackoffInitial:       250 * time.Millisecond,
		BackoffMax:           10 * time.Second,
		BackoffFactor:        2.0,
		MaxReconnectAttempts: c.cfg.WebSocket.MaxReconnectAttempts,
	})
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("bybit: connect failed: %w", err)
	}
	defer ws.Close()

	sub, _ := json.Marshal(subscribeMsg{Op: "subscribe", Args: []string{fmt.Sprintf("orderbook.%d.%s", depth, symbol)}})
	ws.Send(sub)

	// Bybit's own first frame after subscribe is an authoritative
	// type=snapshot message, so it (not a REST round-trip) gates the
	// Syncing->Streaming transition below. The REST snapshot endpoint is
	// still probed in parallel, purely as a liveness/parity check: a
	// failure here means the venue's REST surface is unreachable even
	// though the websocket is up, which is worth a log line for operators
	// even though it doesn't block sync.
	go func() {
		if _, err := c.fetchSnapshot(ctx, symbol, depth); err != nil && ctx.Err() == nil {
			log().Warn().Str("symbol", symbol).Err(err).Msg("REST snapshot parity check failed")
		}
	}()

	frames := ws.Subscribe()

	var lastSeq int64 = -1
	synced := false

	pingTicker := time.NewTicker(c.pingInterval())
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pingTicker.C:
			pong, _ := json.Marshal(pingMsg{Op: "ping"})
			ws.Send(pong)

		case raw, ok := <-frames:
			if !ok {
				return fmt.Errorf("bybit: frame stream closed")
			}
			var msg depthMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log().Warn().Err(err).Msg("malformed frame dropped")
				continue
			}
			if msg.Topic == "" {
				continue // control/ack frame, not a book event
			}

			switch msg.Type {
			case "snapshot":
				u, err := toUpdate(pair, msg.Data, msg.TS)
				if err != nil {
					log().Warn().Err(err).Msg("dropping malformed snapshot")
					continue
				}
				if !sendUpdate(ctx, out, u) {
					return ctx.Err()
				}
				lastSeq = msg.Data.Seq
				synced = true

			case "delta":
				if !synced {
					// Deltas preceding the first snapshot are discarded;
					// Bybit always sends a snapshot as the first frame
					// after subscribe.
					continue
				}
				if msg.Data.Seq != lastSeq+1 {
					return connector.ErrSequenceGap
				}
				u, err := toUpdate(pair, msg.Data, msg.TS)
				if err != nil {
					log().Warn().Err(err).Msg("dropping malformed delta")
					continue
				}
				if !sendUpdate(ctx, out, u) {
					return ctx.Err()
				}
				lastSeq = msg.Data.Seq
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
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type pingMsg struct {
	Op string `json:"op"`
}

type depthMessage struct {
	Topic string   `json:"topic"`
	Type  string   `json:"type"`
	TS    int64    `json:"ts"`
	Data  depthData `json:"data"`
}

type depthData struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	UpdateID int64     `json:"u"`
	Seq      int64     `json:"seq"`
}

func toUpdate(pair types.TradingPair, d depthData, eventTS int64) (types.PriceLevelUpdate, error) {
	ts := time.Now()
	bids := make([]types.Bid, 0, len(d.Bids))
	for _, r := range d.Bids {
		price, qty, err := parsePair(r)
		if err != nil {
			return types.PriceLevelUpdate{}, fmt.Errorf("bid: %w", err)
		}
		bids = append(bids, types.Bid{Price: price, Quantity: qty, Exchange: types.ExchangeBybit, Timestamp: ts})
	}
	asks := make([]types.Ask, 0, len(d.Asks))
	for _, r := range d.Asks {
		price, qty, err := parsePair(r)
		if err != nil {
			return types.PriceLevelUpdate{}, fmt.Errorf("ask: %w", err)
		}
		asks = append(asks, types.Ask{Price: price, Quantity: qty, Exchange: types.ExchangeBybit, Timestamp: ts})
	}
	var sourceTS time.Time
	if eventTS > 0 {
		sourceTS = time.UnixMilli(eventTS)
	}
	return types.PriceLevelUpdate{
		ID:              uuid.NewString(),
		Symbol:          pair,
		Exchange:        types.ExchangeBybit,
		Bids:            bids,
		Asks:            asks,
		Timestamp:       ts,
		SourceTimestamp: sourceTS,
	}, nil
}

func parsePair(r [2]string) (price, qty decimal.Decimal, err error) {
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

// fetchSnapshot retrieves a REST depth snapshot. runSession calls it once
// per session, in parallel with the websocket, as a reachability check:
// a failure is logged and the returned levels are not applied to the book.
func (c *Connector) fetchSnapshot(ctx context.Context, symbol string, depth int) (depthData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return depthData{}, err
	}
	var resp restSnapshotResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("category", "linear").
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", strconv.Itoa(depth)).
		SetResult(&resp).
		Get(c.cfg.RESTURL)
	if err != nil {
		return depthData{}, err
	}
	if r.IsError() || resp.RetCode != 0 {
		return depthData{}, fmt.Errorf("bybit: snapshot request failed: %s (retCode=%d, retMsg=%s)", r.Status(), resp.RetCode, resp.RetMsg)
	}
	return resp.Result, nil
}

type restSnapshotResponse struct {
	RetCode int       `json:"retCode"`
	RetMsg  string    `json:"retMsg"`
	Result  depthData `json:"result"`
}
