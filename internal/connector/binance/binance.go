// Package binance implements the connector.Connector contract for Binance's
// combined depth-update websocket plus REST snapshot, per
// wss://stream.binance.com:9443/ws/<symbol>@depth and
// https://api.binance.com/api/v3/depth.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
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

func log() zerolog.Logger { return logging.Component("binance") }

const (
	defaultWSBase   = "wss://stream.binance.com:9443/ws/"
	defaultRESTBase = "https://api.binance.com/api/v3/depth"
)

// Config tunes a Connector's endpoints and resilience parameters.
type Config struct {
	WSBaseURL   string
	RESTBaseURL string
	WebSocket   connector.WebSocketConfig
	RateLimit   connector.RateLimitConfig
}

// DefaultConfig returns Binance's production endpoints with conservative
// reconnect and rate-limit settings.
func DefaultConfig() Config {
	return Config{
		WSBaseURL:   defaultWSBase,
		RESTBaseURL: defaultRESTBase,
		WebSocket: connector.WebSocketConfig{
			ReconnectMS:          1000,
			MaxReconnectAttempts: 0,
			BufferSize:           1024,
		},
		RateLimit: connector.RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Connector is Binance's connector.Connector implementation.
type Connector struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
}

var _ connector.Connector = (*Connector)(nil)

// New constructs a Connector. A zero-value Config falls back to
// DefaultConfig's endpoints.
func New(cfg Config) *Connector {
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBase
	}
	if cfg.RESTBaseURL == "" {
		cfg.RESTBaseURL = defaultRESTBase
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

// Spawn starts the connector's session loop in the background and returns
// immediately; shutdown follows ctx cancellation.
func (c *Connector) Spawn(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	go c.run(ctx, pair, depth, out)
	return nil
}

func (c *Connector) run(ctx context.Context, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) {
	symbol := pair.Base + pair.Quote
	url := c.cfg.WSBaseURL + strings.ToLower(symbol) + "@depth"

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runSession(ctx, url, symbol, pair, depth, out); err != nil && ctx.Err() == nil {
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

// runSession runs one Connecting -> Subscribing -> Syncing -> Streaming
// attempt. Binance's raw stream URL embeds the subscription, so Subscribing
// is a no-op transition; Syncing buffers deltas while the REST snapshot is
// fetched concurrently, then discards everything at or below the
// snapshot's lastUpdateId before entering Streaming.
func (c *Connector) runSession(ctx context.Context, url, symbol string, pair types.TradingPair, depth int, out chan<- types.PriceLevelUpdate) error {
	ws := connector.NewWSClient(connector.WSConfig{
		URL:                  url,
		HeartbeatTimeout:     30 * time.Second,
		BackoffInitial:       250 * time.Millisecond,
		BackoffMax:           10 * time.Second,
		BackoffFactor:        2.0,
		MaxReconnectAttempts: c.cfg.WebSocket.MaxReconnectAttempts,
	})
	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("binance: connect failed: %w", err)
	}
	defer ws.Close()

	frames := ws.Subscribe()

	var (
		bufMu    sync.Mutex
		buffered []depthEvent
	)
	snapshotCh := make(chan snapshotResult, 1)
	go func() { snapshotCh <- c.fetchSnapshot(ctx, symbol, depth) }()

	synced := false
	awaitingFirst := false
	var lastFinal int64 = -1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-snapshotCh:
			if res.err != nil {
				return fmt.Errorf("binance: snapshot fetch failed: %w", res.err)
			}

			bufMu.Lock()
			pending := buffered
			buffered = nil
			bufMu.Unlock()

			update, err := snapshotUpdate(pair, res.snapshot)
			if err != nil {
				return err
			}
			if !sendUpdate(ctx, out, update) {
				return ctx.Err()
			}
			lastFinal = res.snapshot.LastUpdateID
			synced = true

			awaitingFirst = true
			for _, d := range pending {
				if d.FinalUpdateID <= lastFinal {
					continue
				}
				if !validateSequence(lastFinal, awaitingFirst, d) {
					return connector.ErrSequenceGap
				}
				awaitingFirst = false
				u, err := deltaUpdate(pair, d)
				if err != nil {
					log().Warn().Err(err).Msg("dropping malformed buffered delta")
					continue
				}
				if !sendUpdate(ctx, out, u) {
					return ctx.Err()
				}
				lastFinal = d.FinalUpdateID
			}

		case raw, ok := <-frames:
			if !ok {
				return fmt.Errorf("binance: frame stream closed")
			}
			var ev depthEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				log().Warn().Err(err).Msg("malformed frame dropped")
				continue
			}
			if ev.EventType != "depthUpdate" {
				continue
			}

			if !synced {
				bufMu.Lock()
				buffered = append(buffered, ev)
				bufMu.Unlock()
				continue
			}

			if awaitingFirst && ev.FinalUpdateID <= lastFinal {
				continue
			}
			if !validateSequence(lastFinal, awaitingFirst, ev) {
				return connector.ErrSequenceGap
			}
			awaitingFirst = false
			u, err := deltaUpdate(pair, ev)
			if err != nil {
				log().Warn().Err(err).Msg("dropping malformed delta")
				continue
			}
			if !sendUpdate(ctx, out, u) {
				return ctx.Err()
			}
			lastFinal = ev.FinalUpdateID
		}
	}
}

// validateSequence reports whether ev may be applied given the previously
// applied final update id. The first delta after a fresh snapshot is
// allowed to straddle the snapshot's sequence (first <= lastFinal+1 <=
// final); every later delta must pick up exactly where the last one left
// off.
func validateSequence(lastFinal int64, straddleAllowed bool, ev depthEvent) bool {
	if straddleAllowed {
		return ev.FirstUpdateID <= lastFinal+1 && ev.FinalUpdateID >= lastFinal+1
	}
	return ev.FirstUpdateID == lastFinal+1
}

func sendUpdate(ctx context.Context, out chan<- types.PriceLevelUpdate, u types.PriceLevelUpdate) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

type depthEvent struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

type snapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type snapshotResult struct {
	snapshot snapshot
	err      error
}

func (c *Connector) fetchSnapshot(ctx context.Context, symbol string, depth int) snapshotResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return snapshotResult{err: err}
	}

	var snap snapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", strconv.Itoa(depth)).
		SetResult(&snap).
		Get(c.cfg.RESTBaseURL)
	if err != nil {
		return snapshotResult{err: err}
	}
	if resp.IsError() {
		return snapshotResult{err: fmt.Errorf("snapshot request failed: %s", resp.Status())}
	}
	return snapshotResult{snapshot: snap}
}

func snapshotUpdate(pair types.TradingPair, snap snapshot) (types.PriceLevelUpdate, error) {
	ts := time.Now()
	bids, err := toBids(snap.Bids, ts)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("binance: snapshot bids: %w", err)
	}
	asks, err := toAsks(snap.Asks, ts)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("binance: snapshot asks: %w", err)
	}
	return types.PriceLevelUpdate{
		ID:        uuid.NewString(),
		Symbol:    pair,
		Exchange:  types.ExchangeBinance,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}, nil
}

func deltaUpdate(pair types.TradingPair, ev depthEvent) (types.PriceLevelUpdate, error) {
	ts := time.Now()
	bids, err := toBids(ev.Bids, ts)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("binance: delta bids: %w", err)
	}
	asks, err := toAsks(ev.Asks, ts)
	if err != nil {
		return types.PriceLevelUpdate{}, fmt.Errorf("binance: delta asks: %w", err)
	}
	var sourceTS time.Time
	if ev.EventTime > 0 {
		sourceTS = time.UnixMilli(ev.EventTime)
	}
	return types.PriceLevelUpdate{
		ID:              uuid.NewString(),
		Symbol:          pair,
		Exchange:        types.ExchangeBinance,
		Bids:            bids,
		Asks:            asks,
		Timestamp:       ts,
		SourceTimestamp: sourceTS,
	}, nil
}

func toBids(raw [][2]string, ts time.Time) ([]types.Bid, error) {
	out := make([]types.Bid, 0, len(raw))
	for _, r := range raw {
		price, qty, err := parsePair(r)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Bid{Price: price, Quantity: qty, Exchange: types.ExchangeBinance, Timestamp: ts})
	}
	return out, nil
}

func toAsks(raw [][2]string, ts time.Time) ([]types.Ask, error) {
	out := make([]types.Ask, 0, len(raw))
	for _, r := range raw {
		price, qty, err := parsePair(r)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Ask{Price: price, Quantity: qty, Exchange: types.ExchangeBinance, Timestamp: ts})
	}
	return out, nil
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
