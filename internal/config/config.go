// Package config loads the aggregator's nested configuration via
// github.com/spf13/viper, kept from the teacher's own internal/config
// (a package-level viper.New, SetDefault calls, then Get*/Unmarshal into a
// struct) but generalized from the teacher's flat CAESAR_* signer/DB/Redis
// schema to the nested exchanges/trading_pairs/orderbook/arbitrage/server
// schema of spec §6. Both env vars (CAESAR_ORDERBOOK_MAX_DEPTH, nested
// with EnvKeyReplacer) and an optional YAML file are supported, the same
// dual-source pattern the teacher already uses.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/caesar-terminal/caesar/internal/types"
)

// RateLimitConfig is one exchange's REST/WS rate limit budget.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// WebSocketConfig is one exchange's reconnect/heartbeat tuning.
type WebSocketConfig struct {
	ReconnectMS          int `mapstructure:"reconnect_ms"`
	PingMS               int `mapstructure:"ping_ms"`
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	BufferSize           int `mapstructure:"buffer_size"`
}

// ExchangeConfig is one venue's full configuration block.
type ExchangeConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Sandbox    bool            `mapstructure:"sandbox"`
	APIKey     string          `mapstructure:"api_key"`
	APISecret  string          `mapstructure:"api_secret"`
	Passphrase string          `mapstructure:"passphrase"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
	// SymbolMap overrides the wire-form pair a venue expects, keyed by the
	// canonical "BASE/QUOTE" string (e.g. Kraken wants BTC/USD sent as
	// XBT/USD). Venues that don't need aliasing leave this empty.
	SymbolMap map[string]string `mapstructure:"symbol_map"`
}

// OrderbookConfig tunes per-symbol book maintenance.
type OrderbookConfig struct {
	MaxDepth          int    `mapstructure:"max_depth"`
	MarketType        string `mapstructure:"market_type"`
	UpdateIntervalMS  int    `mapstructure:"update_interval_ms"`
	CleanupIntervalMS int    `mapstructure:"cleanup_interval_ms"`
	Implementation    string `mapstructure:"implementation"`
}

// ArbitrageConfig tunes the scanner's trigger discipline and thresholds.
type ArbitrageConfig struct {
	ProfitThresholdPct float64 `mapstructure:"profit_threshold_pct"`
	VolumeThreshold    float64 `mapstructure:"volume_threshold"`
	Mode               string  `mapstructure:"mode"`
	TickMS             int     `mapstructure:"tick_ms"`
}

// GRPCServerConfig is parsed but unused by this repo's aggregator; a real
// transport layer can be bolted on without a config-schema break.
type GRPCServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RESTServerConfig mirrors GRPCServerConfig for a REST fan-out server.
type RESTServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WebSocketServerConfig mirrors GRPCServerConfig for a websocket fan-out
// server to end clients (distinct from the upstream exchange WebSocketConfig).
type WebSocketServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ServerConfig is the external-fan-out server block. Parsing it is in
// scope; starting any such server is explicitly out of scope (spec §1).
type ServerConfig struct {
	GRPC      GRPCServerConfig      `mapstructure:"grpc"`
	REST      RESTServerConfig      `mapstructure:"rest"`
	WebSocket WebSocketServerConfig `mapstructure:"websocket"`
}

// Config holds the full aggregator configuration.
type Config struct {
	Exchanges    map[string]ExchangeConfig `mapstructure:"exchanges"`
	TradingPairs []types.TradingPair
	Orderbook    OrderbookConfig `mapstructure:"orderbook"`
	Arbitrage    ArbitrageConfig `mapstructure:"arbitrage"`
	Server       ServerConfig    `mapstructure:"server"`
}

// Load reads configuration from an optional YAML file at configPath and
// from environment variables prefixed with CAESAR_; where both set a key,
// the environment variable wins. Pass an empty configPath to skip the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAESAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	// viper lowercases every key it reads, including symbol_map's pair
	// keys; restore the canonical upper-case "BASE/QUOTE" form.
	for name, ex := range cfg.Exchanges {
		if len(ex.SymbolMap) == 0 {
			continue
		}
		canonical := make(map[string]string, len(ex.SymbolMap))
		for k, alias := range ex.SymbolMap {
			canonical[strings.ToUpper(k)] = alias
		}
		ex.SymbolMap = canonical
		cfg.Exchanges[name] = ex
	}

	pairs, err := parseTradingPairs(v.GetStringSlice("trading_pairs"))
	if err != nil {
		return nil, err
	}
	cfg.TradingPairs = pairs

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, ex := range []string{"binance", "bybit", "kraken", "coinbase", "bitstamp", "crypto_dot_com", "okx"} {
		prefix := "exchanges." + ex + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"sandbox", false)
		v.SetDefault(prefix+"rate_limit.rps", 10.0)
		v.SetDefault(prefix+"rate_limit.burst", 20)
		v.SetDefault(prefix+"websocket.reconnect_ms", 1000)
		v.SetDefault(prefix+"websocket.ping_ms", 20000)
		v.SetDefault(prefix+"websocket.max_reconnect_attempts", 10)
		v.SetDefault(prefix+"websocket.buffer_size", 256)
	}

	v.SetDefault("trading_pairs", []string{"BTC/USDT"})

	v.SetDefault("orderbook.max_depth", 50)
	v.SetDefault("orderbook.market_type", "spot")
	v.SetDefault("orderbook.update_interval_ms", 100)
	v.SetDefault("orderbook.cleanup_interval_ms", 60000)
	v.SetDefault("orderbook.implementation", "ordered-tree")

	v.SetDefault("arbitrage.profit_threshold_pct", 0.1)
	v.SetDefault("arbitrage.volume_threshold", 0.01)
	v.SetDefault("arbitrage.mode", "event")
	v.SetDefault("arbitrage.tick_ms", 1000)

	v.SetDefault("server.grpc.enabled", false)
	v.SetDefault("server.rest.enabled", false)
	v.SetDefault("server.websocket.enabled", false)
}

func parseTradingPairs(raw []string) ([]types.TradingPair, error) {
	pairs := make([]types.TradingPair, 0, len(raw))
	for _, s := range raw {
		pair, err := types.ParseTradingPair(s)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (c *Config) validate() error {
	if len(c.TradingPairs) == 0 {
		return fmt.Errorf("config: at least one trading pair is required")
	}
	if c.Orderbook.MaxDepth <= 0 {
		return fmt.Errorf("config: orderbook.max_depth must be positive")
	}
	switch c.Orderbook.Implementation {
	case "ordered-tree", "hash-indexed":
	default:
		return fmt.Errorf("config: unknown orderbook.implementation %q", c.Orderbook.Implementation)
	}
	switch c.Arbitrage.Mode {
	case "tick", "event":
	default:
		return fmt.Errorf("config: unknown arbitrage.mode %q", c.Arbitrage.Mode)
	}
	anyEnabled := false
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			anyEnabled = true
			break
		}
	}
	if len(c.Exchanges) > 0 && !anyEnabled {
		return fmt.Errorf("config: at least one exchange must be enabled")
	}
	return nil
}
