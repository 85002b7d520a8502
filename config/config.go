package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Feed    FeedConfig    `yaml:"feed"`
	Server  ServerConfig  `yaml:"server"`
	Binance BinanceConfig `yaml:"binance"`
	Kucoin  KucoinConfig  `yaml:"kucoin"`
	RPC     RPCConfig     `yaml:"rpc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig describes the feed the viewer subscribes to.
type FeedConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	PairParam        string        `yaml:"pair_param"`
	DefaultPair      string        `yaml:"default_pair"`
	AvailablePairs   []string      `yaml:"available_pairs"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	InboxLimit       int           `yaml:"inbox_limit"`
}

// ServerConfig describes the feed relay.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	Provider          string        `yaml:"provider"`
	DefaultPair       string        `yaml:"default_pair"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
}

type BinanceConfig struct {
	Env           string `yaml:"env"`
	TestnetURL    string `yaml:"testnet_url"`
	RealURL       string `yaml:"real_url"`
	TestnetAPIURL string `yaml:"testnet_api_url"`
	RealAPIURL    string `yaml:"real_api_url"`
	// SeedSnapshot primes a new upstream with a websocket API depth request.
	SeedSnapshot bool `yaml:"seed_snapshot"`
	SeedDepth    int  `yaml:"seed_depth"`
}

type KucoinConfig struct {
	BaseURI      string   `yaml:"base_uri"`
	QuoteAssets  []string `yaml:"quote_assets"`
	SeedSnapshot bool     `yaml:"seed_snapshot"`
}

type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func Default() Config {
	return Config{
		App: AppConfig{
			Name:    "orderbook-live",
			Version: "0.1.0",
		},
		Feed: FeedConfig{
			Endpoint:         "ws://localhost:8765",
			PairParam:        "pair",
			DefaultPair:      "BTCUSDT",
			HandshakeTimeout: 5 * time.Second,
			ReadLimit:        655350,
			InboxLimit:       64,
		},
		Server: ServerConfig{
			Address:           "0.0.0.0:8765",
			Provider:          "binance",
			DefaultPair:       "BTCUSDT",
			BroadcastInterval: 100 * time.Millisecond,
			SendBuffer:        16,
		},
		Binance: BinanceConfig{
			Env:           "testnet",
			TestnetURL:    "wss://testnet.binance.vision",
			RealURL:       "wss://stream.binance.com:9443",
			TestnetAPIURL: "wss://testnet.binance.vision/ws-api/v3",
			RealAPIURL:    "wss://ws-api.binance.com:443/ws-api/v3",
			SeedSnapshot:  true,
			SeedDepth:     20,
		},
		Kucoin: KucoinConfig{
			BaseURI:      "https://api.kucoin.com",
			QuoteAssets:  []string{"USDT", "USDC", "BTC", "ETH", "KCS"},
			SeedSnapshot: true,
		},
		RPC: RPCConfig{
			Address: "127.0.0.1:50051",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvironment(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if err := validateWebsocketURL("feed.endpoint", cfg.Feed.Endpoint); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Feed.PairParam) == "" {
		return fmt.Errorf("feed.pair_param is required")
	}
	if strings.TrimSpace(cfg.Feed.DefaultPair) == "" {
		return fmt.Errorf("feed.default_pair is required")
	}
	if cfg.Feed.HandshakeTimeout <= 0 {
		return fmt.Errorf("feed.handshake_timeout must be greater than 0")
	}
	if cfg.Feed.ReadLimit <= 0 {
		return fmt.Errorf("feed.read_limit must be greater than 0")
	}
	if cfg.Feed.InboxLimit <= 0 {
		return fmt.Errorf("feed.inbox_limit must be greater than 0")
	}

	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be greater than 0")
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be greater than 0")
	}
	switch cfg.Server.Provider {
	case "binance", "kucoin":
	default:
		return fmt.Errorf("server.provider '%s' is not supported", cfg.Server.Provider)
	}

	switch cfg.Binance.Env {
	case "testnet", "real":
	default:
		return fmt.Errorf("binance.env must be 'testnet' or 'real', got '%s'", cfg.Binance.Env)
	}
	if cfg.Binance.SeedSnapshot {
		if err := validateWebsocketURL("binance api url", cfg.Binance.BinanceAPIURL()); err != nil {
			return err
		}
		if cfg.Binance.SeedDepth <= 0 || cfg.Binance.SeedDepth > 5000 {
			return fmt.Errorf("binance.seed_depth must be between 1 and 5000")
		}
	}

	if cfg.RPC.Enabled && cfg.RPC.Address == "" {
		return fmt.Errorf("rpc.address is required when rpc is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	return nil
}

func validateWebsocketURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s '%s' is invalid: %w", key, raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws or wss scheme, got '%s'", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s '%s' has no host", key, raw)
	}
	return nil
}

// BinanceStreamURL returns the stream base URL for the selected environment.
func (c BinanceConfig) BinanceStreamURL() string {
	if c.Env == "real" {
		return c.RealURL
	}
	return c.TestnetURL
}

// BinanceAPIURL returns the websocket API URL for the selected environment.
func (c BinanceConfig) BinanceAPIURL() string {
	if c.Env == "real" {
		return c.RealAPIURL
	}
	return c.TestnetAPIURL
}
