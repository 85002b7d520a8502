package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env").
// A missing file is not an error.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	existing := make([]string, 0, len(filenames))
	for _, f := range filenames {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

func applyEnvironment(cfg *Config) {
	if v := env("FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := env("FEED_DEFAULT_PAIR"); v != "" {
		cfg.Feed.DefaultPair = v
	}
	if v := env("FEED_AVAILABLE_PAIRS"); v != "" {
		cfg.Feed.AvailablePairs = splitList(v)
	}
	if v := env("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := env("SERVER_PROVIDER"); v != "" {
		cfg.Server.Provider = strings.ToLower(v)
	}
	if v := env("BINANCE_ENV"); v != "" {
		cfg.Binance.Env = strings.ToLower(v)
	}
	if v := env("KUCOIN_BASE_URI"); v != "" {
		cfg.Kucoin.BaseURI = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
