// Package config loads the service configuration from YAML with optional
// .env / environment overrides for connection secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	Storage    StorageConfig `yaml:"storage"`
	Feed       FeedConfig    `yaml:"feed"`
	Alerts     AlertsConfig  `yaml:"alerts"`
	// Symbols maps an uppercase symbol to the feed asset id. The keys form
	// the supported set of the ledger.
	Symbols map[string]string `yaml:"symbols"`
}

type StorageConfig struct {
	// Backend is one of file, redis, postgres.
	Backend  string         `yaml:"backend"`
	File     string         `yaml:"file"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type FeedConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	RPM         int    `yaml:"rpm"`
	TopN        int    `yaml:"top_n"`
}

type AlertsConfig struct {
	// Asset is the feed asset id watched for alerts, Symbol its display name.
	Asset             string  `yaml:"asset"`
	Symbol            string  `yaml:"symbol"`
	ThresholdPercent  float64 `yaml:"threshold_percent"`
	IntervalSecs      int     `yaml:"interval_secs"`
	ErrorIntervalSecs int     `yaml:"error_interval_secs"`
	// BaselineOnly silences a freshly subscribed user's first observation
	// instead of alerting on an immediately observed excursion.
	BaselineOnly bool `yaml:"baseline_only"`
}

// Default returns the configuration the service runs with when no file is
// given.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		Storage: StorageConfig{
			Backend: "file",
			File:    "data/portfolio.json",
		},
		Feed: FeedConfig{
			BaseURL:     "https://api.coingecko.com/api/v3",
			TimeoutSecs: 15,
			RPM:         30,
			TopN:        10,
		},
		Alerts: AlertsConfig{
			Asset:             "bitcoin",
			Symbol:            "BTC",
			ThresholdPercent:  2.0,
			IntervalSecs:      300,
			ErrorIntervalSecs: 60,
		},
		Symbols: map[string]string{
			"BTC":  "bitcoin",
			"ETH":  "ethereum",
			"USDT": "tether",
		},
	}
}

// Load reads the YAML file at path on top of the defaults. A missing .env
// file is fine; present environment variables win over the file for
// connection settings.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CRYPTOBAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CRYPTOBAY_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("CRYPTOBAY_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("CRYPTOBAY_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
}

// Validate ensures the configuration is usable before anything starts.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
		if c.Storage.File == "" {
			return fmt.Errorf("storage.file cannot be empty with the file backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr cannot be empty with the redis backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn cannot be empty with the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be file, redis or postgres, got %q", c.Storage.Backend)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.Feed.TimeoutSecs <= 0 {
		return fmt.Errorf("feed.timeout_secs must be positive, got %d", c.Feed.TimeoutSecs)
	}
	if c.Feed.RPM <= 0 {
		return fmt.Errorf("feed.rpm must be positive, got %d", c.Feed.RPM)
	}
	if c.Alerts.ThresholdPercent <= 0 {
		return fmt.Errorf("alerts.threshold_percent must be positive, got %f", c.Alerts.ThresholdPercent)
	}
	if c.Alerts.IntervalSecs <= 0 || c.Alerts.ErrorIntervalSecs <= 0 {
		return fmt.Errorf("alert intervals must be positive")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	for sym, id := range c.Symbols {
		if sym != strings.ToUpper(sym) {
			return fmt.Errorf("symbol %q must be uppercase", sym)
		}
		if id == "" {
			return fmt.Errorf("symbol %q has no asset id", sym)
		}
	}
	if _, ok := c.Symbols[c.Alerts.Symbol]; !ok {
		return fmt.Errorf("alerts.symbol %q is not in the supported set", c.Alerts.Symbol)
	}
	return nil
}

// SupportedSymbols returns the configured symbol set as a slice.
func (c *Config) SupportedSymbols() []string {
	out := make([]string, 0, len(c.Symbols))
	for sym := range c.Symbols {
		out = append(out, sym)
	}
	return out
}

// FeedTimeout returns the feed timeout as a duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSecs) * time.Second
}

// AlertInterval returns the nominal polling period.
func (c *Config) AlertInterval() time.Duration {
	return time.Duration(c.Alerts.IntervalSecs) * time.Second
}

// AlertErrorInterval returns the shortened retry period.
func (c *Config) AlertErrorInterval() time.Duration {
	return time.Duration(c.Alerts.ErrorIntervalSecs) * time.Second
}
