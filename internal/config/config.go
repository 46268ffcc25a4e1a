package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full application configuration, loaded once at startup
type Config struct {
	Server          ServerConfig           `toml:"server"`
	Logging         LoggingConfig          `toml:"logging"`
	Scanner         ScannerConfig          `toml:"scanner"`
	ZABBounds       BoundsConfig           `toml:"zab_bounds"`
	DefaultSettings map[string]interface{} `toml:"default_settings"`
	Storage         StorageConfig          `toml:"storage"`
	NSQ             NSQConfig              `toml:"nsq"`
}

// ServerConfig configures the HTTP control plane
type ServerConfig struct {
	ListenAddr          string   `toml:"listen_addr"`
	MaxConnections      int      `toml:"max_connections"`
	CORSAllowedOrigins  []string `toml:"cors_allowed_origins"`
	ReadTimeoutSeconds  int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
}

// LoggingConfig configures pkg/logger
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ScannerConfig configures the upstream feed and the polling loop
type ScannerConfig struct {
	APIBaseURL            string `toml:"api_base_url"`
	BatchLimit            int    `toml:"batch_limit"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ErrorBackoffSeconds   int    `toml:"error_backoff_seconds"`
	StopTimeoutSeconds    int    `toml:"stop_timeout_seconds"`
	QueueCapacity         int    `toml:"queue_capacity"`
	QueueOverflow         string `toml:"queue_overflow"` // "block" or "drop_oldest"
	AutoStart             bool   `toml:"auto_start"`
}

// BoundsConfig is the geographic inclusion rectangle
type BoundsConfig struct {
	North float64 `toml:"north"`
	South float64 `toml:"south"`
	East  float64 `toml:"east"`
	West  float64 `toml:"west"`
}

// StorageConfig configures the SQLite transmission history
type StorageConfig struct {
	Enabled     bool   `toml:"enabled"`
	SQLitePath  string `toml:"sqlite_path"`
	RecentLimit int    `toml:"recent_limit"`
}

// NSQConfig configures publishing accepted transmissions to NSQ
type NSQConfig struct {
	Enabled     bool   `toml:"enabled"`
	NSQDAddress string `toml:"nsqd_address"`
	Topic       string `toml:"topic"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(toml.MetaData{})
	return cfg
}

// Load reads and validates the TOML configuration at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults(meta)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills values the document omitted. Bounds are only defaulted when the
// whole [zab_bounds] table is missing so that an explicit 0 edge is preserved.
func (c *Config) applyDefaults(meta toml.MetaData) {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 15
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Scanner.APIBaseURL == "" {
		c.Scanner.APIBaseURL = "http://localhost:8080"
	}
	if c.Scanner.BatchLimit <= 0 {
		c.Scanner.BatchLimit = 50
	}
	if c.Scanner.RequestTimeoutSeconds <= 0 {
		c.Scanner.RequestTimeoutSeconds = 10
	}
	if c.Scanner.ErrorBackoffSeconds <= 0 {
		c.Scanner.ErrorBackoffSeconds = 5
	}
	if c.Scanner.StopTimeoutSeconds <= 0 {
		c.Scanner.StopTimeoutSeconds = 3
	}
	if c.Scanner.QueueOverflow == "" {
		c.Scanner.QueueOverflow = "block"
	}

	if !meta.IsDefined("zab_bounds") {
		c.ZABBounds = BoundsConfig{North: 37.0, South: 31.0, East: -103.0, West: -114.0}
	}

	if c.DefaultSettings == nil {
		c.DefaultSettings = map[string]interface{}{
			"volume":         0.7,
			"fetch_interval": int64(20),
			"vfr_only":       false,
			"geo_filter":     false,
			"airports":       []interface{}{},
		}
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/scanner.db"
	}
	if c.Storage.RecentLimit <= 0 {
		c.Storage.RecentLimit = 50
	}

	if c.NSQ.NSQDAddress == "" {
		c.NSQ.NSQDAddress = "127.0.0.1:4150"
	}
	if c.NSQ.Topic == "" {
		c.NSQ.Topic = "scanner_transmissions"
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	u, err := url.Parse(c.Scanner.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("scanner.api_base_url must be an absolute http(s) URL, got %q", c.Scanner.APIBaseURL)
	}

	switch c.Scanner.QueueOverflow {
	case "block", "drop_oldest":
	default:
		return fmt.Errorf("scanner.queue_overflow must be block or drop_oldest, got %q", c.Scanner.QueueOverflow)
	}

	if c.Scanner.QueueCapacity < 0 {
		return fmt.Errorf("scanner.queue_capacity must not be negative")
	}

	b := c.ZABBounds
	if b.South > b.North {
		return fmt.Errorf("zab_bounds.south (%v) is north of zab_bounds.north (%v)", b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("zab_bounds.west (%v) is east of zab_bounds.east (%v)", b.West, b.East)
	}

	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}

	return nil
}
