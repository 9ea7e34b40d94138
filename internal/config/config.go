package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the collector configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
	Collector CollectorConfig `yaml:"collector"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the read API bind address
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents the SQLite store configuration
type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// NATSConfig represents the optional event bus configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CollectorConfig represents poller and sample-ticker tuning
type CollectorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TickInterval time.Duration `yaml:"tick_interval"`

	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	HTTPPoolSize int           `yaml:"http_pool_size"`

	LogFetchLimit   int    `yaml:"log_fetch_limit"`
	LogPathOverride string `yaml:"log_path_override"`

	AgeWindow time.Duration `yaml:"age_window"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		c.Database.Path = path
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if logPath := os.Getenv("STREAMHUB_LOG_PATH"); logPath != "" {
		c.Collector.LogPathOverride = logPath
	}
}

// setDefaults fills in unset values
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "streampilot-collector"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/streampilot.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 8
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Collector.PollInterval == 0 {
		c.Collector.PollInterval = 2 * time.Second
	}
	if c.Collector.TickInterval == 0 {
		c.Collector.TickInterval = 2 * time.Second
	}
	if c.Collector.HTTPTimeout == 0 {
		c.Collector.HTTPTimeout = 5 * time.Second
	}
	if c.Collector.HTTPPoolSize == 0 {
		c.Collector.HTTPPoolSize = 50
	}
	if c.Collector.LogFetchLimit == 0 {
		c.Collector.LogFetchLimit = 200
	}
	if c.Collector.AgeWindow == 0 {
		c.Collector.AgeWindow = 120 * time.Second
	}
}
