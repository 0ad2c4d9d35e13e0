// Package config loads process configuration from environment
// variables (and an optional .env file), validates it, and logs it.
//
// Grounded directly on the teacher's ws/config.go: same
// caarlos0/env/v11 struct-tag parsing, same godotenv.Load-then-ignore
// pattern, same Validate/LogConfig split.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds everything the core pipeline's cmd/ drivers need to
// stand up a runnable deployment.
type Config struct {
	// Transport
	ListenAddr string `env:"KVCORE_LISTEN_ADDR" envDefault:":9300"`
	MetricsAddr string `env:"KVCORE_METRICS_ADDR" envDefault:":9301"`

	// Topology
	NumClients    int `env:"KVCORE_NUM_CLIENTS" envDefault:"16"`
	NumPartitions int `env:"KVCORE_NUM_PARTITIONS" envDefault:"4"`

	// Ring sizing
	RxRingSize      int `env:"KVCORE_RX_RING_SIZE" envDefault:"4096"`
	ClientRingSize  int `env:"KVCORE_CLIENT_RING_SIZE" envDefault:"4096"`
	AckRingSize     int `env:"KVCORE_ACK_RING_SIZE" envDefault:"4096"`
	PrefixRingSize  int `env:"KVCORE_PREFIX_RING_SIZE" envDefault:"256"`
	RxBurstSize     int `env:"KVCORE_RX_BURST_SIZE" envDefault:"64"`
	ShardCapacity   int `env:"KVCORE_SHARD_CAPACITY" envDefault:"100000"`

	// Prefix source (external sync layer)
	PrefixRatePerSec float64 `env:"KVCORE_PREFIX_RATE_PER_SEC" envDefault:"1000"`

	// Logging
	LogLevel  string `env:"KVCORE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KVCORE_LOG_FORMAT" envDefault:"json"`

	// Monitoring
	MetricsInterval time.Duration `env:"KVCORE_METRICS_INTERVAL" envDefault:"15s"`
}

// Load reads configuration from an optional .env file and environment
// variables. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.NumClients < 1 {
		return fmt.Errorf("KVCORE_NUM_CLIENTS must be > 0, got %d", c.NumClients)
	}
	if c.NumPartitions < 1 || (c.NumPartitions&(c.NumPartitions-1)) != 0 {
		return fmt.Errorf("KVCORE_NUM_PARTITIONS must be a power of two, got %d", c.NumPartitions)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("KVCORE_LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("KVCORE_LOG_FORMAT must be one of json, console (got %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("listen_addr", c.ListenAddr).
		Str("metrics_addr", c.MetricsAddr).
		Int("num_clients", c.NumClients).
		Int("num_partitions", c.NumPartitions).
		Int("rx_ring_size", c.RxRingSize).
		Int("client_ring_size", c.ClientRingSize).
		Int("ack_ring_size", c.AckRingSize).
		Int("prefix_ring_size", c.PrefixRingSize).
		Int("rx_burst_size", c.RxBurstSize).
		Int("shard_capacity", c.ShardCapacity).
		Float64("prefix_rate_per_sec", c.PrefixRatePerSec).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
