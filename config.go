package main

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MaxShardTotal is the largest shard count the record framing can carry.
const MaxShardTotal = 1 << 16

var (
	// ErrInvalidToken is returned when the gateway rejects the token
	ErrInvalidToken = errors.New("invalid token passed")

	ErrShardRange       = errors.New("DISCORD_SHARD_UNTIL must not be less than DISCORD_SHARD_START")
	ErrShardTotalLow    = errors.New("DISCORD_SHARD_TOTAL must be greater than DISCORD_SHARD_UNTIL")
	ErrShardTotalBounds = errors.New("DISCORD_SHARD_TOTAL must not exceed 65536")
)

// Config represents all configurable elements, read from the environment
// once at startup.
type Config struct {
	Token string `env:"DISCORD_TOKEN,required"`

	// Shards [ShardStart, ShardUntil] are owned by this process out of
	// ShardTotal across the fleet.
	ShardStart int   `env:"DISCORD_SHARD_START,required"`
	ShardUntil int   `env:"DISCORD_SHARD_UNTIL,required"`
	ShardTotal int64 `env:"DISCORD_SHARD_TOTAL,required"`

	RedisAddress string `env:"REDIS_ADDR,required"`

	// GatewayURL skips the /gateway/bot lookup when set.
	GatewayURL string `env:"GATEWAY_URL"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	PrometheusAddr string `env:"PROMETHEUS_ADDR"`

	// Configuration for NATS. Leaving the address empty disables the
	// status stream.
	NatsAddress string `env:"NATS_ADDR"`
	ClusterID   string `env:"NATS_CLUSTER" envDefault:"cluster"`
	NatsChannel string `env:"NATS_CHANNEL" envDefault:"sharder"`
}

// LoadConfig reads configuration from a .env file when present, then from
// environment variables.
func LoadConfig() (*Config, error) {
	// Missing .env files are fine, production supplies real env vars.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the shard window and broker address, and normalises the
// token so every consumer sees the "Bot " form.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Token, "Bot ") {
		c.Token = "Bot " + c.Token
	}

	if _, _, err := net.SplitHostPort(c.RedisAddress); err != nil {
		return fmt.Errorf("failed to parse REDIS_ADDR: %w", err)
	}

	if c.ShardStart < 0 {
		return fmt.Errorf("DISCORD_SHARD_START must not be negative, got %d", c.ShardStart)
	}

	if c.ShardUntil < c.ShardStart {
		return ErrShardRange
	}

	if c.ShardTotal <= int64(c.ShardUntil) {
		return ErrShardTotalLow
	}

	if c.ShardTotal > MaxShardTotal {
		return ErrShardTotalBounds
	}

	return nil
}

// ShardCount reports how many shards this process owns.
func (c *Config) ShardCount() int {
	return c.ShardUntil - c.ShardStart + 1
}
