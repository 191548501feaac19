// Package config loads the indexer and mirror configuration from an
// optional yaml file plus PERPIDX_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface. Components receive the
// sub-structs they need; nothing reads ambient process state.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Secondary SecondaryConfig `mapstructure:"secondary"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type PostgresConfig struct {
	DSN           string `mapstructure:"dsn"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type NATSConfig struct {
	URL         string `mapstructure:"url"`
	ChannelSize int    `mapstructure:"channel_size"`
}

// FeedConfig is the client mirror's connection to the venue feed.
type FeedConfig struct {
	WSURL    string `mapstructure:"ws_url"`
	QueryURL string `mapstructure:"query_url"`
}

// SecondaryConfig configures the best-effort external REST store. An
// empty URL disables the secondary path entirely.
type SecondaryConfig struct {
	URL               string  `mapstructure:"url"`
	APIKey            string  `mapstructure:"api_key"`
	Token             string  `mapstructure:"token"`
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Enabled reports whether a secondary store is configured.
func (c SecondaryConfig) Enabled() bool { return c.URL != "" }

type EngineConfig struct {
	ReorgTolerance uint64 `mapstructure:"reorg_tolerance"`
	DedupCapacity  int    `mapstructure:"dedup_capacity"`
}

type MirrorConfig struct {
	Engine           string        `mapstructure:"engine"`
	WindowBlocks     uint64        `mapstructure:"window_blocks"`
	BackfillPage     uint64        `mapstructure:"backfill_page"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	StateDir         string        `mapstructure:"state_dir"`
}

// Load reads the optional config file and applies environment overrides
// (PERPIDX_ prefix, dots become underscores: PERPIDX_POSTGRES_DSN).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.migrations_dir", "migrations")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.channel_size", 1024)
	v.SetDefault("secondary.concurrency", 8)
	v.SetDefault("secondary.requests_per_second", 50)
	v.SetDefault("engine.reorg_tolerance", 50)
	v.SetDefault("engine.dedup_capacity", 1<<20)
	v.SetDefault("mirror.window_blocks", 10_000)
	v.SetDefault("mirror.backfill_page", 2_000)
	v.SetDefault("mirror.snapshot_interval", 30*time.Second)
	v.SetDefault("mirror.state_dir", ".perpindex")

	v.SetEnvPrefix("PERPIDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
