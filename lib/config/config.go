package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/darenliang/gridstats-go/lib/costs/persistence"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type PersistenceConfig struct {
	Backend          string                  `yaml:"backend"`
	SQLiteDir        string                  `yaml:"sqlite_dir"`
	Redis            persistence.RedisConfig `yaml:"redis"`
	SweepInterval    time.Duration           `yaml:"sweep_interval"`
	StoreConcurrency int                     `yaml:"store_concurrency"`
}

type NodesConfig struct {
	DecayInterval time.Duration `yaml:"decay_interval"`
	DecayFactor   float64       `yaml:"decay_factor"`
	Retention     time.Duration `yaml:"retention"`
}

// Config tunes the statistics server. Zero values in a file keep the defaults.
type Config struct {
	Persistence PersistenceConfig `yaml:"persistence"`
	Nodes       NodesConfig       `yaml:"nodes"`
	PoolSize    int               `yaml:"pool_size"`
}

func Default() Config {
	return Config{
		Persistence: PersistenceConfig{
			Backend:          BackendMemory,
			SQLiteDir:        "data",
			SweepInterval:    time.Minute,
			StoreConcurrency: 8,
		},
		Nodes: NodesConfig{
			DecayInterval: time.Minute,
			DecayFactor:   0.1,
			Retention:     time.Hour,
		},
		PoolSize: 1000,
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Persistence.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.Persistence.Redis.URL == "" {
			return errors.New("persistence.redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
	if c.Persistence.SweepInterval <= 0 {
		return errors.New("persistence.sweep_interval must be positive")
	}
	if c.Nodes.DecayInterval <= 0 {
		return errors.New("nodes.decay_interval must be positive")
	}
	if c.Nodes.DecayFactor < 0 || c.Nodes.DecayFactor > 1 {
		return errors.New("nodes.decay_factor must be within [0, 1]")
	}
	if c.Nodes.Retention <= 0 {
		return errors.New("nodes.retention must be positive")
	}
	if c.PoolSize <= 0 {
		return errors.New("pool_size must be positive")
	}
	return nil
}
