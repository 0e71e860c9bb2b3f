package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGateway keeps each key's versions in a sorted set scored by the
// version in microseconds.
type RedisGateway struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds configuration for the Redis gateway.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewRedisGateway connects to Redis and verifies the connection.
func NewRedisGateway(ctx context.Context, cfg RedisConfig) (*RedisGateway, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "costs:v1"
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisGateway{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (g *RedisGateway) key(key FunctionKey) string {
	return fmt.Sprintf("%s:%s:%s", g.keyPrefix, key.ConfigurationName, key.FunctionID)
}

func (g *RedisGateway) Load(ctx context.Context, key FunctionKey, versionAsOf *time.Time) (*CostSnapshot, error) {
	upper := "+inf"
	if versionAsOf != nil {
		upper = strconv.FormatInt(versionAsOf.UnixMicro(), 10)
	}

	members, err := g.client.ZRevRangeByScore(ctx, g.key(key), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: 1,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(members) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load costs %s: %w", key, err)
	}

	var snapshot CostSnapshot
	if err := json.Unmarshal([]byte(members[0]), &snapshot); err != nil {
		return nil, fmt.Errorf("decode costs %s: %w", key, err)
	}
	return &snapshot, nil
}

func (g *RedisGateway) Store(ctx context.Context, snapshot *CostSnapshot) (*CostSnapshot, error) {
	stored := *snapshot
	stored.Version = time.UnixMicro(time.Now().UnixMicro())

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("encode costs %s: %w", stored.Key(), err)
	}

	err = g.client.ZAdd(ctx, g.key(stored.Key()), redis.Z{
		Score:  float64(stored.Version.UnixMicro()),
		Member: data,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("store costs %s: %w", stored.Key(), err)
	}
	return &stored, nil
}

// Close closes the Redis connection.
func (g *RedisGateway) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
