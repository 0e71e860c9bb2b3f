package server

import (
	"context"
	"fmt"

	"github.com/darenliang/gridstats-go/lib/config"
	"github.com/darenliang/gridstats-go/lib/costs/persistence"
)

// NewGateway opens the persistence backend named in cfg. The returned close
// function releases it.
func NewGateway(ctx context.Context, cfg config.PersistenceConfig) (persistence.Gateway, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return persistence.NewMemoryGateway(), func() error { return nil }, nil
	case config.BackendSQLite:
		gateway, err := persistence.NewSQLiteGateway(cfg.SQLiteDir)
		if err != nil {
			return nil, nil, err
		}
		return gateway, gateway.Close, nil
	case config.BackendRedis:
		gateway, err := persistence.NewRedisGateway(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return gateway, gateway.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
