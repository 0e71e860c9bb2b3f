package persistence

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// MemoryGateway keeps the last stored snapshot per key. It has no history: an
// as-of lookup only finds the latest snapshot when it is not newer than as-of.
type MemoryGateway struct {
	snapshots cmap.ConcurrentMap[FunctionKey, CostSnapshot]
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{snapshots: cmap.NewStringer[FunctionKey, CostSnapshot]()}
}

func (g *MemoryGateway) Load(_ context.Context, key FunctionKey, versionAsOf *time.Time) (*CostSnapshot, error) {
	snapshot, ok := g.snapshots.Get(key)
	if !ok {
		return nil, nil
	}
	if versionAsOf != nil && snapshot.Version.After(*versionAsOf) {
		return nil, nil
	}
	return &snapshot, nil
}

func (g *MemoryGateway) Store(_ context.Context, snapshot *CostSnapshot) (*CostSnapshot, error) {
	stored := *snapshot
	stored.Version = time.Now()
	g.snapshots.Set(stored.Key(), stored)
	return &stored, nil
}

func (g *MemoryGateway) Count() int {
	return g.snapshots.Count()
}
