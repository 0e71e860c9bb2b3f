package costs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/darenliang/gridstats-go/lib/costs/persistence"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingGateway struct {
	*persistence.MemoryGateway
	failStore bool
}

var errUnavailable = errors.New("store unavailable")

func (g *failingGateway) Store(ctx context.Context, snapshot *persistence.CostSnapshot) (*persistence.CostSnapshot, error) {
	if g.failStore {
		return nil, errUnavailable
	}
	return g.MemoryGateway.Store(ctx, snapshot)
}

func newTestRegistry(t *testing.T, gateway persistence.Gateway) *Registry {
	t.Helper()
	registry, err := NewRegistry(context.Background(), gateway)
	require.NoError(t, err)
	return registry
}

func TestRegistryDefaultsMeanWhenNeverStored(t *testing.T) {
	registry := newTestRegistry(t, persistence.NewMemoryGateway())

	assert.Equal(t, Costs{InvocationCost: 1, DataInputCost: 1, DataOutputCost: 1}, registry.Mean().Costs())
}

func TestRegistryLoadsStoredMean(t *testing.T) {
	ctx := context.Background()
	gateway := persistence.NewMemoryGateway()
	_, err := gateway.Store(ctx, &persistence.CostSnapshot{
		ConfigurationName: MeanKey.ConfigurationName,
		FunctionID:        MeanKey.FunctionID,
		InvocationCost:    500,
		DataInputCost:     60,
		DataOutputCost:    7,
	})
	require.NoError(t, err)

	registry := newTestRegistry(t, gateway)
	statistics, err := registry.GetStatistics(ctx, "Default", "PV")
	require.NoError(t, err)

	assert.Equal(t, Costs{InvocationCost: 500, DataInputCost: 60, DataOutputCost: 7}, statistics.Costs())
}

func TestRegistryLoadsPersistedFunction(t *testing.T) {
	ctx := context.Background()
	gateway := persistence.NewMemoryGateway()
	_, err := gateway.Store(ctx, &persistence.CostSnapshot{
		ConfigurationName: "Default",
		FunctionID:        "PV",
		InvocationCost:    42,
		DataInputCost:     43,
		DataOutputCost:    44,
	})
	require.NoError(t, err)

	registry := newTestRegistry(t, gateway)
	statistics, err := registry.GetStatistics(ctx, "Default", "PV")
	require.NoError(t, err)

	assert.Equal(t, Costs{InvocationCost: 42, DataInputCost: 43, DataOutputCost: 44}, statistics.Costs())
	assert.Equal(t, FunctionKey{ConfigurationName: "Default", FunctionID: "PV"}, statistics.Key())
}

func TestRegistryRejectsEmptyIdentifiers(t *testing.T) {
	registry := newTestRegistry(t, persistence.NewMemoryGateway())

	_, err := registry.GetStatistics(context.Background(), "", "PV")
	assert.ErrorIs(t, err, protocol.ErrEmptyConfigurationName)

	_, err = registry.GetStatistics(context.Background(), "Default", "")
	assert.ErrorIs(t, err, protocol.ErrEmptyFunctionID)
}

func TestRegistryConcurrentCreation(t *testing.T) {
	registry := newTestRegistry(t, persistence.NewMemoryGateway())

	results := make([]*FunctionStatistics, 32)
	wg := sync.WaitGroup{}
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statistics, err := registry.GetStatistics(context.Background(), "Default", "PV")
			assert.NoError(t, err)
			results[i] = statistics
		}(i)
	}
	wg.Wait()

	for _, statistics := range results {
		assert.Same(t, results[0], statistics)
	}
	assert.Len(t, registry.Functions(), 1)
}

func TestPersistenceWriterFoldsMean(t *testing.T) {
	ctx := context.Background()
	gateway := persistence.NewMemoryGateway()
	registry := newTestRegistry(t, gateway)
	writer := registry.CreatePersistenceWriter()

	pv, err := registry.GetStatistics(ctx, "Default", "PV")
	require.NoError(t, err)
	delta, err := registry.GetStatistics(ctx, "Default", "Delta")
	require.NoError(t, err)

	pv.SetCosts(4, 7, 10)
	delta.SetCosts(7, 1, 1)

	require.NoError(t, writer(ctx))

	// previous mean (1, 1, 1) counts as one sample
	assert.Equal(t, Costs{InvocationCost: 4, DataInputCost: 3, DataOutputCost: 4}, registry.Mean().Costs())

	stored, err := gateway.Load(ctx, FunctionKey{ConfigurationName: "Default", FunctionID: "PV"}, nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 4.0, stored.InvocationCost)

	mean, err := gateway.Load(ctx, MeanKey, nil)
	require.NoError(t, err)
	require.NotNil(t, mean)
	assert.Equal(t, 4.0, mean.InvocationCost)

	// nothing changed since the sweep
	require.NoError(t, writer(ctx))
	assert.Equal(t, Costs{InvocationCost: 4, DataInputCost: 3, DataOutputCost: 4}, registry.Mean().Costs())
}

func TestPersistenceWriterStoresSeededFunctions(t *testing.T) {
	ctx := context.Background()
	gateway := persistence.NewMemoryGateway()
	_, err := gateway.Store(ctx, &persistence.CostSnapshot{
		ConfigurationName: "Default",
		FunctionID:        "Loaded",
		InvocationCost:    9,
		DataInputCost:     9,
		DataOutputCost:    9,
	})
	require.NoError(t, err)
	registry := newTestRegistry(t, gateway)
	writer := registry.CreatePersistenceWriter()

	loaded, err := registry.GetStatistics(ctx, "Default", "Loaded")
	require.NoError(t, err)
	assert.False(t, loaded.LastUpdated().IsZero())
	fresh, err := registry.GetStatistics(ctx, "Default", "Fresh")
	require.NoError(t, err)
	assert.False(t, fresh.LastUpdated().IsZero())

	require.NoError(t, writer(ctx))

	// mean (1) folded with the loaded (9) and mean-seeded (1) functions
	assert.InDelta(t, 11.0/3.0, registry.Mean().InvocationCost(), 1e-12)

	stored, err := gateway.Load(ctx, FunctionKey{ConfigurationName: "Default", FunctionID: "Fresh"}, nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1.0, stored.InvocationCost)
}

func TestPersistenceWriterRescansUpdatedEntries(t *testing.T) {
	ctx := context.Background()
	gateway := persistence.NewMemoryGateway()
	registry := newTestRegistry(t, gateway)
	writer := registry.CreatePersistenceWriter()

	pv, err := registry.GetStatistics(ctx, "Default", "PV")
	require.NoError(t, err)
	pv.SetCosts(3, 3, 3)
	require.NoError(t, writer(ctx))
	assert.Equal(t, 2.0, registry.Mean().InvocationCost())

	// nothing changed: the mean stays put
	require.NoError(t, writer(ctx))
	assert.Equal(t, 2.0, registry.Mean().InvocationCost())

	time.Sleep(time.Millisecond)
	pv.SetCosts(6, 6, 6)
	require.NoError(t, writer(ctx))
	assert.Equal(t, 4.0, registry.Mean().InvocationCost())

	stored, err := gateway.Load(ctx, FunctionKey{ConfigurationName: "Default", FunctionID: "PV"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, stored.InvocationCost)
}

func TestPersistenceWriterReportsStoreFailures(t *testing.T) {
	ctx := context.Background()
	gateway := &failingGateway{MemoryGateway: persistence.NewMemoryGateway()}
	registry := newTestRegistry(t, gateway)
	writer := registry.CreatePersistenceWriter()

	pv, err := registry.GetStatistics(ctx, "Default", "PV")
	require.NoError(t, err)
	pv.SetCosts(3, 3, 3)

	gateway.failStore = true
	err = writer(ctx)
	assert.ErrorIs(t, err, errUnavailable)
}
