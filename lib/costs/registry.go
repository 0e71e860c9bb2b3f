package costs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/darenliang/gridstats-go/lib/costs/persistence"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/marusama/semaphore/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/stat"
)

type FunctionKey = persistence.FunctionKey

// MeanKey is the reserved key of the network-wide mean record. Configuration
// names are never empty, so it cannot collide with a real function.
var MeanKey = FunctionKey{ConfigurationName: "", FunctionID: "MEAN"}

// DefaultStoreConcurrency bounds the stores a persistence sweep runs at once.
const DefaultStoreConcurrency = 8

// Registry owns the FunctionStatistics of every known function.
type Registry struct {
	gateway          persistence.Gateway
	storeConcurrency int
	mean             *FunctionStatistics
	functions        cmap.ConcurrentMap[FunctionKey, *FunctionStatistics]

	// sweep log; entries are only ever appended
	logLock sync.RWMutex
	log     []*FunctionStatistics
}

// NewRegistry loads the mean record from gateway, defaulting every cost to
// DefaultCost when it was never stored.
func NewRegistry(ctx context.Context, gateway persistence.Gateway) (*Registry, error) {
	mean := newFunctionStatistics(MeanKey, Costs{
		InvocationCost: DefaultCost,
		DataInputCost:  DefaultCost,
		DataOutputCost: DefaultCost,
	})

	snapshot, err := gateway.Load(ctx, MeanKey, nil)
	if err != nil {
		return nil, fmt.Errorf("load mean costs: %w", err)
	}
	if snapshot != nil {
		mean.costs = costsOf(snapshot)
	}

	return &Registry{
		gateway:          gateway,
		storeConcurrency: DefaultStoreConcurrency,
		mean:             mean,
		functions:        cmap.NewStringer[FunctionKey, *FunctionStatistics](),
		log:              make([]*FunctionStatistics, 0),
	}, nil
}

// SetStoreConcurrency changes how many stores a sweep may run in parallel.
func (r *Registry) SetStoreConcurrency(concurrency int) {
	if concurrency > 0 {
		r.storeConcurrency = concurrency
	}
}

func costsOf(snapshot *persistence.CostSnapshot) Costs {
	return Costs{
		InvocationCost: snapshot.InvocationCost,
		DataInputCost:  snapshot.DataInputCost,
		DataOutputCost: snapshot.DataOutputCost,
	}
}

func validateKey(configurationName, functionID string) error {
	if configurationName == "" {
		return protocol.ErrEmptyConfigurationName
	}
	if functionID == "" {
		return protocol.ErrEmptyFunctionID
	}
	return nil
}

func (r *Registry) Mean() *FunctionStatistics {
	return r.mean
}

// GetStatistics returns the statistics of a function, creating them from the
// persisted costs or from the mean record on first use.
func (r *Registry) GetStatistics(ctx context.Context, configurationName, functionID string) (*FunctionStatistics, error) {
	if err := validateKey(configurationName, functionID); err != nil {
		return nil, err
	}

	key := FunctionKey{ConfigurationName: configurationName, FunctionID: functionID}
	if statistics, ok := r.functions.Get(key); ok {
		return statistics, nil
	}

	snapshot, err := r.gateway.Load(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("load costs %s: %w", key, err)
	}

	var candidate *FunctionStatistics
	if snapshot != nil {
		candidate = newFunctionStatistics(key, costsOf(snapshot))
	} else {
		candidate = newFunctionStatistics(key, r.mean.Costs())
	}

	if !r.functions.SetIfAbsent(key, candidate) {
		statistics, _ := r.functions.Get(key)
		return statistics, nil
	}

	r.logLock.Lock()
	r.log = append(r.log, candidate)
	r.logLock.Unlock()

	logging.Logger.Debugf("created cost statistics for %s", key)
	return candidate, nil
}

// Functions returns the statistics created so far, in creation order.
func (r *Registry) Functions() []*FunctionStatistics {
	r.logLock.RLock()
	defer r.logLock.RUnlock()

	return r.log[:len(r.log):len(r.log)]
}

// CreatePersistenceWriter returns a sweep to be run periodically. Each run
// stores every function published since the previous run and folds their
// costs into the mean record, counting the previous mean as one sample.
func (r *Registry) CreatePersistenceWriter() func(ctx context.Context) error {
	var watermark time.Time
	return func(ctx context.Context) error {
		sweepStart := time.Now()

		fresh := make([]*FunctionStatistics, 0)
		for _, statistics := range r.Functions() {
			if statistics.LastUpdated().After(watermark) {
				fresh = append(fresh, statistics)
			}
		}
		watermark = sweepStart

		if len(fresh) == 0 {
			return nil
		}

		meanCosts := r.mean.Costs()
		invocation := []float64{meanCosts.InvocationCost}
		dataIn := []float64{meanCosts.DataInputCost}
		dataOut := []float64{meanCosts.DataOutputCost}
		snapshots := make([]*persistence.CostSnapshot, 0, len(fresh))
		for _, statistics := range fresh {
			snapshot := statistics.snapshot()
			invocation = append(invocation, snapshot.InvocationCost)
			dataIn = append(dataIn, snapshot.DataInputCost)
			dataOut = append(dataOut, snapshot.DataOutputCost)
			snapshots = append(snapshots, snapshot)
		}

		var (
			errLock sync.Mutex
			errs    error
			wg      sync.WaitGroup
		)
		appendErr := func(err error) {
			errLock.Lock()
			errs = multierr.Append(errs, err)
			errLock.Unlock()
		}

		sem := semaphore.New(r.storeConcurrency)
		for _, snapshot := range snapshots {
			if err := sem.Acquire(ctx, 1); err != nil {
				appendErr(err)
				break
			}
			wg.Add(1)
			go func(snapshot *persistence.CostSnapshot) {
				defer wg.Done()
				defer sem.Release(1)
				if _, err := r.gateway.Store(ctx, snapshot); err != nil {
					appendErr(err)
				}
			}(snapshot)
		}
		wg.Wait()

		r.mean.SetCosts(stat.Mean(invocation, nil), stat.Mean(dataIn, nil), stat.Mean(dataOut, nil))
		if _, err := r.gateway.Store(ctx, r.mean.snapshot()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store mean costs: %w", err))
		}

		logging.Logger.Debugf("persisted costs of %d functions", len(fresh))
		return errs
	}
}
