// Package costs keeps the per-function cost estimates used to balance work
// across calculation nodes.
package costs

import (
	"math"
	"sync"
	"time"

	"github.com/darenliang/gridstats-go/lib/costs/persistence"
)

const (
	// DefaultCost is published until a function has been measured.
	DefaultCost = 1.0
	// SampleWindow is the number of recorded invocations between publishes.
	SampleWindow = 100
	// AccumulatorRetention is the share of the accumulators kept after each
	// publish, giving an exponential window of roughly ten publishes.
	AccumulatorRetention = 0.9
)

// Costs are the published estimates of a function.
type Costs struct {
	InvocationCost float64 `json:"invocation_cost"`
	DataInputCost  float64 `json:"data_input_cost"`
	DataOutputCost float64 `json:"data_output_cost"`
}

// FunctionStatistics accumulates invocation samples of one function and
// periodically publishes them as costs.
type FunctionStatistics struct {
	key  FunctionKey
	lock sync.Mutex

	costs       Costs
	lastUpdated time.Time

	pendingInvocations float64
	pendingTime        float64
	pendingDataIn      float64
	pendingDataOut     float64
	sampleCounter      int
}

// newFunctionStatistics seeds the published costs the way SetCosts does, so a
// seeded function is picked up by the next persistence sweep.
func newFunctionStatistics(key FunctionKey, costs Costs) *FunctionStatistics {
	s := &FunctionStatistics{
		key:           key,
		sampleCounter: SampleWindow - 1,
	}
	s.setCostsLocked(costs)
	return s
}

func (s *FunctionStatistics) Key() FunctionKey {
	return s.key
}

// SetCosts replaces the published costs.
func (s *FunctionStatistics) SetCosts(invocationCost, dataInputCost, dataOutputCost float64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.setCostsLocked(Costs{
		InvocationCost: invocationCost,
		DataInputCost:  dataInputCost,
		DataOutputCost: dataOutputCost,
	})
}

func (s *FunctionStatistics) setCostsLocked(costs Costs) {
	s.costs = costs
	s.lastUpdated = time.Now()
}

// RecordInvocation adds count invocations taking totalNanos in total. Data
// sizes are per-invocation means; NaN marks an unknown size, which is
// extrapolated from the history instead of being counted as zero.
func (s *FunctionStatistics) RecordInvocation(count int, totalNanos, meanDataInBytes, meanDataOutBytes float64) {
	if count <= 0 {
		return
	}
	invocations := float64(count)

	s.lock.Lock()
	defer s.lock.Unlock()

	s.pendingDataIn += invocations * s.dataMeanLocked(meanDataInBytes, s.pendingDataIn, s.costs.DataInputCost)
	s.pendingDataOut += invocations * s.dataMeanLocked(meanDataOutBytes, s.pendingDataOut, s.costs.DataOutputCost)
	s.pendingInvocations += invocations
	s.pendingTime += totalNanos

	s.sampleCounter += count
	if s.sampleCounter < SampleWindow {
		return
	}
	s.sampleCounter = 0

	s.setCostsLocked(Costs{
		InvocationCost: s.pendingTime / s.pendingInvocations,
		DataInputCost:  s.pendingDataIn / s.pendingInvocations,
		DataOutputCost: s.pendingDataOut / s.pendingInvocations,
	})
	s.pendingInvocations *= AccumulatorRetention
	s.pendingTime *= AccumulatorRetention
	s.pendingDataIn *= AccumulatorRetention
	s.pendingDataOut *= AccumulatorRetention
}

func (s *FunctionStatistics) dataMeanLocked(sample, pending, published float64) float64 {
	if !math.IsNaN(sample) {
		return sample
	}
	if s.pendingInvocations > 0 {
		return pending / s.pendingInvocations
	}
	return published
}

func (s *FunctionStatistics) Costs() Costs {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.costs
}

func (s *FunctionStatistics) InvocationCost() float64 {
	return s.Costs().InvocationCost
}

// LastUpdated is when the costs were last seeded, published or set.
func (s *FunctionStatistics) LastUpdated() time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.lastUpdated
}

// PopulateSnapshot copies the published costs only; the accumulators are not
// persisted.
func (s *FunctionStatistics) PopulateSnapshot(snapshot *persistence.CostSnapshot) {
	costs := s.Costs()
	snapshot.ConfigurationName = s.key.ConfigurationName
	snapshot.FunctionID = s.key.FunctionID
	snapshot.InvocationCost = costs.InvocationCost
	snapshot.DataInputCost = costs.DataInputCost
	snapshot.DataOutputCost = costs.DataOutputCost
}

func (s *FunctionStatistics) snapshot() *persistence.CostSnapshot {
	snapshot := &persistence.CostSnapshot{}
	s.PopulateSnapshot(snapshot)
	return snapshot
}
