package node

import (
	"math"
	"sync"
	"time"

	"github.com/darenliang/gridstats-go/lib/interfaces"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/protocol"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/atomic"
)

// Sender delivers a statistics batch to the central receiver.
type Sender interface {
	SendStatistics(batch *protocol.StatisticsBatch) error
}

type CollectorConfig struct {
	// FlushInterval is the minimum time between two scheduled sends.
	FlushInterval time.Duration
	// ServerScalingHint is the trust in server corrections, from 0 (ignore) to 1.
	ServerScalingHint float64
	// ConvergenceFactor in (0, 1] pulls the time scale back towards 1.
	ConvergenceFactor float64
}

func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		FlushInterval:     5 * time.Second,
		ServerScalingHint: 1,
		ConvergenceFactor: 1,
	}
}

type accumulator struct {
	lock           sync.Mutex
	count          uint64
	timeSum        float64
	dataInSum      float64
	dataInSamples  uint64
	dataOutSum     float64
	dataOutSamples uint64
}

func (a *accumulator) addLocked(count uint64, nanos, dataIn, dataOut float64) {
	a.count += count
	a.timeSum += nanos
	if !math.IsNaN(dataIn) {
		a.dataInSum += dataIn * float64(count)
		a.dataInSamples += count
	}
	if !math.IsNaN(dataOut) {
		a.dataOutSum += dataOut * float64(count)
		a.dataOutSamples += count
	}
}

// extrapolate scales a partially measured sum up to all invocations; NaN when
// nothing was measured.
func extrapolate(sum float64, samples, count uint64) float64 {
	if samples == 0 {
		return math.NaN()
	}
	return sum / float64(samples) * float64(count)
}

func (a *accumulator) clone(functionID string) protocol.FunctionStatistics {
	a.lock.Lock()
	defer a.lock.Unlock()

	return protocol.FunctionStatistics{
		FunctionID:      functionID,
		InvocationCount: a.count,
		InvocationNanos: a.timeSum,
		DataInputBytes:  extrapolate(a.dataInSum, a.dataInSamples, a.count),
		DataOutputBytes: extrapolate(a.dataOutSum, a.dataOutSamples, a.count),
	}
}

// Collector accumulates function invocation statistics on a calculation node
// and periodically pushes them to the central receiver.
type Collector struct {
	config              CollectorConfig
	sender              Sender
	executor            interfaces.Executor
	configurations      cmap.ConcurrentMap[string, cmap.ConcurrentMap[string, *accumulator]]
	invocationTimeScale *atomic.Float64
	lastSentNanos       *atomic.Int64
}

func NewCollector(config CollectorConfig, sender Sender, executor interfaces.Executor) *Collector {
	return &Collector{
		config:              config,
		sender:              sender,
		executor:            executor,
		configurations:      cmap.New[cmap.ConcurrentMap[string, *accumulator]](),
		invocationTimeScale: atomic.NewFloat64(1),
		lastSentNanos:       atomic.NewInt64(time.Now().UnixNano()),
	}
}

func (c *Collector) InvocationTimeScale() float64 {
	return c.invocationTimeScale.Load()
}

// FunctionInvoked records count invocations of a function. Data sizes are
// per-invocation bytes, NaN when unknown.
func (c *Collector) FunctionInvoked(configurationName, functionID string, count uint64, executionNanos int64, dataInBytes, dataOutBytes float64) error {
	if configurationName == "" {
		return protocol.ErrEmptyConfigurationName
	}
	if functionID == "" {
		return protocol.ErrEmptyFunctionID
	}

	functions, ok := c.configurations.Get(configurationName)
	if !ok {
		candidate := cmap.New[*accumulator]()
		if c.configurations.SetIfAbsent(configurationName, candidate) {
			functions = candidate
		} else {
			functions, _ = c.configurations.Get(configurationName)
		}
	}

	nanos := float64(executionNanos) * c.invocationTimeScale.Load()
	if a, ok := functions.Get(functionID); ok {
		a.lock.Lock()
		a.addLocked(count, nanos, dataInBytes, dataOutBytes)
		a.lock.Unlock()
	} else {
		a := &accumulator{}
		a.addLocked(count, nanos, dataInBytes, dataOutBytes)
		if !functions.SetIfAbsent(functionID, a) {
			logging.Logger.Debugf("dropped invocation sample of %s/%s lost to a concurrent insert", configurationName, functionID)
		}
	}

	c.maybeFlush()
	return nil
}

// maybeFlush schedules at most one send per flush interval.
func (c *Collector) maybeFlush() {
	lastSent := c.lastSentNanos.Load()
	now := time.Now().UnixNano()
	if now <= lastSent+c.config.FlushInterval.Nanoseconds() {
		return
	}
	if !c.lastSentNanos.CompareAndSwap(lastSent, now) {
		return
	}
	c.submitSend()
}

func (c *Collector) submitSend() {
	err := c.executor.Submit(c.SendStatistics)
	if err != nil {
		logging.Logger.Errorf("schedule statistics send failed: %s", err.Error())
	}
}

// Flush sends the accumulated statistics immediately.
func (c *Collector) Flush() {
	c.lastSentNanos.Store(time.Now().UnixNano())
	c.submitSend()
}

// SendStatistics drains the accumulated statistics into one batch. An
// invocation recorded into an accumulator while it is being drained may be
// lost.
func (c *Collector) SendStatistics() {
	batch := &protocol.StatisticsBatch{Configurations: make([]protocol.ConfigurationStatistics, 0)}
	for _, configurationName := range c.configurations.Keys() {
		functions, ok := c.configurations.Pop(configurationName)
		if !ok {
			continue
		}
		configuration := protocol.ConfigurationStatistics{
			ConfigurationName: configurationName,
			Functions:         make([]protocol.FunctionStatistics, 0, functions.Count()),
		}
		functions.IterCb(func(functionID string, a *accumulator) {
			configuration.Functions = append(configuration.Functions, a.clone(functionID))
		})
		if len(configuration.Functions) > 0 {
			batch.Configurations = append(batch.Configurations, configuration)
		}
	}

	if len(batch.Configurations) == 0 {
		return
	}
	logging.CheckError(c.sender.SendStatistics(batch))
}

// SetScaling applies a server suggested correction:
// scale = (scale * suggested^hint)^convergence.
func (c *Collector) SetScaling(serverSuggestedScale float64) {
	if serverSuggestedScale <= 0 || math.IsNaN(serverSuggestedScale) || math.IsInf(serverSuggestedScale, 0) {
		logging.Logger.Warnf("ignoring invalid scaling suggestion %v", serverSuggestedScale)
		return
	}

	for {
		scale := c.invocationTimeScale.Load()
		next := math.Pow(scale*math.Pow(serverSuggestedScale, c.config.ServerScalingHint), c.config.ConvergenceFactor)
		if c.invocationTimeScale.CompareAndSwap(scale, next) {
			logging.Logger.Debugf("invocation time scale %v -> %v", scale, next)
			return
		}
	}
}
