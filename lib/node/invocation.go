package node

import (
	"math"
	"time"
)

// Invocation measures a single function invocation and reports it to the
// collector once it has ended.
type Invocation struct {
	collector         *Collector
	configurationName string
	functionID        string

	begin          time.Time
	executionNanos int64
	dataIn         float64
	dataOut        float64
}

func (c *Collector) NewInvocation(configurationName, functionID string) *Invocation {
	return &Invocation{
		collector:         c,
		configurationName: configurationName,
		functionID:        functionID,
		dataIn:            math.NaN(),
		dataOut:           math.NaN(),
	}
}

func (i *Invocation) Begin() {
	i.begin = time.Now()
}

func (i *Invocation) End() {
	i.executionNanos = time.Since(i.begin).Nanoseconds()
}

// SetDataInput records the size of the invocation inputs: bytes were measured
// over sampled of count values, the rest are extrapolated from them.
func (i *Invocation) SetDataInput(bytes int64, sampled, count int) {
	i.dataIn = extrapolatedSize(bytes, sampled, count)
}

func (i *Invocation) SetDataOutput(bytes int64, sampled, count int) {
	i.dataOut = extrapolatedSize(bytes, sampled, count)
}

func extrapolatedSize(bytes int64, sampled, count int) float64 {
	if sampled <= 0 {
		return math.NaN()
	}
	if count < sampled {
		count = sampled
	}
	return float64(bytes) / float64(sampled) * float64(count)
}

func (i *Invocation) ExecutionNanos() int64 {
	return i.executionNanos
}

func (i *Invocation) Report() error {
	return i.collector.FunctionInvoked(i.configurationName, i.functionID, 1, i.executionNanos, i.dataIn, i.dataOut)
}
