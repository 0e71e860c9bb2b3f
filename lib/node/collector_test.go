package node

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	lock    sync.Mutex
	batches []*protocol.StatisticsBatch
}

func (s *recordingSender) SendStatistics(batch *protocol.StatisticsBatch) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSender) Batches() []*protocol.StatisticsBatch {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*protocol.StatisticsBatch(nil), s.batches...)
}

type inlineExecutor struct{}

func (inlineExecutor) Submit(task func()) error {
	task()
	return nil
}

func newTestCollector(config CollectorConfig) (*Collector, *recordingSender) {
	sender := &recordingSender{}
	return NewCollector(config, sender, inlineExecutor{}), sender
}

func findFunction(t *testing.T, batch *protocol.StatisticsBatch, configurationName, functionID string) protocol.FunctionStatistics {
	t.Helper()
	for _, configuration := range batch.Configurations {
		if configuration.ConfigurationName != configurationName {
			continue
		}
		for _, function := range configuration.Functions {
			if function.FunctionID == functionID {
				return function
			}
		}
	}
	require.FailNow(t, "function not in batch", "%s/%s", configurationName, functionID)
	return protocol.FunctionStatistics{}
}

func TestSetScaling(t *testing.T) {
	tests := []struct {
		name        string
		hint        float64
		convergence float64
		suggested   float64
		expected    float64
	}{
		{name: "full trust", hint: 1, convergence: 1, suggested: 2, expected: 2},
		{name: "half convergence", hint: 1, convergence: 0.5, suggested: 2, expected: math.Sqrt(2)},
		{name: "no trust", hint: 0, convergence: 1, suggested: 2, expected: 1},
		{name: "no trust large", hint: 0, convergence: 0.5, suggested: 1000, expected: 1},
		{name: "half trust", hint: 0.5, convergence: 1, suggested: 4, expected: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			collector, _ := newTestCollector(CollectorConfig{
				FlushInterval:     time.Hour,
				ServerScalingHint: test.hint,
				ConvergenceFactor: test.convergence,
			})
			collector.SetScaling(test.suggested)
			assert.InDelta(t, test.expected, collector.InvocationTimeScale(), 1e-12)
		})
	}
}

func TestSetScalingIgnoresInvalidSuggestions(t *testing.T) {
	collector, _ := newTestCollector(DefaultCollectorConfig())

	collector.SetScaling(0)
	collector.SetScaling(-3)
	collector.SetScaling(math.NaN())
	collector.SetScaling(math.Inf(1))

	assert.Equal(t, 1.0, collector.InvocationTimeScale())
}

func TestFunctionInvokedRejectsEmptyIdentifiers(t *testing.T) {
	collector, _ := newTestCollector(DefaultCollectorConfig())

	assert.ErrorIs(t, collector.FunctionInvoked("", "PV", 1, 10, 1, 1), protocol.ErrEmptyConfigurationName)
	assert.ErrorIs(t, collector.FunctionInvoked("Default", "", 1, 10, 1, 1), protocol.ErrEmptyFunctionID)
}

func TestSendStatisticsDrains(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: time.Hour, ServerScalingHint: 1, ConvergenceFactor: 1})
	collector.SetScaling(2)

	require.NoError(t, collector.FunctionInvoked("Default", "PV", 2, 1000, 100, math.NaN()))
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 2, 3000, math.NaN(), math.NaN()))
	require.NoError(t, collector.FunctionInvoked("Stress", "Delta", 1, 500, 8, 4))

	collector.SendStatistics()

	batches := sender.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Configurations, 2)

	pv := findFunction(t, batches[0], "Default", "PV")
	assert.Equal(t, uint64(4), pv.InvocationCount)
	assert.Equal(t, 8000.0, pv.InvocationNanos)
	// two measured invocations of 100 bytes extrapolated to all four
	assert.Equal(t, 400.0, pv.DataInputBytes)
	assert.True(t, math.IsNaN(pv.DataOutputBytes))

	delta := findFunction(t, batches[0], "Stress", "Delta")
	assert.Equal(t, uint64(1), delta.InvocationCount)
	assert.Equal(t, 8.0, delta.DataInputBytes)
	assert.Equal(t, 4.0, delta.DataOutputBytes)

	// drained: nothing left to send
	collector.SendStatistics()
	assert.Len(t, sender.Batches(), 1)
}

func TestFlushGate(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: 50 * time.Millisecond, ServerScalingHint: 1, ConvergenceFactor: 1})

	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
	assert.Empty(t, sender.Batches())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
	require.Len(t, sender.Batches(), 1)
	assert.Equal(t, uint64(2), findFunction(t, sender.Batches()[0], "Default", "PV").InvocationCount)

	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
	assert.Len(t, sender.Batches(), 1)
}

func TestFlushGateSchedulesOncePerInterval(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: 200 * time.Millisecond, ServerScalingHint: 1, ConvergenceFactor: 1})
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
	time.Sleep(250 * time.Millisecond)

	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
		}()
	}
	wg.Wait()

	assert.Len(t, sender.Batches(), 1)
}

func TestFlush(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: time.Hour, ServerScalingHint: 1, ConvergenceFactor: 1})
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 3, 30, 1, 1))

	collector.Flush()

	require.Len(t, sender.Batches(), 1)
	assert.Equal(t, uint64(3), findFunction(t, sender.Batches()[0], "Default", "PV").InvocationCount)
}

func TestConcurrentInvocationsKeepCount(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: time.Hour, ServerScalingHint: 1, ConvergenceFactor: 1})
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))

	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				assert.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))
			}
		}()
	}
	wg.Wait()
	collector.SendStatistics()

	require.Len(t, sender.Batches(), 1)
	assert.Equal(t, uint64(4001), findFunction(t, sender.Batches()[0], "Default", "PV").InvocationCount)
}

func TestCollectorWithPool(t *testing.T) {
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	sender := &recordingSender{}
	collector := NewCollector(CollectorConfig{FlushInterval: time.Hour, ServerScalingHint: 1, ConvergenceFactor: 1}, sender, pool)
	require.NoError(t, collector.FunctionInvoked("Default", "PV", 1, 10, 1, 1))

	collector.Flush()

	assert.Eventually(t, func() bool { return len(sender.Batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestInvocationReport(t *testing.T) {
	collector, sender := newTestCollector(CollectorConfig{FlushInterval: time.Hour, ServerScalingHint: 1, ConvergenceFactor: 1})

	invocation := collector.NewInvocation("Default", "PV")
	invocation.SetDataInput(300, 3, 6)
	invocation.Begin()
	time.Sleep(time.Millisecond)
	invocation.End()
	require.NoError(t, invocation.Report())

	unsized := collector.NewInvocation("Default", "Unsized")
	unsized.SetDataOutput(0, 0, 4)
	require.NoError(t, unsized.Report())

	collector.SendStatistics()
	require.Len(t, sender.Batches(), 1)

	pv := findFunction(t, sender.Batches()[0], "Default", "PV")
	assert.Equal(t, 600.0, pv.DataInputBytes)
	assert.True(t, math.IsNaN(pv.DataOutputBytes))
	assert.GreaterOrEqual(t, pv.InvocationNanos, float64(time.Millisecond))
	assert.Equal(t, float64(invocation.ExecutionNanos()), pv.InvocationNanos)

	other := findFunction(t, sender.Batches()[0], "Default", "Unsized")
	assert.True(t, math.IsNaN(other.DataInputBytes))
	assert.True(t, math.IsNaN(other.DataOutputBytes))
}
