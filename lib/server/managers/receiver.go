package managers

import (
	"context"
	"fmt"
	"math"

	"github.com/darenliang/gridstats-go/lib/costs"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"go.uber.org/multierr"
)

// StatisticsReceiver merges node batches into the central cost registry.
type StatisticsReceiver struct {
	registry *costs.Registry
}

func NewStatisticsReceiver(registry *costs.Registry) *StatisticsReceiver {
	return &StatisticsReceiver{registry: registry}
}

// Receive merges batch and returns the scaling correction for the reporting
// node. ok is false when the batch carried no measured time. Entries that
// cannot be resolved are skipped and their errors combined.
func (r *StatisticsReceiver) Receive(ctx context.Context, batch *protocol.StatisticsBatch) (float64, bool, error) {
	var (
		errs                   error
		sumLocalCostBefore     float64
		sumRemotePerInvocation float64
	)

	for _, configuration := range batch.Configurations {
		for _, function := range configuration.Functions {
			if function.InvocationCount == 0 {
				continue
			}

			if err := validateFunctionStatistics(function); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", configuration.ConfigurationName, function.FunctionID, err))
				continue
			}

			statistics, err := r.registry.GetStatistics(ctx, configuration.ConfigurationName, function.FunctionID)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}

			count := float64(function.InvocationCount)
			costBefore := statistics.InvocationCost()
			statistics.RecordInvocation(
				int(function.InvocationCount),
				function.InvocationNanos,
				function.DataInputBytes/count,
				function.DataOutputBytes/count,
			)

			sumLocalCostBefore += costBefore
			sumRemotePerInvocation += function.InvocationNanos / count
		}
	}

	if sumRemotePerInvocation > 0 {
		return sumLocalCostBefore / sumRemotePerInvocation, true, errs
	}
	return 0, false, errs
}

// validateFunctionStatistics rejects values that would poison the central
// costs. Unknown data sizes are sent as NaN and stay allowed.
func validateFunctionStatistics(function protocol.FunctionStatistics) error {
	if math.IsNaN(function.InvocationNanos) || math.IsInf(function.InvocationNanos, 0) || function.InvocationNanos < 0 {
		return protocol.ErrInvalidInvocationTime
	}
	for _, size := range []float64{function.DataInputBytes, function.DataOutputBytes} {
		if math.IsInf(size, 0) || size < 0 {
			return protocol.ErrInvalidDataSize
		}
	}
	return nil
}
