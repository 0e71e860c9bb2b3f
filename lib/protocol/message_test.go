package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsBatchRoundTrip(t *testing.T) {
	batch := &StatisticsBatch{Configurations: []ConfigurationStatistics{
		{
			ConfigurationName: "Default",
			Functions: []FunctionStatistics{
				{FunctionID: "PV", InvocationCount: 10, InvocationNanos: 1e6, DataInputBytes: 400, DataOutputBytes: 80},
				{FunctionID: "Delta", InvocationCount: 3, InvocationNanos: 9e5, DataInputBytes: math.NaN(), DataOutputBytes: 12},
			},
		},
		{ConfigurationName: "Stress", Functions: []FunctionStatistics{}},
	}}

	decoded, err := DeserializeStatisticsBatch(batch.Serialize())
	require.NoError(t, err)
	require.Len(t, decoded.Configurations, 2)
	assert.Equal(t, "Default", decoded.Configurations[0].ConfigurationName)
	assert.Equal(t, batch.Configurations[0].Functions[0], decoded.Configurations[0].Functions[0])
	assert.True(t, math.IsNaN(decoded.Configurations[0].Functions[1].DataInputBytes))
	assert.Equal(t, "Stress", decoded.Configurations[1].ConfigurationName)
	assert.Empty(t, decoded.Configurations[1].Functions)
	assert.Equal(t, 2, decoded.FunctionCount())
}

func TestDeserializeStatisticsBatchTruncated(t *testing.T) {
	batch := &StatisticsBatch{Configurations: []ConfigurationStatistics{{
		ConfigurationName: "Default",
		Functions:         []FunctionStatistics{{FunctionID: "PV", InvocationCount: 1}},
	}}}
	frames := batch.Serialize()

	_, err := DeserializeStatisticsBatch(frames[:len(frames)-1])
	assert.ErrorIs(t, err, ErrInvalidDataLength)

	frames[len(frames)-1] = frames[len(frames)-1][:8]
	_, err = DeserializeStatisticsBatch(frames)
	assert.ErrorIs(t, err, ErrInvalidDataLength)
}

func TestDeserializeJobResult(t *testing.T) {
	result := &JobResult{NodeID: "node-1", Status: JobStatusFailed, DurationNanos: 5000}
	decoded, err := DeserializeJobResult(result.Serialize())
	require.NoError(t, err)
	assert.Equal(t, result, decoded)

	frames := result.Serialize()
	frames[1] = []byte("X")
	_, err = DeserializeJobResult(frames)
	assert.ErrorIs(t, err, ErrInvalidEnum)
}

func TestDeserializeScalingFeedback(t *testing.T) {
	feedback, err := DeserializeScalingFeedback((&ScalingFeedback{Scale: 1.25}).Serialize())
	require.NoError(t, err)
	assert.Equal(t, 1.25, feedback.Scale)

	_, err = DeserializeScalingFeedback([][]byte{{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidDataLength)
}
