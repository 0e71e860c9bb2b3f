package protocol

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap/zapcore"
)

type MessageType string

func (mt MessageType) String() string {
	return string(mt)
}

const (
	MessageTypeStatisticsBatch    MessageType = "SB"
	MessageTypeScalingFeedback    MessageType = "SF"
	MessageTypeJobResult          MessageType = "JR"
	MessageTypeHeartbeat          MessageType = "HB"
	MessageTypeMonitoringRequest  MessageType = "MR"
	MessageTypeMonitoringResponse MessageType = "MS"
)

var MessageTypeSet = map[MessageType]struct{}{
	MessageTypeStatisticsBatch:    {},
	MessageTypeScalingFeedback:    {},
	MessageTypeJobResult:          {},
	MessageTypeHeartbeat:          {},
	MessageTypeMonitoringRequest:  {},
	MessageTypeMonitoringResponse: {},
}

type JobStatus string

func (js JobStatus) String() string {
	return string(js)
}

const (
	JobStatusSuccess JobStatus = "S"
	JobStatusFailed  JobStatus = "F"
)

var JobStatusSet = map[JobStatus]struct{}{
	JobStatusSuccess: {},
	JobStatusFailed:  {},
}

// FunctionStatistics is the per-function sample a node accumulated since its
// last flush. Data sums are NaN when the node never measured them.
type FunctionStatistics struct {
	FunctionID      string
	InvocationCount uint64
	InvocationNanos float64
	DataInputBytes  float64
	DataOutputBytes float64
}

func (fs *FunctionStatistics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("function", fs.FunctionID)
	enc.AddUint64("count", fs.InvocationCount)
	enc.AddFloat64("nanos", fs.InvocationNanos)
	enc.AddFloat64("dataIn", fs.DataInputBytes)
	enc.AddFloat64("dataOut", fs.DataOutputBytes)
	return nil
}

type ConfigurationStatistics struct {
	ConfigurationName string
	Functions         []FunctionStatistics
}

func (cs *ConfigurationStatistics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("configuration", cs.ConfigurationName)
	enc.AddInt("functions", len(cs.Functions))
	return nil
}

type StatisticsBatch struct {
	Configurations []ConfigurationStatistics
}

const functionStatisticsSize = 32

func (sb *StatisticsBatch) Serialize() [][]byte {
	frames := make([][]byte, 0)
	for i := range sb.Configurations {
		configuration := &sb.Configurations[i]
		count := make([]byte, 4)
		binary.LittleEndian.PutUint32(count, uint32(len(configuration.Functions)))
		frames = append(frames, []byte(configuration.ConfigurationName), count)
		for j := range configuration.Functions {
			function := &configuration.Functions[j]
			buffer := make([]byte, functionStatisticsSize)
			binary.LittleEndian.PutUint64(buffer[0:8], function.InvocationCount)
			binary.LittleEndian.PutUint64(buffer[8:16], math.Float64bits(function.InvocationNanos))
			binary.LittleEndian.PutUint64(buffer[16:24], math.Float64bits(function.DataInputBytes))
			binary.LittleEndian.PutUint64(buffer[24:32], math.Float64bits(function.DataOutputBytes))
			frames = append(frames, []byte(function.FunctionID), buffer)
		}
	}
	return frames
}

func (sb *StatisticsBatch) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("configurations", len(sb.Configurations))
	enc.AddInt("functions", sb.FunctionCount())
	return nil
}

func (sb *StatisticsBatch) FunctionCount() int {
	count := 0
	for _, configuration := range sb.Configurations {
		count += len(configuration.Functions)
	}
	return count
}

func DeserializeStatisticsBatch(data [][]byte) (*StatisticsBatch, error) {
	batch := &StatisticsBatch{Configurations: make([]ConfigurationStatistics, 0)}
	for i := 0; i < len(data); {
		if i+2 > len(data) || len(data[i+1]) != 4 {
			return nil, ErrInvalidDataLength
		}
		configuration := ConfigurationStatistics{ConfigurationName: string(data[i])}
		count := int(binary.LittleEndian.Uint32(data[i+1]))
		i += 2
		if i+2*count > len(data) {
			return nil, ErrInvalidDataLength
		}
		configuration.Functions = make([]FunctionStatistics, 0, count)
		for j := 0; j < count; j++ {
			buffer := data[i+1]
			if len(buffer) != functionStatisticsSize {
				return nil, ErrInvalidDataLength
			}
			configuration.Functions = append(configuration.Functions, FunctionStatistics{
				FunctionID:      string(data[i]),
				InvocationCount: binary.LittleEndian.Uint64(buffer[0:8]),
				InvocationNanos: math.Float64frombits(binary.LittleEndian.Uint64(buffer[8:16])),
				DataInputBytes:  math.Float64frombits(binary.LittleEndian.Uint64(buffer[16:24])),
				DataOutputBytes: math.Float64frombits(binary.LittleEndian.Uint64(buffer[24:32])),
			})
			i += 2
		}
		batch.Configurations = append(batch.Configurations, configuration)
	}
	return batch, nil
}

type ScalingFeedback struct {
	Scale float64
}

func (sf *ScalingFeedback) Serialize() [][]byte {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, math.Float64bits(sf.Scale))
	return [][]byte{buffer}
}

func (sf *ScalingFeedback) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddFloat64("scale", sf.Scale)
	return nil
}

func DeserializeScalingFeedback(data [][]byte) (*ScalingFeedback, error) {
	if len(data) != 1 || len(data[0]) != 8 {
		return nil, ErrInvalidDataLength
	}

	return &ScalingFeedback{
		Scale: math.Float64frombits(binary.LittleEndian.Uint64(data[0])),
	}, nil
}

type JobResult struct {
	NodeID         string
	Status         JobStatus
	ItemCount      uint64
	ExecutionNanos int64
	DurationNanos  int64
}

func (jr *JobResult) Serialize() [][]byte {
	buffer := make([]byte, 24)
	binary.LittleEndian.PutUint64(buffer[0:8], jr.ItemCount)
	binary.LittleEndian.PutUint64(buffer[8:16], uint64(jr.ExecutionNanos))
	binary.LittleEndian.PutUint64(buffer[16:24], uint64(jr.DurationNanos))
	return [][]byte{[]byte(jr.NodeID), []byte(jr.Status), buffer}
}

func (jr *JobResult) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("node", jr.NodeID)
	enc.AddString("status", jr.Status.String())
	enc.AddUint64("items", jr.ItemCount)
	enc.AddInt64("executionNanos", jr.ExecutionNanos)
	enc.AddInt64("durationNanos", jr.DurationNanos)
	return nil
}

func DeserializeJobResult(data [][]byte) (*JobResult, error) {
	if len(data) != 3 || len(data[2]) != 24 {
		return nil, ErrInvalidDataLength
	}

	if _, ok := JobStatusSet[JobStatus(data[1])]; !ok {
		return nil, ErrInvalidEnum
	}

	return &JobResult{
		NodeID:         string(data[0]),
		Status:         JobStatus(data[1]),
		ItemCount:      binary.LittleEndian.Uint64(data[2][0:8]),
		ExecutionNanos: int64(binary.LittleEndian.Uint64(data[2][8:16])),
		DurationNanos:  int64(binary.LittleEndian.Uint64(data[2][16:24])),
	}, nil
}

type Heartbeat struct{}

func (h *Heartbeat) Serialize() [][]byte {
	return [][]byte{{}}
}

func (h *Heartbeat) MarshalLogObject(zapcore.ObjectEncoder) error {
	return nil
}

type MonitorRequest struct{}

func (mr *MonitorRequest) Serialize() [][]byte {
	return [][]byte{{}}
}

func (mr *MonitorRequest) MarshalLogObject(zapcore.ObjectEncoder) error {
	return nil
}

func DeserializeMonitorRequest(data [][]byte) (*MonitorRequest, error) {
	if len(data) != 1 {
		return nil, ErrInvalidDataLength
	}

	return &MonitorRequest{}, nil
}

type MonitorResponse struct {
	Data []byte
}

func (mr *MonitorResponse) Serialize() [][]byte {
	return [][]byte{mr.Data}
}

func (mr *MonitorResponse) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("bytes", len(mr.Data))
	return nil
}

func DeserializeMonitorResponse(data [][]byte) (*MonitorResponse, error) {
	if len(data) != 1 {
		return nil, ErrInvalidDataLength
	}

	return &MonitorResponse{Data: data[0]}, nil
}
