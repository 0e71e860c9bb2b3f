package utils

import (
	"github.com/darenliang/gridstats-go/lib/costs/persistence"
	"github.com/darenliang/gridstats-go/lib/jobstats"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"go.uber.org/atomic"
)

type MessageTypeStatistics struct {
	StatisticsBatch    uint64 `json:"StatisticsBatch"`
	ScalingFeedback    uint64 `json:"ScalingFeedback"`
	JobResult          uint64 `json:"JobResult"`
	Heartbeat          uint64 `json:"Heartbeat"`
	MonitoringRequest  uint64 `json:"MonitoringRequest"`
	MonitoringResponse uint64 `json:"MonitoringResponse"`
}

// MessageCounter counts messages per type from concurrent handlers.
type MessageCounter struct {
	counts map[protocol.MessageType]*atomic.Uint64
}

func NewMessageCounter() *MessageCounter {
	counts := make(map[protocol.MessageType]*atomic.Uint64, len(protocol.MessageTypeSet))
	for messageType := range protocol.MessageTypeSet {
		counts[messageType] = atomic.NewUint64(0)
	}
	return &MessageCounter{counts: counts}
}

func (c *MessageCounter) Inc(messageType protocol.MessageType) {
	if count, ok := c.counts[messageType]; ok {
		count.Inc()
	}
}

func (c *MessageCounter) Statistics() *MessageTypeStatistics {
	return &MessageTypeStatistics{
		StatisticsBatch:    c.counts[protocol.MessageTypeStatisticsBatch].Load(),
		ScalingFeedback:    c.counts[protocol.MessageTypeScalingFeedback].Load(),
		JobResult:          c.counts[protocol.MessageTypeJobResult].Load(),
		Heartbeat:          c.counts[protocol.MessageTypeHeartbeat].Load(),
		MonitoringRequest:  c.counts[protocol.MessageTypeMonitoringRequest].Load(),
		MonitoringResponse: c.counts[protocol.MessageTypeMonitoringResponse].Load(),
	}
}

type CostRegistryStatistics struct {
	Mean      persistence.CostSnapshot   `json:"mean"`
	Functions []persistence.CostSnapshot `json:"functions"`
}

type NodeManagerStatistics struct {
	Nodes []jobstats.Snapshot `json:"nodes"`
}

type ServerStatistics struct {
	Received     *MessageTypeStatistics  `json:"received"`
	Sent         *MessageTypeStatistics  `json:"sent"`
	CostRegistry *CostRegistryStatistics `json:"cost_registry"`
	NodeManager  *NodeManagerStatistics  `json:"node_manager"`
}
