package managers

import (
	"context"
	"sync"
	"time"

	"github.com/darenliang/gridstats-go/lib/jobstats"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/darenliang/gridstats-go/lib/server/utils"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type NodeManager struct {
	decayInterval time.Duration
	decayFactor   float64
	retention     time.Duration
	nodes         cmap.ConcurrentMap[string, *jobstats.NodeStatistics]
}

func NewNodeManager(decayInterval time.Duration, decayFactor float64, retention time.Duration) *NodeManager {
	return &NodeManager{
		decayInterval: decayInterval,
		decayFactor:   decayFactor,
		retention:     retention,
		nodes:         cmap.New[*jobstats.NodeStatistics](),
	}
}

func (m *NodeManager) getOrCreate(nodeID string) (*jobstats.NodeStatistics, error) {
	if nodeID == "" {
		return nil, protocol.ErrEmptyNodeID
	}
	if statistics, ok := m.nodes.Get(nodeID); ok {
		return statistics, nil
	}

	if m.nodes.SetIfAbsent(nodeID, jobstats.NewNodeStatistics(nodeID)) {
		logging.Logger.Infof("node %s reported its first job", nodeID)
	}
	statistics, _ := m.nodes.Get(nodeID)
	return statistics, nil
}

func (m *NodeManager) JobCompleted(nodeID string, itemCount uint64, executionNanos, durationNanos int64) error {
	statistics, err := m.getOrCreate(nodeID)
	if err != nil {
		return err
	}
	statistics.RecordSuccessfulJob(itemCount, executionNanos, durationNanos)
	return nil
}

func (m *NodeManager) JobFailed(nodeID string, durationNanos int64) error {
	statistics, err := m.getOrCreate(nodeID)
	if err != nil {
		return err
	}
	statistics.RecordUnsuccessfulJob(durationNanos)
	return nil
}

func (m *NodeManager) OnJobResult(result *protocol.JobResult) error {
	switch result.Status {
	case protocol.JobStatusSuccess:
		return m.JobCompleted(result.NodeID, result.ItemCount, result.ExecutionNanos, result.DurationNanos)
	case protocol.JobStatusFailed:
		return m.JobFailed(result.NodeID, result.DurationNanos)
	default:
		return protocol.ErrUnknownJobStatus
	}
}

// GetNodeStatistics returns a new slice of the live per-node statistics.
func (m *NodeManager) GetNodeStatistics() []*jobstats.NodeStatistics {
	nodes := make([]*jobstats.NodeStatistics, 0, m.nodes.Count())
	m.nodes.IterCb(func(_ string, statistics *jobstats.NodeStatistics) {
		nodes = append(nodes, statistics)
	})
	return nodes
}

// DropStatisticsBefore removes nodes whose last job predates cutoff. Nodes
// without any recorded job are kept.
func (m *NodeManager) DropStatisticsBefore(cutoff time.Time) int {
	stale := make([]string, 0)
	m.nodes.IterCb(func(nodeID string, statistics *jobstats.NodeStatistics) {
		lastJobTime, ok := statistics.LastJobTime()
		if ok && lastJobTime.Before(cutoff) {
			stale = append(stale, nodeID)
		}
	})

	for _, nodeID := range stale {
		m.nodes.Remove(nodeID)
	}
	return len(stale)
}

func (m *NodeManager) Decay(factor float64) {
	m.nodes.IterCb(func(_ string, statistics *jobstats.NodeStatistics) {
		statistics.Decay(factor)
	})
}

func (m *NodeManager) Reset() {
	m.nodes.IterCb(func(_ string, statistics *jobstats.NodeStatistics) {
		statistics.Reset()
	})
}

func (m *NodeManager) GetStatistics() *utils.NodeManagerStatistics {
	nodes := m.GetNodeStatistics()
	stats := &utils.NodeManagerStatistics{Nodes: make([]jobstats.Snapshot, 0, len(nodes))}
	for _, statistics := range nodes {
		stats.Nodes = append(stats.Nodes, statistics.Snapshot())
	}
	return stats
}

func (m *NodeManager) RunDecay(ctx context.Context, wg *sync.WaitGroup) {
	for {
		select {
		case <-time.After(m.decayInterval):
			m.Decay(m.decayFactor)
		case <-ctx.Done():
			logging.Logger.Info("node manager decay stopped")
			wg.Done()
			return
		}
	}
}

// RunGC drops nodes that have not reported a job within the retention period.
// onDrop, when set, receives the number of nodes removed by each sweep.
func (m *NodeManager) RunGC(ctx context.Context, wg *sync.WaitGroup, onDrop func(int)) {
	for {
		select {
		case <-time.After(utils.GCSweepInterval):
			dropped := m.DropStatisticsBefore(time.Now().Add(-m.retention))
			if dropped > 0 {
				logging.Logger.Infof("node manager GC removed %d inactive nodes", dropped)
				if onDrop != nil {
					onDrop(dropped)
				}
			}
		case <-ctx.Done():
			logging.Logger.Info("node manager GC stopped")
			wg.Done()
			return
		}
	}
}
