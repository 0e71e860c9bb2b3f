package jobstats

import (
	"math"
	"sync"
	"time"
)

// Snapshot is a consistent copy of a node's counters.
type Snapshot struct {
	NodeID            string    `json:"node_id"`
	SuccessfulJobs    uint64    `json:"successful_jobs"`
	UnsuccessfulJobs  uint64    `json:"unsuccessful_jobs"`
	JobItems          uint64    `json:"job_items"`
	ExecutionNanos    int64     `json:"execution_nanos"`
	NonExecutionNanos int64     `json:"non_execution_nanos"`
	LastJobTime       time.Time `json:"last_job_time"`
}

// NodeStatistics holds the job outcome counters of one calculation node.
// Failed jobs count their whole duration as non-execution time.
type NodeStatistics struct {
	nodeID            string
	lock              sync.Mutex
	successfulJobs    uint64
	unsuccessfulJobs  uint64
	jobItems          uint64
	executionNanos    int64
	nonExecutionNanos int64
	lastJobTime       time.Time
}

func NewNodeStatistics(nodeID string) *NodeStatistics {
	return &NodeStatistics{nodeID: nodeID}
}

func (s *NodeStatistics) NodeID() string {
	return s.nodeID
}

// RecordSuccessfulJob expects durationNanos >= executionNanos.
func (s *NodeStatistics) RecordSuccessfulJob(itemCount uint64, executionNanos, durationNanos int64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.successfulJobs++
	s.jobItems += itemCount
	s.executionNanos += executionNanos
	s.nonExecutionNanos += durationNanos - executionNanos
	s.lastJobTime = time.Now()
}

func (s *NodeStatistics) RecordUnsuccessfulJob(durationNanos int64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.unsuccessfulJobs++
	s.nonExecutionNanos += durationNanos
	s.lastJobTime = time.Now()
}

// Reset zeroes the counters. The last job time is kept.
func (s *NodeStatistics) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.successfulJobs = 0
	s.unsuccessfulJobs = 0
	s.jobItems = 0
	s.executionNanos = 0
	s.nonExecutionNanos = 0
}

// Decay removes factor of every counter. The removed amount is truncated, so
// small counters only reach zero when factor is 1.
func (s *NodeStatistics) Decay(factor float64) {
	if factor <= 0 {
		return
	}
	if factor >= 1 {
		s.Reset()
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.successfulJobs = decayCounter(s.successfulJobs, factor)
	s.unsuccessfulJobs = decayCounter(s.unsuccessfulJobs, factor)
	s.jobItems = decayCounter(s.jobItems, factor)
	s.executionNanos = decayCounter(s.executionNanos, factor)
	s.nonExecutionNanos = decayCounter(s.nonExecutionNanos, factor)
}

// decayCounter never removes more than the counter holds, even where the
// float product rounds past it.
func decayCounter[T uint64 | int64](counter T, factor float64) T {
	removed := float64(counter) * factor
	if math.Abs(removed) >= math.Abs(float64(counter)) {
		return 0
	}
	return counter - T(removed)
}

// LastJobTime reports false for a node that never finished a job.
func (s *NodeStatistics) LastJobTime() (time.Time, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.lastJobTime, !s.lastJobTime.IsZero()
}

func (s *NodeStatistics) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Snapshot{
		NodeID:            s.nodeID,
		SuccessfulJobs:    s.successfulJobs,
		UnsuccessfulJobs:  s.unsuccessfulJobs,
		JobItems:          s.jobItems,
		ExecutionNanos:    s.executionNanos,
		NonExecutionNanos: s.nonExecutionNanos,
		LastJobTime:       s.lastJobTime,
	}
}
