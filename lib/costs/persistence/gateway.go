// Package persistence stores published function cost snapshots.
package persistence

import (
	"context"
	"time"
)

// FunctionKey identifies a cost record.
type FunctionKey struct {
	ConfigurationName string
	FunctionID        string
}

func (k FunctionKey) String() string {
	return k.ConfigurationName + "/" + k.FunctionID
}

// CostSnapshot is the persisted unit. Version is stamped by the gateway on Store.
type CostSnapshot struct {
	ConfigurationName string    `json:"configuration_name"`
	FunctionID        string    `json:"function_id"`
	InvocationCost    float64   `json:"invocation_cost"`
	DataInputCost     float64   `json:"data_input_cost"`
	DataOutputCost    float64   `json:"data_output_cost"`
	Version           time.Time `json:"version"`
}

func (s *CostSnapshot) Key() FunctionKey {
	return FunctionKey{ConfigurationName: s.ConfigurationName, FunctionID: s.FunctionID}
}

// Gateway loads and stores cost snapshots. Load returns nil, nil when nothing
// is stored for the key; a nil versionAsOf asks for the latest version.
type Gateway interface {
	Load(ctx context.Context, key FunctionKey, versionAsOf *time.Time) (*CostSnapshot, error)
	Store(ctx context.Context, snapshot *CostSnapshot) (*CostSnapshot, error)
}
