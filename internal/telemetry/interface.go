package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Store(snapshot *Snapshot) error
	Close() error
}

// Snapshot is one recorded observation of the device
type Snapshot struct {
	Timestamp time.Time
	Device    DeviceState
	Counters  CounterMetrics
	Queue     QueueMetrics
}

// Domain value objects
type DeviceState struct {
	PeriodMS    int64
	ThresholdMC int32
	Mode        string
}

type CounterMetrics struct {
	Updates uint64
	Alerts  uint64
	Drops   uint64
	Reads   uint64
}

type QueueMetrics struct {
	Depth        int
	AlertPending bool
	LastError    string
}
