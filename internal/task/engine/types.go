package engine

import (
	"context"
	"time"
)

// Config controls the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is a unit of blocking work executed by the pool.
//
// Every accepted task runs exactly once unless the pool stops first. A task
// that needs to report a result does so from
// inside Run; the returned error is only recorded in history.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed uint64
	Failed    uint64

	Dropped          uint64
	DroppedQueueFull uint64

	History []HistoryItem
}
