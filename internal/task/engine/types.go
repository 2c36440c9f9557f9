package engine

import (
	"context"
	"time"
)

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies to tasks with no Timeout of their own.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer than this before a worker
	// picked them up. 0 disables the check.
	MaxQueueDelay time.Duration

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
		c.HistorySize = 100
	}
	return c
}

// Task is one unit of work. Run receives a context bounded by the task
// timeout and canceled when the engine stops.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed        uint64
	Failed           uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	History        []HistoryItem
}
