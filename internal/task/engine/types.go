package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the invocation engine. The host maps config.task_engine
// into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops invocations that waited in the queue longer than
	// this. 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int
	// RetryMax is the default number of retries after a failed attempt.
	RetryMax int
}

const (
	defaultWorkers     = 2
	defaultQueueSize   = 64
	defaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a firing while the previous invocation of
	// the same function is queued or running.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

func (p OverlapPolicy) String() string {
	if p == OverlapAllow {
		return "allow"
	}
	return "skip"
}

// ParseOverlap maps the config spelling ("skip", "allow", "") to a policy.
func ParseOverlap(s string) OverlapPolicy {
	if s == "allow" {
		return OverlapAllow
	}
	return OverlapSkipIfRunning
}

type TaskOptions struct {
	Overlap OverlapPolicy
	// RetryMax < 0 inherits Config.RetryMax.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax < 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState tracks whether a function has an invocation in flight.
// "Skip" treats queued as in flight so a fast schedule cannot fill the queue.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// HistoryItem is one finished (or dropped) invocation.
type HistoryItem struct {
	ID         string
	Name       string
	Scheduled  time.Time
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is the Data of lifecycle events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Scheduled  time.Time     `json:"scheduled"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Task is one invocation request.
type Task struct {
	ID   string
	Name string
	// Scheduled is the trigger time; zero means "now" (manual invocation).
	Scheduled time.Time
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	Opt       TaskOptions
	// State gates overlap; nil uses a per-name state owned by the engine.
	State *RunState
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	Skipped          uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}
