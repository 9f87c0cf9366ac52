package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"; empty means Local
}

// Enqueuer accepts triggered invocations. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Definition is one scheduled function.
type Definition struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Opt      engine.TaskOptions
	Run      func(ctx context.Context) error
	// RunOnStartup fires once as soon as the scheduler starts, in addition
	// to the regular schedule.
	RunOnStartup bool
}

type scheduleDef struct {
	Definition
	parsed  ParsedSpec
	entryID cron.EntryID
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Enqueuer
	clock  func() time.Time

	c    *cron.Cron
	defs []*scheduleDef

	warnMu sync.Mutex
	warn   map[string]*rate.Limiter
}

type ScheduleInfo struct {
	Name         string
	Spec         string
	Kind         string
	Timeout      time.Duration
	Overlap      string
	RunOnStartup bool
	Next         time.Time
	Prev         time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
