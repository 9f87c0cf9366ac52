package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		engine: eng,
		clock:  time.Now,
		warn:   map[string]*rate.Limiter{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the effective trigger timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Apply swaps the config. A timezone change re-registers every schedule;
// toggling enabled starts or stops triggering.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	if running && cfg.Enabled && strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled && prev.Enabled != cfg.Enabled:
		s.Start(ctx)
	}
}

// Start begins triggering registered schedules. It is idempotent and does
// nothing while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	var startup []*scheduleDef
	for _, d := range s.defs {
		s.registerLocked(d)
		if d.RunOnStartup {
			startup = append(startup, d)
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
	s.mu.Unlock()

	for _, d := range startup {
		s.fire(d, s.clock())
	}
}

// Stop stops triggering. Registered definitions are kept for the next Start.
// Invocations already handed to the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) registerLocked(d *scheduleDef) {
	d.entryID = s.c.Schedule(d.parsed.Schedule(), cron.FuncJob(func() {
		s.fire(d, s.clock())
	}))
	if s.log.Enabled(logx.LevelDebug) {
		next := s.c.Entry(d.entryID).Next
		if next.IsZero() {
			// the cron loop fills Next on its own goroutine once started
			next = d.parsed.Schedule().Next(s.clock().In(s.loc))
		}
		s.log.Debug("schedule registered",
			logx.String("name", d.Name),
			logx.String("spec", d.Spec),
			logx.Time("next", next),
		)
	}
}

// fire hands one firing of d to the engine. Cron fires on whole seconds, so
// the trigger time is the firing instant truncated to the second.
func (s *Service) fire(d *scheduleDef, now time.Time) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:      d.Name,
		Scheduled: now.Truncate(time.Second),
		Timeout:   d.Timeout,
		Run:       d.Run,
		Opt:       d.Opt,
		State:     d.state,
	})
	s.reportEnqueueError(d.Name, err)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
