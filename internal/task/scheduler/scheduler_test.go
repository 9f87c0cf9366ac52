package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
	ch    chan engine.Task
}

func newFakeEnqueuer() *fakeEnqueuer { return &fakeEnqueuer{ch: make(chan engine.Task, 16)} }

func (f *fakeEnqueuer) Enqueue(t engine.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	err := f.err
	f.mu.Unlock()
	select {
	case f.ch <- t:
	default:
	}
	return err
}

func noop(context.Context) error { return nil }

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in     string
		kind   SpecKind
		source string
		every  time.Duration
		err    bool
	}{
		{in: "*/25 * * * * *", kind: SpecCron, source: "cron"},
		{in: "*/60 * * * * *", kind: SpecCron, source: "cron"},
		{in: "0 */5 * * *", kind: SpecCron, source: "cron"},
		{in: "@hourly", kind: SpecCron, source: "cron"},
		{in: "cron:@every 25s", kind: SpecCron, source: "cron"},
		{in: "25s", kind: SpecInterval, source: "duration", every: 25 * time.Second},
		{in: "00:05", kind: SpecInterval, source: "hhmm", every: 5 * time.Minute},
		{in: "interval: 2h30m", kind: SpecInterval, source: "duration", every: 150 * time.Minute},
		{in: "every:1m", kind: SpecInterval, source: "duration", every: time.Minute},
		{in: "", err: true},
		{in: "soon", err: true},
		{in: "500ms", err: true},
		{in: "01:75", err: true},
		{in: "* * *", err: true},
		{in: "*/25 * * * * * *", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ps, err := ParseSchedule(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.kind, ps.Kind)
			assert.Equal(t, tt.source, ps.Source)
			assert.Equal(t, tt.every, ps.Every)
			assert.True(t, ps.Schedule() != nil)
		})
	}
}

func TestSixFieldCronFiresOnSecondBoundaries(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs, err := NextRuns("*/25 * * * * *", from, time.UTC, 5)
	assert.NoError(t, err)
	want := []time.Time{
		from.Add(25 * time.Second),
		from.Add(50 * time.Second),
		from.Add(60 * time.Second),
		from.Add(85 * time.Second),
		from.Add(110 * time.Second),
	}
	assert.Equal(t, want, runs)
}

func TestEverySixtySecondsFiresOncePerMinute(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 7, 0, time.UTC)
	runs, err := NextRuns("*/60 * * * * *", from, time.UTC, 3)
	assert.NoError(t, err)
	for i, r := range runs {
		assert.Equal(t, 0, r.Second())
		assert.Equal(t, from.Truncate(time.Minute).Add(time.Duration(i+1)*time.Minute), r)
	}
}

func TestNextRunsRespectsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	runs, err := NextRuns("0 0 3 * * *", from, loc, 1)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, loc), runs[0])
}

func TestAddValidates(t *testing.T) {
	s := New(Config{Enabled: true}, newFakeEnqueuer(), logx.Nop())
	assert.Error(t, s.Add(Definition{Spec: "25s", Run: noop}))
	assert.Error(t, s.Add(Definition{Name: "fn", Spec: "25s"}))
	assert.Error(t, s.Add(Definition{Name: "fn", Spec: "nope", Run: noop}))
	assert.Equal(t, 0, len(s.Names()))
}

func TestAddUpsertsByName(t *testing.T) {
	s := New(Config{Enabled: true}, newFakeEnqueuer(), logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "heartbeat", Spec: "*/25 * * * * *", Run: noop}))
	assert.NoError(t, s.Add(Definition{Name: "config-echo", Spec: "*/60 * * * * *", Run: noop}))
	assert.NoError(t, s.Add(Definition{Name: "heartbeat", Spec: "30s", Run: noop}))

	assert.Equal(t, []string{"heartbeat", "config-echo"}, s.Names())
	snap := s.Snapshot()
	assert.Equal(t, "@every 30s", snap.Schedules[0].Spec)
	assert.Equal(t, "interval", snap.Schedules[0].Kind)
	assert.False(t, snap.Running)

	assert.True(t, s.Remove("heartbeat"))
	assert.False(t, s.Remove("heartbeat"))
	assert.Equal(t, []string{"config-echo"}, s.Names())
}

func TestSync(t *testing.T) {
	s := New(Config{Enabled: true}, newFakeEnqueuer(), logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "old", Spec: "1m", Run: noop}))

	err := s.Sync([]Definition{
		{Name: "a", Spec: "1m", Run: noop},
		{Name: "a", Spec: "2m", Run: noop},
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"old"}, s.Names())

	assert.Error(t, s.Sync([]Definition{{Name: "b", Spec: "bad", Run: noop}}))
	assert.Equal(t, []string{"old"}, s.Names())

	assert.NoError(t, s.Sync([]Definition{
		{Name: "heartbeat", Spec: "*/25 * * * * *", Run: noop},
		{Name: "config-echo", Spec: "*/60 * * * * *", Run: noop},
	}))
	assert.Equal(t, []string{"heartbeat", "config-echo"}, s.Names())
}

func TestFireEnqueuesTruncatedTriggerTime(t *testing.T) {
	eng := newFakeEnqueuer()
	s := New(Config{Enabled: true}, eng, logx.Nop())
	opt := engine.TaskOptions{Overlap: engine.OverlapAllow, RetryMax: -1}
	assert.NoError(t, s.Add(Definition{Name: "heartbeat", Spec: "*/25 * * * * *", Timeout: time.Second, Opt: opt, Run: noop}))

	s.mu.Lock()
	d := s.defs[0]
	s.mu.Unlock()
	at := time.Date(2026, 3, 1, 10, 0, 25, 3_000_000, time.UTC)
	s.fire(d, at)

	got := <-eng.ch
	assert.Equal(t, "heartbeat", got.Name)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 25, 0, time.UTC), got.Scheduled)
	assert.Equal(t, time.Second, got.Timeout)
	assert.Equal(t, opt, got.Opt)
	assert.True(t, got.State != nil)
}

func TestRunOnStartup(t *testing.T) {
	eng := newFakeEnqueuer()
	s := New(Config{Enabled: true}, eng, logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "heartbeat", Spec: "1h", Run: noop, RunOnStartup: true}))
	assert.NoError(t, s.Add(Definition{Name: "config-echo", Spec: "1h", Run: noop}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case got := <-eng.ch:
		assert.Equal(t, "heartbeat", got.Name)
	case <-time.After(time.Second):
		t.Fatal("startup invocation not enqueued")
	}
	assert.True(t, s.Snapshot().Running)
}

func TestCronTriggersEnqueue(t *testing.T) {
	eng := newFakeEnqueuer()
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "every-second", Spec: "* * * * * *", Run: noop}))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case got := <-eng.ch:
		assert.Equal(t, "every-second", got.Name)
		assert.Equal(t, 0, got.Scheduled.Nanosecond())
	case <-time.After(3 * time.Second):
		t.Fatal("cron did not fire")
	}

	snap := s.Snapshot()
	assert.Equal(t, "UTC", snap.Timezone)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestDisabledSchedulerDoesNotStart(t *testing.T) {
	eng := newFakeEnqueuer()
	s := New(Config{}, eng, logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "fn", Spec: "1h", Run: noop, RunOnStartup: true}))
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Running)

	s.Apply(context.Background(), Config{Enabled: true})
	defer s.Stop(context.Background())
	assert.True(t, s.Snapshot().Running)
	<-eng.ch

	s.Apply(context.Background(), Config{Enabled: false})
	assert.False(t, s.Snapshot().Running)
}

func TestEnqueueErrorsAreReported(t *testing.T) {
	eng := newFakeEnqueuer()
	eng.err = errors.New("queue full")
	s := New(Config{Enabled: true}, eng, logx.Nop())
	assert.NoError(t, s.Add(Definition{Name: "fn", Spec: "1h", Run: noop}))

	s.mu.Lock()
	d := s.defs[0]
	s.mu.Unlock()
	s.fire(d, time.Now())
	s.fire(d, time.Now())

	// the second warning is throttled
	assert.False(t, s.warnLimiter("fn").Allow())
}

func TestInvalidTimezoneFallsBackToLocal(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "Mars/Olympus"}, nil, logx.Nop())
	assert.Equal(t, time.Local, s.Location())
}
