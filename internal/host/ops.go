package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cronfunc/internal/storage"
	"cronfunc/internal/task/engine"
	"cronfunc/internal/task/scheduler"
)

// Invoke runs the named function once, now, outside the schedule. Overlap
// policy does not apply.
func (a *App) Invoke(ctx context.Context, name string) error {
	a.mu.Lock()
	d, ok := a.funcs[name]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q (hosted: %s)", ErrUnknownFunction, name, strings.Join(a.Functions(), ", "))
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = a.engine.Snapshot().DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	now := time.Now()
	ctx = engine.WithInvocation(ctx, engine.Invocation{
		ID:        fmt.Sprintf("manual-%x", now.UnixNano()),
		Name:      d.Name,
		Scheduled: now,
		Attempt:   1,
	})
	return a.newFunction(d).Run(ctx)
}

// Preview is the upcoming fire times of one function.
type Preview struct {
	Name     string
	Schedule string
	Next     []time.Time
}

// Preview lists the next n fire times after from for every hosted
// function, in the trigger timezone.
func (a *App) Preview(from time.Time, n int) ([]Preview, error) {
	loc := a.sched.Location()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Preview, 0, len(a.funcs))
	for _, name := range a.sched.Names() {
		d, ok := a.funcs[name]
		if !ok {
			continue
		}
		next, err := scheduler.NextRuns(d.Schedule, from, loc, n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, Preview{Name: name, Schedule: d.Schedule, Next: next})
	}
	return out, nil
}

// History returns recorded invocations, newest first.
func (a *App) History(ctx context.Context, function string, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, ErrNoStorage
	}
	if limit <= 0 {
		limit = 20
	}
	return a.store.RecentRuns(ctx, function, limit)
}

// Status is a point-in-time view of the trigger and execution layers.
type Status struct {
	Functions []string           `json:"functions"`
	Sources   []string           `json:"sources"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Engine    engine.Snapshot    `json:"engine"`
}

func (a *App) Status() Status {
	return Status{
		Functions: a.Functions(),
		Sources:   a.provider.Sources(),
		Scheduler: a.sched.Snapshot(),
		Engine:    a.engine.Snapshot(),
	}
}
