package function

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cronfunc/internal/task/engine"
	logx "cronfunc/pkg/logx"
)

// TimerLayout formats the fire time in the timer line.
const TimerLayout = time.RFC3339

// Lookup reads configuration values. *appconfig.Provider implements it.
type Lookup interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// LookupFunc adapts a plain func to Lookup.
type LookupFunc func(ctx context.Context, key string) (string, bool, error)

func (f LookupFunc) Lookup(ctx context.Context, key string) (string, bool, error) {
	return f(ctx, key)
}

// MapLookup is a fixed Lookup, handy for tests and dry runs.
type MapLookup map[string]string

func (m MapLookup) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

var ErrNoLookup = errors.New("function: keys configured without a lookup provider")

// Function is one timer function. It holds no per-invocation state, so a
// single value may run concurrently.
type Function struct {
	Name   string
	Keys   []string
	Lookup Lookup
	Log    logx.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Run executes one invocation.
func (f *Function) Run(ctx context.Context) error {
	now := time.Now
	if f.Clock != nil {
		now = f.Clock
	}
	log := f.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("function", f.Name))
	if inv, ok := engine.InvocationFrom(ctx); ok {
		log = log.With(logx.String("invocation_id", inv.ID), logx.Int("attempt", inv.Attempt))
	}

	at := now()
	log.Info("Timer trigger function executed at: "+at.Format(TimerLayout), logx.Time("executed_at", at))

	if len(f.Keys) == 0 {
		return nil
	}
	if f.Lookup == nil {
		return ErrNoLookup
	}
	for _, key := range f.Keys {
		v, found, err := f.Lookup.Lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("%s: lookup %q: %w", f.Name, key, err)
		}
		fields := []logx.Field{logx.String("key", key)}
		if !found {
			fields = append(fields, logx.Bool("found", false))
		}
		log.Info(key+": "+v, fields...)
	}
	return nil
}
