package engine

import (
	"context"
	"time"
)

// Invocation describes the attempt a task body is running in.
type Invocation struct {
	ID        string
	Name      string
	Scheduled time.Time
	Attempt   int
}

type invocationKey struct{}

// WithInvocation returns a context carrying inv.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation stored in ctx by the engine.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
