package api

import "context"

type fiberKey struct{}

// WithFiber returns a context that carries f. The engine attaches the
// executing fiber to the context handed to Routine.Run.
func WithFiber(ctx context.Context, f Fiber) context.Context {
	return context.WithValue(ctx, fiberKey{}, f)
}

// FiberFromContext returns the fiber executing under ctx, if any.
func FiberFromContext(ctx context.Context) (Fiber, bool) {
	f, ok := ctx.Value(fiberKey{}).(Fiber)
	return f, ok
}
