package bridge

import "context"

// Observer receives invocation lifecycle notifications in call order:
// ToolStart fires before the remote call, ToolResult after it settles.
// Installed per turn via WithObserver; tool handlers read it from the
// call context, so concurrent turns each see their own observer.
type Observer interface {
	ToolStart(name string, args map[string]any)
	ToolResult(name string, payload any, err error)
}

type observerKey struct{}

// WithObserver attaches an invocation observer to the context.
func WithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

func observerFrom(ctx context.Context) Observer {
	o, _ := ctx.Value(observerKey{}).(Observer)
	return o
}
