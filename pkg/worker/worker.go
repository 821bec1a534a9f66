package worker

import (
	"context"
)

// Worker is the boundary to the collaborator that actually produces a
// completion. How it runs the underlying model is opaque to the registry:
// the registry hands it params and expects a result payload or an error.
// Invoke must honor ctx cancellation.
type Worker interface {
	Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// WorkerFunc adapts an ordinary function to the Worker interface. Used by
// tests and by embedders that bring their own completion mechanism.
type WorkerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Invoke calls the wrapped function.
func (f WorkerFunc) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, params)
}
