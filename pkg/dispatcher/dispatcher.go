package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/pattern"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Response is a handler's contribution to a request/response-style event.
// A nil *Response means "no contribution".
type Response struct {
	Data map[string]interface{}
}

// Handler processes one matching event. Handlers must not perform blocking
// I/O inline; long-running work is submitted to the completion registry and
// reported back through follow-up events.
type Handler func(ctx context.Context, event *types.Event) (*Response, error)

type registration struct {
	pattern string
	name    string
	handler Handler
}

// Dispatcher fans an event out to all registered handlers whose pattern
// matches the event name, in registration order. Handler errors and panics
// are absorbed: they are logged, counted, and treated as no contribution.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []registration

	logger zerolog.Logger
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		logger: log.WithComponent("dispatcher"),
	}
}

// Register adds a handler for a pattern. Handlers are invoked in
// registration order; the name is used only for logging. Registration
// happens at load time, before dispatch begins.
func (d *Dispatcher) Register(pat, name string, handler Handler) error {
	if err := pattern.Validate(pat); err != nil {
		return err
	}
	if handler == nil {
		return errdefs.Validationf("handler %q is nil", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, registration{pattern: pat, name: name, handler: handler})

	d.logger.Debug().
		Str("pattern", pat).
		Str("handler", name).
		Msg("handler registered")
	return nil
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch invokes every matching handler in registration order and returns
// the first non-nil response. Later handlers still run for their side
// effects; their responses are discarded. A handler failure never stops
// dispatch to the remaining handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, event *types.Event) *Response {
	start := time.Now()

	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	var winner *Response
	for _, reg := range handlers {
		if !pattern.Match(reg.pattern, event.Name) {
			continue
		}

		resp, err := d.invoke(ctx, reg, event)
		if err != nil {
			metrics.HandlerFailures.Inc()
			d.logger.Warn().
				Err(err).
				Str("handler", reg.name).
				Str("event", event.Name).
				Uint64("sequence", event.Sequence).
				Msg("handler failed, continuing dispatch")
			continue
		}
		// First responder wins: the earliest registered handler that
		// returns a response owns the reply.
		if winner == nil && resp != nil {
			winner = resp
		}
	}

	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return winner
}

// invoke runs one handler, converting a panic into a handler-failure error.
func (d *Dispatcher) invoke(ctx context.Context, reg registration, event *types.Event) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: handler %q panicked: %v", errdefs.ErrHandlerFailure, reg.name, r)
		}
	}()

	resp, err = reg.handler(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: handler %q: %v", errdefs.ErrHandlerFailure, reg.name, err)
	}
	return resp, nil
}
