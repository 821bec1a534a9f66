package daemon

import (
	"context"

	"github.com/burrowd/burrow/pkg/dispatcher"
	"github.com/burrowd/burrow/pkg/types"
)

// registerHooks installs the daemon's built-in handlers. They go through
// the same dispatcher as plugin handlers and obey the same
// first-responder-wins rule.
func (d *Daemon) registerHooks() {
	// completion:request lets any event producer ask for a completion
	// without speaking the request protocol; the correlating request id
	// comes back as the handler response.
	if err := d.dispatcher.Register("completion:request", "builtin-completion", d.handleCompletionRequest); err != nil {
		d.logger.Error().Err(err).Msg("failed to register completion hook")
	}

	// daemon:* events are audit-logged. The handler responds to nothing,
	// so it never shadows a plugin.
	if err := d.dispatcher.Register("daemon:*", "builtin-audit", d.handleAudit); err != nil {
		d.logger.Error().Err(err).Msg("failed to register audit hook")
	}
}

func (d *Daemon) handleCompletionRequest(ctx context.Context, event *types.Event) (*dispatcher.Response, error) {
	params := event.Data
	if nested, ok := event.Data["params"].(map[string]interface{}); ok {
		params = nested
	}

	requestID, err := d.registry.Submit(params)
	if err != nil {
		return nil, err
	}
	return &dispatcher.Response{
		Data: map[string]interface{}{"request_id": requestID},
	}, nil
}

func (d *Daemon) handleAudit(ctx context.Context, event *types.Event) (*dispatcher.Response, error) {
	d.logger.Info().
		Str("event", event.Name).
		Str("origin", event.Origin).
		Uint64("sequence", event.Sequence).
		Msg("daemon event")
	return nil, nil
}
