package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Dispatcher routes a SendRequest to the adapter for its channel.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   log.With(slog.String("service", "dispatch")),
	}
}

// Send delivers the request through the channel's adapter. The reserved
// pseudo-channels short-circuit before any provider call or send-related
// side effect.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.Channel.NoSend() {
		d.logger.Debug("send suppressed for pseudo-channel",
			slog.String("channel", req.Channel.String()))
		return SendResult{Outcome: OutcomeSkipped}, nil
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return SendResult{}, fmt.Errorf("recipient id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return SendResult{}, fmt.Errorf("text is required")
	}
	if req.RecipientKind == "" {
		req.RecipientKind = RecipientIndividual
	}

	adapter, ok := d.registry.Get(req.Channel)
	if !ok {
		return SendResult{}, fmt.Errorf("unsupported channel type: %s", req.Channel)
	}
	return adapter.Send(ctx, req)
}
