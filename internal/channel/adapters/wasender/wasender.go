// Package wasender is the WhatsApp-like channel adapter. It optionally
// splits replies on paragraph boundaries and paces the parts so they arrive
// in order on the client.
package wasender

import (
	"context"
	"log/slog"
	"time"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/provider"
)

// Options configures splitting and pacing.
type Options struct {
	SplitMessages bool
	MessageDelay  time.Duration
}

// Adapter implements channel.Adapter for the WhatsApp-like channel.
type Adapter struct {
	sender provider.Sender
	opts   Options
	sleep  func(time.Duration)
	logger *slog.Logger
}

// New creates the adapter. A zero MessageDelay falls back to 500ms, the
// inter-message gap that keeps perceived ordering intact on the client.
func New(sender provider.Sender, opts Options, log *slog.Logger) *Adapter {
	if opts.MessageDelay <= 0 {
		opts.MessageDelay = 500 * time.Millisecond
	}
	return &Adapter{
		sender: sender,
		opts:   opts,
		sleep:  time.Sleep,
		logger: log.With(slog.String("adapter", "wasender")),
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return channel.ChannelWhatsApp
}

func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	parts := []string{req.Text}
	if a.opts.SplitMessages {
		parts = channel.SplitParagraphs(req.Text)
	}
	if len(parts) == 0 {
		return channel.SendResult{Outcome: channel.OutcomeSkipped}, nil
	}

	failed := 0
	for i, part := range parts {
		if i > 0 {
			a.sleep(a.opts.MessageDelay)
		}
		if err := a.deliver(ctx, req, part); err != nil {
			// One failed part must not abort the rest of the batch.
			failed++
			a.logger.Warn("send part failed",
				slog.Int("part", i+1),
				slog.Int("parts", len(parts)),
				slog.String("recipient", req.RecipientID),
				slog.Any("error", err))
		}
	}

	result := channel.SendResult{Outcome: channel.OutcomeSent, Parts: len(parts), FailedParts: failed}
	if failed > 0 {
		result.Outcome = channel.OutcomePartial
	}
	return result, nil
}

func (a *Adapter) deliver(ctx context.Context, req channel.SendRequest, text string) error {
	if req.RecipientKind == channel.RecipientGroup {
		return a.sender.SendGroup(ctx, req.RecipientID, text)
	}
	return a.sender.SendIndividual(ctx, req.RecipientID, text)
}

// SetSleep overrides the pacing function; tests use this to avoid real
// delays.
func (a *Adapter) SetSleep(sleep func(time.Duration)) {
	a.sleep = sleep
}
