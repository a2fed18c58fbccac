// Package sms is the SMS channel adapter. It enforces the channel's
// maximum-length constraint before any provider call.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/provider"
)

// ErrorCodeLength is recorded when a text exceeds the channel limit.
const ErrorCodeLength = "sms_length_exceeded"

// FallbackText replaces a too-long message instead of truncating it
// silently.
const FallbackText = "Sorry, that reply was too long to send over SMS. " +
	"Please reach out on WhatsApp for the full answer."

// Adapter implements channel.Adapter for SMS.
type Adapter struct {
	sender    provider.Sender
	maxLength int
	logger    *slog.Logger
}

// New creates the adapter with the configured maximum text length.
func New(sender provider.Sender, maxLength int, log *slog.Logger) *Adapter {
	if maxLength <= 0 {
		maxLength = 1600
	}
	return &Adapter{
		sender:    sender,
		maxLength: maxLength,
		logger:    log.With(slog.String("adapter", "sms")),
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return channel.ChannelSMS
}

func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	length := utf8.RuneCountInString(req.Text)
	if length > a.maxLength {
		// The original text never reaches the provider; record the failure
		// and deliver the fixed fallback instead.
		a.logger.Warn("sms length guard rejected message",
			slog.String("code", ErrorCodeLength),
			slog.Int("length", length),
			slog.Int("max", a.maxLength),
			slog.String("recipient", req.RecipientID))
		if err := a.sender.SendIndividual(ctx, req.RecipientID, FallbackText); err != nil {
			a.logger.Warn("sms fallback send failed", slog.Any("error", err))
		}
		return channel.SendResult{
			Outcome:   channel.OutcomeRejected,
			ErrorCode: ErrorCodeLength,
			Detail:    fmt.Sprintf("length %d exceeds max %d", length, a.maxLength),
		}, nil
	}

	if err := a.sender.SendIndividual(ctx, req.RecipientID, req.Text); err != nil {
		return channel.SendResult{}, fmt.Errorf("sms send: %w", err)
	}
	// No delivery confirmation is assumed; the provider's delivery webhook
	// settles that later.
	return channel.SendResult{Outcome: channel.OutcomeSent, Parts: 1}, nil
}
