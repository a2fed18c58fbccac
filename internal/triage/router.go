// Package triage classifies an inbound message and selects exactly one
// downstream workflow for it.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loquahq/loqua/internal/chat"
	"github.com/loquahq/loqua/internal/onboarding"
)

// Route identifies the workflow selected for an inbound message.
type Route string

const (
	RouteOnboarding   Route = "onboarding"
	RouteDefaultReply Route = "default_reply"
	RouteEmailAction  Route = "email_action"
	// RouteIdentityCard is a legacy route kept for extensibility; its
	// workflow currently falls through to the default reply.
	RouteIdentityCard Route = "identity_card"
)

// Router selects a Route for each inbound message.
type Router struct {
	completer chat.Completer
	needs     func(text string) bool
	logger    *slog.Logger
}

// NewRouter creates a Router. needsOnboarding reports whether the current
// user still requires onboarding; it is consulted before any classification.
func NewRouter(completer chat.Completer, needsOnboarding func(text string) bool, log *slog.Logger) *Router {
	return &Router{
		completer: completer,
		needs:     needsOnboarding,
		logger:    log.With(slog.String("service", "triage")),
	}
}

const classifySystem = "Classify the intent of the latest user message in a conversation. " +
	"Reply with exactly one label from: default_reply, email_action, identity_card. " +
	"Use email_action only when the user explicitly asks to send or forward an email. " +
	"Use identity_card only when the user asks for the assistant's contact card. " +
	"When unsure, reply default_reply. No other text."

// Classify returns exactly one route for the message. The trigger phrase
// short-circuits to onboarding without a completion round trip, so this
// control phrase stays deterministic.
func (r *Router) Classify(ctx context.Context, transcript []chat.Message, text string) Route {
	if onboarding.IsTrigger(text) {
		return RouteOnboarding
	}
	if r.needs != nil && r.needs(text) {
		return RouteOnboarding
	}

	messages := append([]chat.Message{{Role: chat.RoleSystem, Content: classifySystem}}, transcript...)
	messages = append(messages, chat.Message{
		Role:    chat.RoleUser,
		Content: fmt.Sprintf("Latest message: %s", text),
	})
	label, err := r.completer.Complete(ctx, messages, chat.Options{Temperature: 0, MaxTokens: 10})
	if err != nil {
		r.logger.Warn("intent classification failed, defaulting", slog.Any("error", err))
		return RouteDefaultReply
	}
	return parseLabel(label)
}

func parseLabel(label string) Route {
	switch Route(strings.ToLower(strings.TrimSpace(label))) {
	case RouteEmailAction:
		return RouteEmailAction
	case RouteIdentityCard:
		return RouteIdentityCard
	case RouteDefaultReply:
		return RouteDefaultReply
	default:
		// Unrecognized or missing label.
		return RouteDefaultReply
	}
}
