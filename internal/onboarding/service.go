package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loquahq/loqua/internal/chat"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/extraction"
)

// Service owns the onboarding state machine.
type Service struct {
	repo         conversation.Repository
	extractor    *extraction.Extractor
	completer    chat.Completer
	schema       extraction.Schema
	finalMessage string
	logger       *slog.Logger
}

// NewService creates the onboarding Service.
func NewService(repo conversation.Repository, extractor *extraction.Extractor, completer chat.Completer, schema extraction.Schema, finalMessage string, log *slog.Logger) *Service {
	if strings.TrimSpace(finalMessage) == "" {
		finalMessage = "Thanks, that's everything I need. How can I help you today?"
	}
	return &Service{
		repo:         repo,
		extractor:    extractor,
		completer:    completer,
		schema:       schema,
		finalMessage: finalMessage,
		logger:       log.With(slog.String("service", "onboarding")),
	}
}

// Enabled reports whether any fields are configured at all.
func (s *Service) Enabled() bool {
	return len(s.schema.Fields) > 0
}

// Needed decides whether this user message should run through onboarding:
// either the explicit trigger phrase, or the user's persisted metadata does
// not mark onboarding complete.
func (s *Service) Needed(user conversation.User, text string) bool {
	if !s.Enabled() {
		return false
	}
	if IsTrigger(text) {
		return true
	}
	return !user.OnboardingComplete()
}

// Advance moves the state machine by one inbound user message and returns
// the reply to send. Completeness is recomputed from persisted metadata, so
// a field already collected is never re-asked, even across restarts.
func (s *Service) Advance(ctx context.Context, user conversation.User, transcript []chat.Message, text string) (Result, error) {
	collected := user.CollectedFields()
	current := user.CurrentField()

	if IsTrigger(text) {
		// Explicit user-initiated restart: drop all progress.
		collected = map[string]string{}
		current = ""
		if err := s.persist(ctx, user.ID, collected, "", false); err != nil {
			return Result{}, err
		}
	} else if user.OnboardingComplete() {
		return Result{State: StateComplete}, nil
	}

	if current == "" {
		// NOT_STARTED -> COLLECTING(first missing field).
		next, ok := s.schema.NextMissing(collected)
		if !ok {
			return s.complete(ctx, user.ID, collected)
		}
		if err := s.persist(ctx, user.ID, collected, next.ID, false); err != nil {
			return Result{}, err
		}
		return Result{
			State:   StateCollecting,
			FieldID: next.ID,
			Reply:   s.prompt(ctx, transcript, next, true),
		}, nil
	}

	field, ok := s.schema.Get(current)
	if !ok {
		// The schema changed underneath a stored session; restart cleanly.
		s.logger.Warn("stored field no longer in schema", slog.String("field", current))
		next, found := s.schema.NextMissing(collected)
		if !found {
			return s.complete(ctx, user.ID, collected)
		}
		field = next
	}

	value, extracted, err := s.extractor.Extract(ctx, transcript, field)
	if err != nil {
		return Result{}, fmt.Errorf("advance onboarding: %w", err)
	}

	switch {
	case extracted:
		collected[field.ID] = value
	case field.Required:
		// Required-field retry: stay on the same field and re-prompt.
		return Result{
			State:   StateCollecting,
			FieldID: field.ID,
			Reply:   s.clarify(field),
		}, nil
	default:
		// Optional-field skip: advance without a value.
		s.logger.Debug("optional field skipped", slog.String("field", field.ID))
	}

	next, more := s.schema.NextMissing(collected)
	if !more {
		return s.complete(ctx, user.ID, collected)
	}
	if err := s.persist(ctx, user.ID, collected, next.ID, false); err != nil {
		return Result{}, err
	}
	return Result{
		State:   StateCollecting,
		FieldID: next.ID,
		Reply:   s.prompt(ctx, transcript, next, false),
	}, nil
}

func (s *Service) complete(ctx context.Context, userID string, collected map[string]string) (Result, error) {
	if err := s.persist(ctx, userID, collected, "", true); err != nil {
		return Result{}, err
	}
	return Result{State: StateComplete, Reply: s.finalMessage}, nil
}

func (s *Service) persist(ctx context.Context, userID string, collected map[string]string, currentField string, complete bool) error {
	err := s.repo.UpdateUserMetadata(ctx, userID, map[string]any{
		conversation.MetaOnboardingFields:       collected,
		conversation.MetaOnboardingCurrentField: currentField,
		conversation.MetaOnboardingComplete:     complete,
	})
	if err != nil {
		return fmt.Errorf("persist onboarding state: %w", err)
	}
	return nil
}

const promptSystem = "You are a friendly assistant collecting a few details from a new contact. " +
	"Briefly acknowledge their last message, then ask for exactly one piece of information described below. " +
	"Do not ask about anything else. Keep it to one or two short sentences."

// prompt generates the next question. The generated text must contain a
// question mark and a keyword of the requested field; otherwise the field's
// canonical question is appended so an ambiguous message is never sent.
func (s *Service) prompt(ctx context.Context, transcript []chat.Message, field extraction.Field, opening bool) string {
	fallback := s.fallbackQuestion(field)

	instruction := fmt.Sprintf("Information to request: %s. %s", field.Label, field.Description)
	if opening {
		instruction = "This is the start of the conversation, so greet the contact first. " + instruction
	}
	messages := append([]chat.Message{{Role: chat.RoleSystem, Content: promptSystem}}, transcript...)
	messages = append(messages, chat.Message{Role: chat.RoleUser, Content: instruction})

	generated, err := s.completer.Complete(ctx, messages, chat.Options{Temperature: 0.7, MaxTokens: 120})
	if err != nil {
		s.logger.Warn("prompt generation failed, using canonical question",
			slog.String("field", field.ID), slog.Any("error", err))
		return fallback
	}
	if !s.asksForField(generated, field) {
		s.logger.Debug("generated prompt failed validation, appending canonical question",
			slog.String("field", field.ID))
		return strings.TrimSpace(generated) + " " + fallback
	}
	return generated
}

func (s *Service) asksForField(text string, field extraction.Field) bool {
	if !strings.Contains(text, "?") {
		return false
	}
	lower := strings.ToLower(text)
	for _, keyword := range field.Keywords() {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func (s *Service) clarify(field extraction.Field) string {
	return fmt.Sprintf("Sorry, I didn't quite catch that. %s", s.fallbackQuestion(field))
}

func (s *Service) fallbackQuestion(field extraction.Field) string {
	label := strings.ToLower(strings.TrimSpace(field.Label))
	if label == "" {
		label = field.ID
	}
	return fmt.Sprintf("Could you tell me your %s?", label)
}
