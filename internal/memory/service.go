// Package memory derives long-lived user facts from conversations and
// stores their embeddings for later recall. The whole pipeline is best
// effort: callers detach it and every failure is logged, never surfaced.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loquahq/loqua/internal/chat"
)

// noFactSentinel is what the model answers when a message carries nothing
// worth remembering.
const noFactSentinel = "NONE"

const extractSystem = `You distill durable facts about a user from a single message.
A durable fact is something worth remembering next week: a name, a preference,
a relationship, a recurring commitment, a constraint.
Respond with exactly one short sentence stating the fact, or the single word
NONE when the message contains no durable fact. No explanations.`

// Service turns raw user messages into embedded fact points.
type Service struct {
	completer chat.Completer
	embedder  chat.Embedder
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(log *slog.Logger, completer chat.Completer, embedder chat.Embedder, store Store) *Service {
	return &Service{
		completer: completer,
		embedder:  embedder,
		store:     store,
		logger:    log.With(slog.String("service", "memory")),
		now:       time.Now,
	}
}

// Remember extracts a durable fact from text and upserts its embedding.
// A nil receiver is a valid no-op so callers can detach unconditionally.
func (s *Service) Remember(ctx context.Context, userID, text string) {
	if s == nil {
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	fact, err := s.extractFact(ctx, text)
	if err != nil {
		s.logger.Warn("fact extraction failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if fact == "" {
		return
	}
	vector, err := s.embedder.Embed(ctx, fact)
	if err != nil {
		s.logger.Warn("fact embedding failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	point := Point{
		ID:     uuid.NewString(),
		Vector: vector,
		Payload: map[string]any{
			"user_id":     userID,
			"fact":        fact,
			"source_text": text,
			"ts":          s.now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.store.Upsert(ctx, []Point{point}); err != nil {
		s.logger.Warn("fact upsert failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	s.logger.Debug("stored fact", slog.String("user_id", userID), slog.String("fact", fact))
}

func (s *Service) extractFact(ctx context.Context, text string) (string, error) {
	out, err := s.completer.Complete(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: extractSystem},
		{Role: chat.RoleUser, Content: text},
	}, chat.Options{Temperature: 0})
	if err != nil {
		return "", err
	}
	fact := strings.TrimSpace(out)
	if fact == "" || strings.EqualFold(fact, noFactSentinel) {
		return "", nil
	}
	return fact, nil
}
