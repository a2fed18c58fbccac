package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loquahq/loqua/internal/chat"
)

const summarizeSystem = `Summarize the conversation below as a short email body.
Lead with what the user wants, then the relevant details. Plain text, no
salutation, no signature.`

const (
	confirmReply = "Done, I've sent the email."
	apologyReply = "Sorry, I couldn't send the email right now. Please try again later."
)

// Service turns a conversation window into an outbound summary email.
type Service struct {
	completer chat.Completer
	sender    Sender
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(log *slog.Logger, completer chat.Completer, sender Sender) *Service {
	return &Service{
		completer: completer,
		sender:    sender,
		logger:    log.With(slog.String("service", "email")),
		now:       time.Now,
	}
}

// Handle summarizes transcript and mails it. The returned string is always
// a user-facing reply: confirmation on success, an apology otherwise.
func (s *Service) Handle(ctx context.Context, userName string, transcript []chat.Message) string {
	body, err := s.summarize(ctx, transcript)
	if err != nil {
		s.logger.Error("transcript summary failed", slog.Any("error", err))
		return apologyReply
	}
	subject := fmt.Sprintf("Conversation summary for %s (%s)", userName, s.now().Format("2006-01-02"))
	if err := s.sender.Send(ctx, subject, body); err != nil {
		s.logger.Error("summary email failed", slog.Any("error", err))
		return apologyReply
	}
	s.logger.Info("summary email sent", slog.String("user", userName))
	return confirmReply
}

func (s *Service) summarize(ctx context.Context, transcript []chat.Message) (string, error) {
	var sb strings.Builder
	for _, m := range transcript {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	out, err := s.completer.Complete(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: summarizeSystem},
		{Role: chat.RoleUser, Content: sb.String()},
	}, chat.Options{Temperature: 0.2})
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(out)
	if body == "" {
		return "", fmt.Errorf("empty summary")
	}
	return body, nil
}
