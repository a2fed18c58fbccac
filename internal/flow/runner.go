// Package flow orchestrates one inbound message end to end: persist,
// triage, run the selected workflow, persist the reply, dispatch it.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/chat"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/email"
	"github.com/loquahq/loqua/internal/memory"
	"github.com/loquahq/loqua/internal/onboarding"
	"github.com/loquahq/loqua/internal/triage"
)

// apologyText is the fixed user-visible reply when reply generation fails.
const apologyText = "Sorry, something went wrong on my end. Please try again in a moment."

const personaSystemTemplate = "You are %s, a helpful personal assistant chatting over a messaging app. " +
	"Answer concisely and conversationally. Use the conversation history for context."

const memoryTaskTimeout = 30 * time.Second

// Inbound is one normalized webhook delivery.
type Inbound struct {
	Channel          channel.ChannelType
	ThreadExternalID string
	ThreadKind       conversation.ThreadKind
	MessageID        string
	Type             conversation.MessageType
	Payload          conversation.Payload
	SenderAddress    string
	SenderName       string
	SentAt           time.Time
}

// Runner processes inbound messages. Errors are contained per message:
// Process returns them for logging, and the user sees at worst the fixed
// apology on their own channel.
type Runner struct {
	repo         conversation.Repository
	router       *triage.Router
	onboarding   *onboarding.Service
	completer    chat.Completer
	dispatcher   *channel.Dispatcher
	email        *email.Service
	memory       *memory.Service
	agentAddress string
	agentName    string
	logger       *slog.Logger
	detached     func(task func())
}

// Options carries the optional collaborators. Email and Memory may be nil
// when their backends are not configured.
type Options struct {
	Email  *email.Service
	Memory *memory.Service
}

func NewRunner(
	log *slog.Logger,
	repo conversation.Repository,
	router *triage.Router,
	onboardingSvc *onboarding.Service,
	completer chat.Completer,
	dispatcher *channel.Dispatcher,
	agentAddress, agentName string,
	opts Options,
) *Runner {
	r := &Runner{
		repo:         repo,
		router:       router,
		onboarding:   onboardingSvc,
		completer:    completer,
		dispatcher:   dispatcher,
		email:        opts.Email,
		memory:       opts.Memory,
		agentAddress: conversation.NormalizeAddress(agentAddress),
		agentName:    agentName,
		logger:       log.With(slog.String("service", "flow")),
	}
	r.detached = func(task func()) { go task() }
	return r
}

// Process handles one delivery. Redeliveries and self-authored messages are
// dropped after persistence, so the repository stays the source of truth
// without the agent answering itself.
func (r *Runner) Process(ctx context.Context, in Inbound) error {
	text := in.Payload.Render(in.Type)
	senderAddr := conversation.NormalizeAddress(in.SenderAddress)
	log := r.logger.With(
		slog.String("channel", in.Channel.String()),
		slog.String("thread", in.ThreadExternalID),
		slog.String("message_id", in.MessageID),
	)

	user, err := r.repo.GetOrCreateUser(ctx, senderAddr, in.SenderName)
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	thread, err := r.repo.GetOrCreateThread(ctx, in.ThreadExternalID, in.ThreadKind)
	if err != nil {
		return fmt.Errorf("get or create thread: %w", err)
	}
	stored, err := r.repo.StoreMessage(ctx, conversation.StoreMessageInput{
		ThreadID:         thread.ID,
		ThreadExternalID: thread.ExternalID,
		ThreadKind:       thread.Kind,
		SenderID:         user.ID,
		SenderAddress:    senderAddr,
		ExternalID:       in.MessageID,
		Type:             in.Type,
		Payload:          in.Payload,
		SentAt:           in.SentAt,
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if stored.Duplicate {
		log.Info("dropped redelivered message")
		return nil
	}
	if senderAddr == r.agentAddress {
		log.Debug("stored self-authored message, no reply")
		return nil
	}

	r.detachMemoryTask(user.ID, text)

	snapshot, err := r.repo.GetThread(ctx, in.ThreadExternalID)
	if err != nil {
		return fmt.Errorf("load thread context: %w", err)
	}
	transcript := r.transcript(snapshot)

	reply := r.reply(ctx, log, user, transcript, text)
	if reply == "" {
		return nil
	}

	r.persistReply(ctx, log, thread, reply)

	kind := channel.RecipientIndividual
	if thread.Kind == conversation.ThreadGroup {
		kind = channel.RecipientGroup
	}
	result, err := r.dispatcher.Send(ctx, channel.SendRequest{
		Channel:       in.Channel,
		RecipientKind: kind,
		RecipientID:   in.ThreadExternalID,
		Text:          reply,
	})
	if err != nil {
		return fmt.Errorf("dispatch reply: %w", err)
	}
	log.Info("reply dispatched", slog.String("outcome", string(result.Outcome)), slog.Int("parts", result.Parts))
	return nil
}

// reply runs triage and the selected workflow, returning the outbound text.
// Empty means nothing should be sent.
func (r *Runner) reply(ctx context.Context, log *slog.Logger, user conversation.User, transcript []chat.Message, text string) string {
	route := triage.RouteDefaultReply
	if r.onboarding != nil && r.onboarding.Enabled() && r.onboarding.Needed(user, text) {
		route = triage.RouteOnboarding
	} else {
		route = r.router.Classify(ctx, transcript, text)
	}
	log = log.With(slog.String("route", string(route)))

	switch route {
	case triage.RouteOnboarding:
		result, err := r.onboarding.Advance(ctx, user, transcript, text)
		if err != nil {
			log.Error("onboarding step failed", slog.Any("error", err))
			return apologyText
		}
		if result.Reply != "" {
			return result.Reply
		}
		// Already complete, fall through to a normal reply.
		return r.defaultReply(ctx, log, transcript)
	case triage.RouteEmailAction:
		if r.email == nil {
			log.Warn("email action requested but email is not configured")
			return r.defaultReply(ctx, log, transcript)
		}
		return r.email.Handle(ctx, user.DisplayName, transcript)
	default:
		return r.defaultReply(ctx, log, transcript)
	}
}

func (r *Runner) defaultReply(ctx context.Context, log *slog.Logger, transcript []chat.Message) string {
	system := fmt.Sprintf(personaSystemTemplate, r.agentName)
	messages := append([]chat.Message{{Role: chat.RoleSystem, Content: system}}, transcript...)
	out, err := r.completer.Complete(ctx, messages, chat.Options{Temperature: 0.7})
	if err != nil {
		log.Error("reply completion failed", slog.Any("error", err))
		return apologyText
	}
	if out == "" {
		return apologyText
	}
	return out
}

// transcript converts the stored window into completion turns. Messages from
// the agent's own address become assistant turns. The latest inbound message
// is already part of the window, so nothing is appended twice.
func (r *Runner) transcript(snapshot conversation.ThreadSnapshot) []chat.Message {
	out := make([]chat.Message, 0, len(snapshot.Messages))
	for _, m := range snapshot.Messages {
		role := chat.RoleUser
		if m.SenderAddress == r.agentAddress {
			role = chat.RoleAssistant
		}
		out = append(out, chat.Message{Role: role, Content: m.Rendering})
	}
	return out
}

func (r *Runner) persistReply(ctx context.Context, log *slog.Logger, thread conversation.Thread, reply string) {
	_, err := r.repo.StoreMessage(ctx, conversation.StoreMessageInput{
		ThreadID:         thread.ID,
		ThreadExternalID: thread.ExternalID,
		ThreadKind:       thread.Kind,
		SenderAddress:    r.agentAddress,
		ExternalID:       fmt.Sprintf("agent-%s", uuid.NewString()),
		Type:             conversation.MessageText,
		Payload:          conversation.Payload{Text: reply},
		SentAt:           time.Now().UTC(),
	})
	if err != nil {
		// The reply still goes out; the provider's delivery webhook will
		// backfill the row via dedup-by-external-id.
		log.Warn("persist outbound message failed", slog.Any("error", err))
	}
}

// detachMemoryTask runs fact derivation without blocking or failing the
// request. The goroutine owns its own deadline and panic boundary.
func (r *Runner) detachMemoryTask(userID, text string) {
	if r.memory == nil {
		return
	}
	r.detached(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("memory task panicked",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), memoryTaskTimeout)
		defer cancel()
		r.memory.Remember(ctx, userID, text)
	})
}
