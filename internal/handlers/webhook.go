// Package handlers holds the HTTP boundary: webhook ingestion and health.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/flow"
)

// Processor handles one normalized inbound delivery. Satisfied by
// flow.Runner.
type Processor interface {
	Process(ctx context.Context, in flow.Inbound) error
}

// webhookPayload is the provider's delivery format. message_content is a
// tagged union keyed by message_type; only the matching fields are read.
type webhookPayload struct {
	ThreadID     string         `json:"thread_id" validate:"required"`
	ThreadType   string         `json:"thread_type"`
	MessageID    string         `json:"message_id" validate:"required"`
	MessageType  string         `json:"message_type" validate:"required"`
	Content      messageContent `json:"message_content"`
	SenderNumber string         `json:"sender_number" validate:"required"`
	SenderName   string         `json:"sender_name"`
	Timestamp    int64          `json:"timestamp"`
	Service      string         `json:"service" validate:"required"`
}

type messageContent struct {
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
	URL       string  `json:"url"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Reaction  string  `json:"reaction"`
	GroupName string  `json:"group_name"`
}

type WebhookHandler struct {
	runner Processor
	logger *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, runner Processor) *WebhookHandler {
	return &WebhookHandler{
		runner: runner,
		logger: log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/messages", h.HandleMessage)
}

// HandleMessage ingests one delivery. Malformed payloads get 400; anything
// accepted returns 200 even when processing fails, because the provider
// retries non-2xx responses and a redelivery storm helps nobody.
func (h *WebhookHandler) HandleMessage(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if err := c.Validate(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	inbound := translate(payload)
	if err := h.runner.Process(c.Request().Context(), inbound); err != nil {
		h.logger.Error("inbound processing failed",
			slog.String("thread", payload.ThreadID),
			slog.String("message_id", payload.MessageID),
			slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "error_handled"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// translate narrows the loose provider payload into the typed Inbound. The
// union is resolved here so nothing downstream branches on message_type
// beyond rendering.
func translate(p webhookPayload) flow.Inbound {
	msgType := parseMessageType(p.MessageType)
	sentAt := time.Now().UTC()
	if p.Timestamp > 0 {
		sentAt = time.Unix(p.Timestamp, 0).UTC()
	}
	return flow.Inbound{
		Channel:          channel.ParseChannelType(p.Service),
		ThreadExternalID: p.ThreadID,
		ThreadKind:       conversation.ParseThreadKind(p.ThreadType),
		MessageID:        p.MessageID,
		Type:             msgType,
		Payload:          payloadFor(msgType, p.Content),
		SenderAddress:    p.SenderNumber,
		SenderName:       p.SenderName,
		SentAt:           sentAt,
	}
}

func parseMessageType(value string) conversation.MessageType {
	switch conversation.MessageType(value) {
	case conversation.MessageText, conversation.MessageImage, conversation.MessageVideo,
		conversation.MessageAudio, conversation.MessageLocation, conversation.MessageReaction,
		conversation.MessageGroupInvite:
		return conversation.MessageType(value)
	default:
		return conversation.MessageUnsupported
	}
}

func payloadFor(t conversation.MessageType, content messageContent) conversation.Payload {
	switch t {
	case conversation.MessageText:
		return conversation.Payload{Text: content.Text}
	case conversation.MessageImage, conversation.MessageVideo, conversation.MessageAudio:
		return conversation.Payload{Caption: content.Caption, URL: content.URL}
	case conversation.MessageLocation:
		return conversation.Payload{
			Latitude:  content.Latitude,
			Longitude: content.Longitude,
			Name:      content.Name,
			Address:   content.Address,
		}
	case conversation.MessageReaction:
		return conversation.Payload{Reaction: content.Reaction}
	case conversation.MessageGroupInvite:
		return conversation.Payload{GroupName: content.GroupName}
	default:
		return conversation.Payload{}
	}
}
