package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/flow"
)

type recordingProcessor struct {
	inbound []flow.Inbound
	err     error
}

func (p *recordingProcessor) Process(_ context.Context, in flow.Inbound) error {
	p.inbound = append(p.inbound, in)
	return p.err
}

type testValidator struct {
	validate *validator.Validate
}

func (v *testValidator) Validate(i any) error { return v.validate.Struct(i) }

func post(t *testing.T, handler *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = &testValidator{validate: validator.New()}
	handler.Register(e)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const validBody = `{
	"thread_id": "15550001234@c.us",
	"thread_type": "individual",
	"message_id": "wamid.1",
	"message_type": "text",
	"message_content": {"text": "hello there"},
	"sender_number": "+15550001234",
	"sender_name": "Jordan Lee",
	"timestamp": 1717243200,
	"service": "whatsapp"
}`

func TestHandleMessageTranslatesPayload(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	rec := post(t, NewWebhookHandler(slog.Default(), proc), validBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.inbound, 1)
	in := proc.inbound[0]
	assert.Equal(t, channel.ChannelWhatsApp, in.Channel)
	assert.Equal(t, "15550001234@c.us", in.ThreadExternalID)
	assert.Equal(t, conversation.ThreadIndividual, in.ThreadKind)
	assert.Equal(t, "wamid.1", in.MessageID)
	assert.Equal(t, conversation.MessageText, in.Type)
	assert.Equal(t, "hello there", in.Payload.Text)
	assert.Equal(t, "+15550001234", in.SenderAddress)
	assert.Equal(t, "Jordan Lee", in.SenderName)
	assert.Equal(t, int64(1717243200), in.SentAt.Unix())
}

func TestHandleMessageRejectsMissingFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"no thread id", `{"message_id":"m1","message_type":"text","sender_number":"1","service":"whatsapp"}`},
		{"no message id", `{"thread_id":"t1","message_type":"text","sender_number":"1","service":"whatsapp"}`},
		{"no service", `{"thread_id":"t1","message_id":"m1","message_type":"text","sender_number":"1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			proc := &recordingProcessor{}
			rec := post(t, NewWebhookHandler(slog.Default(), proc), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, proc.inbound)
		})
	}
}

func TestHandleMessageReturns200OnProcessingFailure(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{err: errors.New("storage down")}
	rec := post(t, NewWebhookHandler(slog.Default(), proc), validBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "error_handled")
}

func TestTranslateUnionVariants(t *testing.T) {
	t.Parallel()

	base := webhookPayload{
		ThreadID:     "t1",
		MessageID:    "m1",
		SenderNumber: "1",
		Service:      "whatsapp",
	}

	location := base
	location.MessageType = "location"
	location.Content = messageContent{Latitude: 37.1, Longitude: -8.6, Name: "Cafe", Text: "ignored"}
	in := translate(location)
	assert.Equal(t, conversation.MessageLocation, in.Type)
	assert.Equal(t, 37.1, in.Payload.Latitude)
	assert.Empty(t, in.Payload.Text, "location payload must not carry text fields")

	image := base
	image.MessageType = "image"
	image.Content = messageContent{Caption: "sunset", URL: "https://cdn/x.jpg", Reaction: "ignored"}
	in = translate(image)
	assert.Equal(t, conversation.MessageImage, in.Type)
	assert.Equal(t, "sunset", in.Payload.Caption)
	assert.Empty(t, in.Payload.Reaction)

	unknown := base
	unknown.MessageType = "sticker"
	unknown.Content = messageContent{Text: "ignored"}
	in = translate(unknown)
	assert.Equal(t, conversation.MessageUnsupported, in.Type)
	assert.Equal(t, conversation.Payload{}, in.Payload)

	untimed := base
	untimed.MessageType = "text"
	in = translate(untimed)
	assert.False(t, in.SentAt.IsZero())
}
