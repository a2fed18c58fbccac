package sms

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquahq/loqua/internal/channel"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendIndividual(_ context.Context, _, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) SendGroup(context.Context, string, string) error {
	return nil
}

func TestSendWithinLimit(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	adapter := New(sender, 160, slog.Default())

	result, err := adapter.Send(context.Background(), channel.SendRequest{
		Channel:     channel.ChannelSMS,
		RecipientID: "15550001234",
		Text:        "short and sweet",
	})
	require.NoError(t, err)
	assert.Equal(t, channel.OutcomeSent, result.Outcome)
	assert.Equal(t, []string{"short and sweet"}, sender.sent)
}

func TestLengthGuardRoutesToFallback(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	adapter := New(sender, 160, slog.Default())
	long := strings.Repeat("x", 200)

	result, err := adapter.Send(context.Background(), channel.SendRequest{
		Channel:     channel.ChannelSMS,
		RecipientID: "15550001234",
		Text:        long,
	})
	require.NoError(t, err)
	assert.Equal(t, channel.OutcomeRejected, result.Outcome)
	assert.Equal(t, ErrorCodeLength, result.ErrorCode)
	assert.Contains(t, result.Detail, "200")
	require.Len(t, sender.sent, 1, "only the fallback reaches the provider")
	assert.Equal(t, FallbackText, sender.sent[0])
}

func TestLengthGuardCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	adapter := New(sender, 10, slog.Default())

	// 10 multi-byte runes is within a 10-rune limit.
	result, err := adapter.Send(context.Background(), channel.SendRequest{
		Channel:     channel.ChannelSMS,
		RecipientID: "15550001234",
		Text:        strings.Repeat("é", 10),
	})
	require.NoError(t, err)
	assert.Equal(t, channel.OutcomeSent, result.Outcome)
}
