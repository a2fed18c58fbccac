package channel

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAdapter struct {
	channelType ChannelType
	requests    []SendRequest
}

func (a *recordingAdapter) Type() ChannelType {
	return a.channelType
}

func (a *recordingAdapter) Send(_ context.Context, req SendRequest) (SendResult, error) {
	a.requests = append(a.requests, req)
	return SendResult{Outcome: OutcomeSent, Parts: 1}, nil
}

func TestDispatcherRoutesToAdapter(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	adapter := &recordingAdapter{channelType: ChannelWhatsApp}
	require.NoError(t, registry.Register(adapter))
	dispatcher := NewDispatcher(registry, slog.Default())

	result, err := dispatcher.Send(context.Background(), SendRequest{
		Channel:     ChannelWhatsApp,
		RecipientID: "15550001234",
		Text:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, result.Outcome)
	require.Len(t, adapter.requests, 1)
	assert.Equal(t, RecipientIndividual, adapter.requests[0].RecipientKind, "kind defaults to individual")
}

func TestDispatcherPseudoChannelsShortCircuit(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	adapter := &recordingAdapter{channelType: ChannelWhatsApp}
	require.NoError(t, registry.Register(adapter))
	dispatcher := NewDispatcher(registry, slog.Default())

	for _, ct := range []ChannelType{ChannelWeb, ChannelInternal} {
		result, err := dispatcher.Send(context.Background(), SendRequest{
			Channel:     ct,
			RecipientID: "15550001234",
			Text:        "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, result.Outcome)
	}
	assert.Empty(t, adapter.requests, "pseudo-channels must not reach any adapter")
}

func TestDispatcherUnknownChannel(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(NewRegistry(), slog.Default())
	_, err := dispatcher.Send(context.Background(), SendRequest{
		Channel:     ChannelType("telegraph"),
		RecipientID: "x",
		Text:        "hello",
	})
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&recordingAdapter{channelType: ChannelSMS}))
	assert.Error(t, registry.Register(&recordingAdapter{channelType: ChannelSMS}))
}

func TestSplitParagraphs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "trailing newlines", in: "A\nB\n\n", want: []string{"A", "B"}},
		{name: "blank lines between", in: "one\n\n\ntwo", want: []string{"one", "two"}},
		{name: "single line", in: "hello", want: []string{"hello"}},
		{name: "whitespace only", in: " \n\t\n", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitParagraphs(tt.in))
		})
	}
}
