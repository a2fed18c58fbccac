package extraction

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquahq/loqua/internal/chat"
)

type scriptedCompleter struct {
	reply string
	err   error
	seen  []chat.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []chat.Message, _ chat.Options) (string, error) {
	s.seen = messages
	return s.reply, s.err
}

func newTestExtractor(reply string, err error) (*Extractor, *scriptedCompleter) {
	completer := &scriptedCompleter{reply: reply, err: err}
	return NewExtractor(completer, slog.Default()), completer
}

func TestExtractReturnsValue(t *testing.T) {
	t.Parallel()

	extractor, _ := newTestExtractor("  Jordan Lee  ", nil)
	value, ok, err := extractor.Extract(context.Background(),
		[]chat.Message{{Role: chat.RoleUser, Content: "I'm Jordan Lee"}},
		Field{ID: "name", Label: "Name", Description: "The user's full name."})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Jordan Lee", value)
}

func TestExtractInvalidSentinel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
	}{
		{name: "exact", reply: "INVALID"},
		{name: "lowercase", reply: "invalid"},
		{name: "padded", reply: "  INVALID\n"},
		{name: "empty", reply: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			extractor, _ := newTestExtractor(tt.reply, nil)
			_, ok, err := extractor.Extract(context.Background(), nil, Field{ID: "email"})
			require.NoError(t, err)
			assert.False(t, ok, "sentinel must report not-ok, not an error")
		})
	}
}

func TestExtractPropagatesCompletionError(t *testing.T) {
	t.Parallel()

	extractor, _ := newTestExtractor("", errors.New("timeout"))
	_, _, err := extractor.Extract(context.Background(), nil, Field{ID: "name"})
	assert.Error(t, err)
}

func TestExtractAllParsing(t *testing.T) {
	t.Parallel()

	schema := Schema{Fields: []Field{
		{ID: "name", Description: "full name"},
		{ID: "email", Description: "email address"},
	}}

	tests := []struct {
		name  string
		reply string
		want  map[string]string
	}{
		{
			name:  "fenced json block",
			reply: "Here you go:\n```json\n{\"name\": \"Jordan\", \"email\": \"j@example.com\"}\n```",
			want:  map[string]string{"name": "Jordan", "email": "j@example.com"},
		},
		{
			name:  "bare brace span",
			reply: "Sure! {\"name\": \"Jordan\"} hope that helps",
			want:  map[string]string{"name": "Jordan"},
		},
		{
			name:  "garbage yields empty map",
			reply: "I could not find anything useful.",
			want:  map[string]string{},
		},
		{
			name:  "broken json yields empty map",
			reply: "{\"name\": ",
			want:  map[string]string{},
		},
		{
			name:  "unknown fields dropped",
			reply: "{\"name\": \"Jordan\", \"favorite_color\": \"blue\"}",
			want:  map[string]string{"name": "Jordan"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			extractor, _ := newTestExtractor(tt.reply, nil)
			got, err := extractor.ExtractAll(context.Background(), nil, schema)
			require.NoError(t, err, "malformed output must not propagate an error")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaNextMissing(t *testing.T) {
	t.Parallel()

	schema := Schema{Fields: []Field{
		{ID: "name", Required: true},
		{ID: "email"},
		{ID: "goal", Required: true},
	}}

	next, ok := schema.NextMissing(map[string]string{})
	require.True(t, ok)
	assert.Equal(t, "name", next.ID)

	next, ok = schema.NextMissing(map[string]string{"name": "Jordan"})
	require.True(t, ok)
	assert.Equal(t, "email", next.ID, "must follow declared order, never re-ask name")

	_, ok = schema.NextMissing(map[string]string{"name": "x", "email": "y", "goal": "z"})
	assert.False(t, ok)
}

func TestFieldKeywords(t *testing.T) {
	t.Parallel()

	f := Field{ID: "email", Label: "Email address"}
	assert.Equal(t, []string{"email", "address"}, f.Keywords())
}
