package onboarding

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquahq/loqua/internal/chat"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/extraction"
)

// routingCompleter answers extraction calls and prompt-generation calls
// separately, keyed off the system prompt.
type routingCompleter struct {
	extractReply string
	promptReply  string
}

func (c *routingCompleter) Complete(_ context.Context, messages []chat.Message, _ chat.Options) (string, error) {
	if len(messages) > 0 && strings.Contains(messages[0].Content, "extract") {
		return c.extractReply, nil
	}
	return c.promptReply, nil
}

var testSchema = extraction.Schema{Fields: []extraction.Field{
	{ID: "name", Label: "Name", Required: true, Description: "The user's full name."},
	{ID: "email", Label: "Email", Required: false, Description: "An email address."},
	{ID: "goal", Label: "Goal", Required: true, Description: "What the user wants help with."},
}}

type fixture struct {
	service   *Service
	repo      *conversation.MemoryRepository
	completer *routingCompleter
	user      conversation.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := conversation.NewMemoryRepository(20)
	user, err := repo.GetOrCreateUser(context.Background(), "15550001234", "Jordan")
	require.NoError(t, err)
	completer := &routingCompleter{promptReply: "Thanks! What is your name?"}
	extractor := extraction.NewExtractor(completer, slog.Default())
	service := NewService(repo, extractor, completer, testSchema, "All set, welcome aboard!", slog.Default())
	return &fixture{service: service, repo: repo, completer: completer, user: user}
}

func (f *fixture) reload(t *testing.T) conversation.User {
	t.Helper()
	user, err := f.repo.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	return user
}

func (f *fixture) setState(t *testing.T, collected map[string]string, current string, complete bool) {
	t.Helper()
	err := f.repo.UpdateUserMetadata(context.Background(), f.user.ID, map[string]any{
		conversation.MetaOnboardingFields:       collected,
		conversation.MetaOnboardingCurrentField: current,
		conversation.MetaOnboardingComplete:     complete,
	})
	require.NoError(t, err)
}

func TestAdvanceStartsWithFirstField(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.service.Advance(context.Background(), f.user, nil, "Hi")
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, result.State)
	assert.Equal(t, "name", result.FieldID)
	assert.Contains(t, result.Reply, "?")
	assert.Equal(t, "name", f.reload(t).CurrentField())
}

func TestAdvanceFieldOrdering(t *testing.T) {
	t.Parallel()

	// name already supplied: the next prompt must request email, never goal
	// and never name again.
	f := newFixture(t)
	f.setState(t, map[string]string{"name": "Jordan Lee"}, "", false)
	f.completer.promptReply = "Got it. What email should I use?"

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "hello again")
	require.NoError(t, err)
	assert.Equal(t, "email", result.FieldID)
}

func TestAdvanceRequiredFieldRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setState(t, map[string]string{}, "name", false)
	f.completer.extractReply = "INVALID"

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "ehh maybe later")
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, result.State)
	assert.Equal(t, "name", result.FieldID, "required field must not advance on INVALID")
	assert.Contains(t, result.Reply, "name")
	assert.Equal(t, "name", f.reload(t).CurrentField(), "current field unchanged")
}

func TestAdvanceOptionalFieldSkip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setState(t, map[string]string{"name": "Jordan Lee"}, "email", false)
	f.completer.extractReply = "INVALID"
	f.completer.promptReply = "No problem. What goal brings you here?"

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "not now")
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, result.State)
	assert.Equal(t, "goal", result.FieldID, "optional field must advance on INVALID")
	user := f.reload(t)
	assert.Equal(t, "goal", user.CurrentField())
	assert.NotContains(t, user.CollectedFields(), "email")
}

func TestAdvanceCompletesOnLastField(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setState(t, map[string]string{"name": "Jordan Lee"}, "goal", false)
	f.completer.extractReply = "learn to cook"

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "I want to learn to cook")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "All set, welcome aboard!", result.Reply)

	user := f.reload(t)
	assert.True(t, user.OnboardingComplete())
	assert.Equal(t, "", user.CurrentField())
	assert.Equal(t, "learn to cook", user.CollectedFields()["goal"])
}

func TestCompleteIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setState(t, map[string]string{"name": "x", "goal": "y"}, "", true)

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "hello again")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Empty(t, result.Reply, "a completed session must not re-enter collecting")
}

func TestTriggerPhraseRestartsCompletedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setState(t, map[string]string{"name": "x", "goal": "y"}, "", true)

	result, err := f.service.Advance(context.Background(), f.reload(t), nil, "  Start Onboarding ")
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, result.State)
	assert.Equal(t, "name", result.FieldID)

	user := f.reload(t)
	assert.False(t, user.OnboardingComplete())
	assert.Empty(t, user.CollectedFields(), "restart drops prior progress")
}

func TestPromptFallbackWhenValidationFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.completer.promptReply = "Nice to meet you." // no question, no keyword

	result, err := f.service.Advance(context.Background(), f.user, nil, "Hi")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "Could you tell me your name?",
		"canonical question appended when generated text fails validation")
}

func TestNeeded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fresh := f.user
	assert.True(t, f.service.Needed(fresh, "Hi"))

	f.setState(t, map[string]string{"name": "x", "goal": "y"}, "", true)
	done := f.reload(t)
	assert.False(t, f.service.Needed(done, "Hi"))
	assert.True(t, f.service.Needed(done, "start onboarding"), "trigger overrides completed state")
}

func TestIsTrigger(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTrigger("start onboarding"))
	assert.True(t, IsTrigger("  START ONBOARDING  "))
	assert.False(t, IsTrigger("start onboarding please"))
	assert.False(t, IsTrigger(""))
}
