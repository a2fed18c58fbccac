// Package chat is the narrow client surface for the language-model
// completion service. Higher layers depend on the Completer interface only.
package chat

import "context"

// Message roles mirror the completion API convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn handed to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Completer produces a text completion for an ordered list of turns.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Embedder produces a vector embedding for a text input.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}
