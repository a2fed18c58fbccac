package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loquahq/loqua/internal/chat"
)

// InvalidSentinel is the literal marker the completion call returns when no
// confident value can be found.
const InvalidSentinel = "INVALID"

// Extractor runs field extraction over conversation transcripts.
type Extractor struct {
	completer chat.Completer
	logger    *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(completer chat.Completer, log *slog.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		logger:    log.With(slog.String("service", "extraction")),
	}
}

const extractSystemPrompt = "You extract a single piece of information from a conversation. " +
	"Reply with ONLY the extracted value as plain text, with no explanation, labels, or punctuation around it. " +
	"If the conversation does not contain a confident value, reply with exactly " + InvalidSentinel + "."

// Extract asks for exactly one field's value from the transcript. ok is
// false when the model reported the sentinel; that is a normal outcome, not
// an error.
func (e *Extractor) Extract(ctx context.Context, transcript []chat.Message, field Field) (value string, ok bool, err error) {
	prompt := fmt.Sprintf("Field to extract: %s\nDescription: %s\n\nConversation:\n%s",
		field.Label, field.Description, renderTranscript(transcript))

	raw, err := e.completer.Complete(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: extractSystemPrompt},
		{Role: chat.RoleUser, Content: prompt},
	}, chat.Options{Temperature: 0, MaxTokens: 100})
	if err != nil {
		return "", false, fmt.Errorf("extract %s: %w", field.ID, err)
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, InvalidSentinel) {
		return "", false, nil
	}
	return trimmed, true, nil
}

const extractAllSystemPrompt = "You extract structured information from a conversation. " +
	"Reply with ONLY a JSON object mapping field ids to extracted string values. " +
	"Omit fields you cannot extract confidently. No explanation text."

// ExtractAll asks for every schema field at once. Malformed model output
// yields an empty map, never an error: onboarding must not crash on it.
func (e *Extractor) ExtractAll(ctx context.Context, transcript []chat.Message, schema Schema) (map[string]string, error) {
	var fields strings.Builder
	for _, f := range schema.Fields {
		fmt.Fprintf(&fields, "- %s: %s\n", f.ID, f.Description)
	}
	prompt := fmt.Sprintf("Fields:\n%s\nConversation:\n%s", fields.String(), renderTranscript(transcript))

	raw, err := e.completer.Complete(ctx, []chat.Message{
		{Role: chat.RoleSystem, Content: extractAllSystemPrompt},
		{Role: chat.RoleUser, Content: prompt},
	}, chat.Options{Temperature: 0, MaxTokens: 400})
	if err != nil {
		return nil, fmt.Errorf("extract all: %w", err)
	}

	values := e.parseFieldMap(raw)
	out := map[string]string{}
	for _, f := range schema.Fields {
		if v, ok := values[f.ID]; ok && strings.TrimSpace(v) != "" {
			out[f.ID] = strings.TrimSpace(v)
		}
	}
	return out, nil
}

// parseFieldMap recovers a JSON object from model output: fenced json block
// first, then the first top-level {...} span, else empty.
func (e *Extractor) parseFieldMap(raw string) map[string]string {
	candidate := fencedJSON(raw)
	if candidate == "" {
		candidate = braceSpan(raw)
	}
	if candidate == "" {
		return map[string]string{}
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(candidate), &values); err != nil {
		// Retry with loose typing: the model sometimes returns numbers.
		var loose map[string]any
		if err := json.Unmarshal([]byte(candidate), &loose); err != nil {
			e.logger.Warn("unparseable extraction output", slog.Any("error", err))
			return map[string]string{}
		}
		values = map[string]string{}
		for k, v := range loose {
			values[k] = fmt.Sprint(v)
		}
	}
	return values
}

func fencedJSON(raw string) string {
	start := strings.Index(raw, "```")
	if start < 0 {
		return ""
	}
	rest := raw[start+3:]
	if after, ok := strings.CutPrefix(rest, "json"); ok {
		rest = after
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func braceSpan(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func renderTranscript(transcript []chat.Message) string {
	var b strings.Builder
	for _, turn := range transcript {
		role := "User"
		if turn.Role == chat.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, turn.Content)
	}
	return b.String()
}
