// Package conversation persists threads, participants, and messages, and
// provides the idempotent get-or-create semantics the webhook pipeline
// relies on under concurrent deliveries.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// ThreadKind distinguishes one-on-one chats from group chats.
type ThreadKind string

const (
	ThreadIndividual ThreadKind = "individual"
	ThreadGroup      ThreadKind = "group"
)

// ParseThreadKind maps a provider thread_type value to a ThreadKind.
// Unknown values default to individual.
func ParseThreadKind(value string) ThreadKind {
	if strings.EqualFold(strings.TrimSpace(value), string(ThreadGroup)) {
		return ThreadGroup
	}
	return ThreadIndividual
}

// MessageType tags the payload variant carried by a message.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageLocation    MessageType = "location"
	MessageReaction    MessageType = "reaction"
	MessageGroupInvite MessageType = "group_invite"
	MessageUnsupported MessageType = "unsupported"
)

// Payload carries the type-specific content of a message. Only the fields
// valid for the message's type are set.
type Payload struct {
	Text      string  `json:"text,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	URL       string  `json:"url,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	Reaction  string  `json:"reaction,omitempty"`
	GroupName string  `json:"group_name,omitempty"`
}

// Render produces the plain-text transcript rendering for a payload.
// Binary and media content is replaced with a bracketed description so the
// transcript never embeds large payloads.
func (p Payload) Render(t MessageType) string {
	switch t {
	case MessageText:
		return p.Text
	case MessageImage:
		return bracketed("Image received", p.Caption)
	case MessageVideo:
		return bracketed("Video received", p.Caption)
	case MessageAudio:
		return bracketed("Audio received", p.Caption)
	case MessageLocation:
		place := strings.TrimSpace(p.Name)
		if place == "" {
			place = strings.TrimSpace(p.Address)
		}
		if place == "" {
			place = fmt.Sprintf("%.5f, %.5f", p.Latitude, p.Longitude)
		}
		return "[Location received: " + place + "]"
	case MessageReaction:
		return "[Reaction: " + strings.TrimSpace(p.Reaction) + "]"
	case MessageGroupInvite:
		return bracketed("Group invite received", p.GroupName)
	default:
		return "[Unsupported message received]"
	}
}

func bracketed(label, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return "[" + label + "]"
	}
	return "[" + label + ": " + detail + "]"
}

// User is a channel participant, created lazily the first time its address
// sends a message.
type User struct {
	ID          string         `json:"id"`
	Address     string         `json:"address"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Thread is one conversation, identified externally by the provider.
type Thread struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id"`
	Kind       ThreadKind     `json:"kind"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Message is one persisted message within a thread.
type Message struct {
	ID            string      `json:"id"`
	ThreadID      string      `json:"thread_id"`
	SenderID      string      `json:"sender_id,omitempty"`
	SenderAddress string      `json:"sender_address"`
	ExternalID    string      `json:"external_id"`
	Type          MessageType `json:"type"`
	Payload       Payload     `json:"payload"`
	Rendering     string      `json:"rendering"`
	SentAt        time.Time   `json:"sent_at"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ThreadSnapshot is a thread plus its recent context window, oldest first.
type ThreadSnapshot struct {
	Thread       Thread    `json:"thread"`
	Messages     []Message `json:"messages"`
	Participants []User    `json:"participants"`
}

// StoreMessageInput is the input for persisting one message.
// ThreadExternalID lets the fallback store re-anchor the message when the
// durable store's thread id is unknown to it.
type StoreMessageInput struct {
	ThreadID         string
	ThreadExternalID string
	ThreadKind       ThreadKind
	SenderID         string
	SenderAddress    string
	ExternalID       string
	Type             MessageType
	Payload          Payload
	SentAt           time.Time
}

// StoreMessageResult reports the stored message id and whether the call hit
// an already-persisted delivery of the same external id.
type StoreMessageResult struct {
	MessageID string
	Duplicate bool
}

// NormalizeAddress strips separators from a channel address before it is
// compared or stored. "+1 555-000 1234" and "15550001234" are the same user.
func NormalizeAddress(address string) string {
	var b strings.Builder
	for _, r := range address {
		switch r {
		case '+', ' ', '\t', '-':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Metadata keys used by the onboarding state machine.
const (
	MetaOnboardingComplete     = "onboarding_complete"
	MetaOnboardingCurrentField = "onboarding_current_field"
	MetaOnboardingFields       = "onboarding_fields"
)

// OnboardingComplete reports whether the user's metadata marks onboarding done.
func (u User) OnboardingComplete() bool {
	v, ok := u.Metadata[MetaOnboardingComplete]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// CollectedFields returns the onboarding field values stored in metadata.
func (u User) CollectedFields() map[string]string {
	out := map[string]string{}
	raw, ok := u.Metadata[MetaOnboardingFields]
	if !ok {
		return out
	}
	switch vals := raw.(type) {
	case map[string]string:
		for k, v := range vals {
			out[k] = v
		}
	case map[string]any:
		for k, v := range vals {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// CurrentField returns the onboarding field currently being collected, or "".
func (u User) CurrentField() string {
	v, _ := u.Metadata[MetaOnboardingCurrentField].(string)
	return v
}
