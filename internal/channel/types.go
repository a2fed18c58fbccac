// Package channel turns workflow output into outbound provider calls,
// applying per-channel formatting, validation, and pacing.
package channel

import "strings"

// ChannelType identifies the delivery channel named by the webhook's
// service field.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSMS      ChannelType = "sms"

	// ChannelWeb means the caller renders the text itself (non-chat
	// callers such as a web UI); nothing is sent.
	ChannelWeb ChannelType = "web"
	// ChannelInternal means an outer workflow already dispatched; sending
	// again would double-deliver.
	ChannelInternal ChannelType = "internal"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// ParseChannelType normalizes a webhook service value.
func ParseChannelType(value string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(value)))
}

// NoSend reports whether the channel is one of the reserved pseudo-channels
// that suppress sending entirely.
func (c ChannelType) NoSend() bool {
	return c == ChannelWeb || c == ChannelInternal
}

// RecipientKind selects the provider endpoint for a send.
type RecipientKind string

const (
	RecipientIndividual RecipientKind = "individual"
	RecipientGroup      RecipientKind = "group"
)

// SendRequest is one outbound text for one recipient.
type SendRequest struct {
	Channel       ChannelType
	RecipientKind RecipientKind
	RecipientID   string
	Text          string
}

// Outcome summarizes what the dispatch layer did with a request.
type Outcome string

const (
	// OutcomeSent means every part was handed to the provider. Delivery
	// confirmation, if any, arrives later via the provider's own webhook.
	OutcomeSent Outcome = "sent"
	// OutcomePartial means at least one part failed but the batch continued.
	OutcomePartial Outcome = "partial"
	// OutcomeSkipped means a pseudo-channel short-circuited before any
	// provider call.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRejected means validation stopped the original text from being
	// sent; a fallback message may have been delivered instead.
	OutcomeRejected Outcome = "rejected"
)

// SendResult reports the outcome of one SendRequest.
type SendResult struct {
	Outcome     Outcome
	Parts       int
	FailedParts int
	// ErrorCode and Detail are set for rejected sends, recorded for audit.
	ErrorCode string
	Detail    string
}

// SplitParagraphs splits text on newline boundaries into trimmed, non-empty
// parts. "A\nB\n\n" becomes ["A", "B"].
func SplitParagraphs(text string) []string {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return parts
}
