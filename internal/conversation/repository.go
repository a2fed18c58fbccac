package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a thread or user does not exist. For
// GetThread it is the primary "brand-new conversation" signal.
var ErrNotFound = errors.New("conversation: not found")

// Repository is the persistence contract for threads, users, and messages.
//
// GetOrCreateUser and GetOrCreateThread are idempotent under concurrent
// callers: two racing creations for the same key converge on one row, and
// the loser's insert failure is resolved into a lookup, never surfaced.
type Repository interface {
	GetOrCreateUser(ctx context.Context, address, displayName string) (User, error)
	GetOrCreateThread(ctx context.Context, externalID string, kind ThreadKind) (Thread, error)

	// StoreMessage is insert-or-ignore keyed on (thread id, external id) so
	// provider redelivery never produces a second row. It also records the
	// sender as a thread participant.
	StoreMessage(ctx context.Context, input StoreMessageInput) (StoreMessageResult, error)

	// GetThread returns the thread, its recent messages oldest-first, and
	// its participants. ErrNotFound means the conversation is brand new.
	GetThread(ctx context.Context, externalID string) (ThreadSnapshot, error)

	GetUser(ctx context.Context, id string) (User, error)

	// UpdateUserMetadata shallow-merges partial into the stored metadata;
	// unrelated keys are preserved.
	UpdateUserMetadata(ctx context.Context, id string, partial map[string]any) error

	// UpdateThreadMetadata shallow-merges partial into thread metadata.
	UpdateThreadMetadata(ctx context.Context, id string, partial map[string]any) error

	Close()
}
