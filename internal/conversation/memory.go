package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryThread struct {
	thread       Thread
	messages     []Message
	seen         map[string]string // external id -> message id
	participants map[string]struct{}
	lastActive   time.Time
}

// MemoryRepository is the bounded in-process Repository. It backs the
// fallback path when the durable store is unreachable, and serves as the
// whole store in dev mode. Threads hold only the most recent window of
// messages; there is no cross-process durability.
type MemoryRepository struct {
	mu            sync.RWMutex
	usersByAddr   map[string]*User
	usersByID     map[string]*User
	threads       map[string]*memoryThread // keyed by external thread id
	threadsByID   map[string]*memoryThread
	contextWindow int
	now           func() time.Time
}

// NewMemoryRepository creates a MemoryRepository bounded to contextWindow
// messages per thread.
func NewMemoryRepository(contextWindow int) *MemoryRepository {
	if contextWindow <= 0 {
		contextWindow = 20
	}
	return &MemoryRepository{
		usersByAddr:   map[string]*User{},
		usersByID:     map[string]*User{},
		threads:       map[string]*memoryThread{},
		threadsByID:   map[string]*memoryThread{},
		contextWindow: contextWindow,
		now:           time.Now,
	}
}

func (r *MemoryRepository) GetOrCreateUser(_ context.Context, address, displayName string) (User, error) {
	normalized := NormalizeAddress(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.usersByAddr[normalized]; ok {
		if displayName != "" && displayName != existing.DisplayName {
			existing.DisplayName = displayName
			existing.UpdatedAt = r.now()
		}
		return cloneUser(*existing), nil
	}

	user := &User{
		ID:          uuid.NewString(),
		Address:     normalized,
		DisplayName: displayName,
		Metadata:    map[string]any{},
		CreatedAt:   r.now(),
		UpdatedAt:   r.now(),
	}
	r.usersByAddr[normalized] = user
	r.usersByID[user.ID] = user
	return cloneUser(*user), nil
}

func (r *MemoryRepository) GetOrCreateThread(_ context.Context, externalID string, kind ThreadKind) (Thread, error) {
	if kind == "" {
		kind = ThreadIndividual
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.threads[externalID]; ok {
		existing.lastActive = r.now()
		return existing.thread, nil
	}

	entry := &memoryThread{
		thread: Thread{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Kind:       kind,
			Metadata:   map[string]any{},
			CreatedAt:  r.now(),
			UpdatedAt:  r.now(),
		},
		seen:         map[string]string{},
		participants: map[string]struct{}{},
		lastActive:   r.now(),
	}
	r.threads[externalID] = entry
	r.threadsByID[entry.thread.ID] = entry
	return entry.thread, nil
}

func (r *MemoryRepository) StoreMessage(_ context.Context, input StoreMessageInput) (StoreMessageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.threadsByID[input.ThreadID]
	if !ok {
		return StoreMessageResult{}, ErrNotFound
	}
	if existing, ok := entry.seen[input.ExternalID]; ok {
		return StoreMessageResult{MessageID: existing, Duplicate: true}, nil
	}

	msg := Message{
		ID:            uuid.NewString(),
		ThreadID:      input.ThreadID,
		SenderID:      input.SenderID,
		SenderAddress: NormalizeAddress(input.SenderAddress),
		ExternalID:    input.ExternalID,
		Type:          input.Type,
		Payload:       input.Payload,
		Rendering:     input.Payload.Render(input.Type),
		SentAt:        input.SentAt,
		CreatedAt:     r.now(),
	}
	entry.messages = append(entry.messages, msg)
	for len(entry.messages) > r.contextWindow {
		delete(entry.seen, entry.messages[0].ExternalID)
		entry.messages = entry.messages[1:]
	}
	entry.seen[input.ExternalID] = msg.ID
	if input.SenderID != "" {
		entry.participants[input.SenderID] = struct{}{}
	}
	entry.lastActive = r.now()
	return StoreMessageResult{MessageID: msg.ID}, nil
}

func (r *MemoryRepository) GetThread(_ context.Context, externalID string) (ThreadSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.threads[externalID]
	if !ok {
		return ThreadSnapshot{}, ErrNotFound
	}

	snapshot := ThreadSnapshot{
		Thread:   entry.thread,
		Messages: append([]Message(nil), entry.messages...),
	}
	for id := range entry.participants {
		if user, ok := r.usersByID[id]; ok {
			snapshot.Participants = append(snapshot.Participants, cloneUser(*user))
		}
	}
	return snapshot, nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.usersByID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(*user), nil
}

func (r *MemoryRepository) UpdateUserMetadata(_ context.Context, id string, partial map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}
	for k, v := range partial {
		user.Metadata[k] = v
	}
	user.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) UpdateThreadMetadata(_ context.Context, id string, partial map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.threadsByID[id]
	if !ok {
		return ErrNotFound
	}
	if entry.thread.Metadata == nil {
		entry.thread.Metadata = map[string]any{}
	}
	for k, v := range partial {
		entry.thread.Metadata[k] = v
	}
	entry.thread.UpdatedAt = r.now()
	return nil
}

// EvictIdle drops threads that have been inactive longer than maxIdle and
// returns how many were removed. Used by the sweep job to keep the fallback
// buffer from growing without bound.
func (r *MemoryRepository) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for externalID, entry := range r.threads {
		if entry.lastActive.Before(cutoff) {
			delete(r.threads, externalID)
			delete(r.threadsByID, entry.thread.ID)
			evicted++
		}
	}
	return evicted
}

func (r *MemoryRepository) Close() {}

func cloneUser(u User) User {
	meta := make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		meta[k] = v
	}
	u.Metadata = meta
	return u
}
