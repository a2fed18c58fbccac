package conversation

import (
	"context"
	"errors"
	"log/slog"
)

// Failover is a Repository that prefers the durable store and degrades to
// the in-process buffer when it fails. Callers cannot observe which mode
// served them; a transient store error is never a user-visible failure.
type Failover struct {
	durable  Repository
	fallback *MemoryRepository
	logger   *slog.Logger
}

// NewFailover wraps a durable Repository with an in-memory fallback.
func NewFailover(durable Repository, fallback *MemoryRepository, log *slog.Logger) *Failover {
	return &Failover{
		durable:  durable,
		fallback: fallback,
		logger:   log.With(slog.String("service", "conversation-failover")),
	}
}

// Fallback exposes the in-memory store for the sweep job.
func (f *Failover) Fallback() *MemoryRepository {
	return f.fallback
}

func (f *Failover) degraded(op string, err error) {
	f.logger.Warn("durable store failed, using in-memory fallback",
		slog.String("op", op), slog.Any("error", err))
}

func (f *Failover) GetOrCreateUser(ctx context.Context, address, displayName string) (User, error) {
	user, err := f.durable.GetOrCreateUser(ctx, address, displayName)
	if err == nil {
		return user, nil
	}
	f.degraded("get_or_create_user", err)
	return f.fallback.GetOrCreateUser(ctx, address, displayName)
}

func (f *Failover) GetOrCreateThread(ctx context.Context, externalID string, kind ThreadKind) (Thread, error) {
	thread, err := f.durable.GetOrCreateThread(ctx, externalID, kind)
	if err == nil {
		return thread, nil
	}
	f.degraded("get_or_create_thread", err)
	return f.fallback.GetOrCreateThread(ctx, externalID, kind)
}

func (f *Failover) StoreMessage(ctx context.Context, input StoreMessageInput) (StoreMessageResult, error) {
	result, err := f.durable.StoreMessage(ctx, input)
	if err == nil {
		return result, nil
	}
	f.degraded("store_message", err)
	result, fbErr := f.fallback.StoreMessage(ctx, input)
	if errors.Is(fbErr, ErrNotFound) && input.ThreadExternalID != "" {
		// The durable thread id is unknown to the fallback store; re-anchor
		// on the external thread id.
		thread, createErr := f.fallback.GetOrCreateThread(ctx, input.ThreadExternalID, input.ThreadKind)
		if createErr != nil {
			return StoreMessageResult{}, createErr
		}
		input.ThreadID = thread.ID
		return f.fallback.StoreMessage(ctx, input)
	}
	return result, fbErr
}

func (f *Failover) GetThread(ctx context.Context, externalID string) (ThreadSnapshot, error) {
	snapshot, err := f.durable.GetThread(ctx, externalID)
	if err == nil || errors.Is(err, ErrNotFound) {
		return snapshot, err
	}
	f.degraded("get_thread", err)
	return f.fallback.GetThread(ctx, externalID)
}

func (f *Failover) GetUser(ctx context.Context, id string) (User, error) {
	user, err := f.durable.GetUser(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		if errors.Is(err, ErrNotFound) {
			// The id may belong to a fallback-created user.
			if fbUser, fbErr := f.fallback.GetUser(ctx, id); fbErr == nil {
				return fbUser, nil
			}
		}
		return user, err
	}
	f.degraded("get_user", err)
	return f.fallback.GetUser(ctx, id)
}

func (f *Failover) UpdateUserMetadata(ctx context.Context, id string, partial map[string]any) error {
	err := f.durable.UpdateUserMetadata(ctx, id, partial)
	if err == nil {
		return nil
	}
	f.degraded("update_user_metadata", err)
	if fbErr := f.fallback.UpdateUserMetadata(ctx, id, partial); fbErr == nil {
		return nil
	}
	return err
}

func (f *Failover) UpdateThreadMetadata(ctx context.Context, id string, partial map[string]any) error {
	err := f.durable.UpdateThreadMetadata(ctx, id, partial)
	if err == nil {
		return nil
	}
	f.degraded("update_thread_metadata", err)
	if fbErr := f.fallback.UpdateThreadMetadata(ctx, id, partial); fbErr == nil {
		return nil
	}
	return err
}

func (f *Failover) Close() {
	f.durable.Close()
}
