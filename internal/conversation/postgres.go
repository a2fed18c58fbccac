package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository is the durable Repository backed by pgx.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	contextWindow int
	logger        *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository keeping the last
// contextWindow messages per thread snapshot.
func NewPostgresRepository(pool *pgxpool.Pool, contextWindow int, log *slog.Logger) *PostgresRepository {
	if contextWindow <= 0 {
		contextWindow = 20
	}
	return &PostgresRepository{
		pool:          pool,
		contextWindow: contextWindow,
		logger:        log.With(slog.String("service", "conversation")),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, address, displayName string) (User, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return User{}, fmt.Errorf("user address is required")
	}

	user, err := r.getUserByAddress(ctx, normalized)
	if err == nil {
		return r.refreshDisplayName(ctx, user, displayName)
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (address, display_name)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
		RETURNING id::text, address, display_name, metadata, created_at, updated_at`,
		normalized, displayName)
	user, err = scanUser(row)
	if err == nil {
		return user, nil
	}
	// Lost the creation race: another delivery inserted this address first.
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		user, err = r.getUserByAddress(ctx, normalized)
		if err != nil {
			return User{}, fmt.Errorf("re-fetch user after conflict: %w", err)
		}
		return r.refreshDisplayName(ctx, user, displayName)
	}
	return User{}, fmt.Errorf("create user: %w", err)
}

func (r *PostgresRepository) getUserByAddress(ctx context.Context, normalized string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, address, display_name, metadata, created_at, updated_at
		FROM users WHERE address = $1`, normalized)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by address: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) refreshDisplayName(ctx context.Context, user User, displayName string) (User, error) {
	if displayName == "" || displayName == user.DisplayName {
		return user, nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET display_name = $2, updated_at = now() WHERE id = $1::uuid`,
		user.ID, displayName)
	if err != nil {
		// A stale display name is not worth failing the request over.
		r.logger.Warn("update display name failed",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return user, nil
	}
	user.DisplayName = displayName
	return user, nil
}

func (r *PostgresRepository) GetOrCreateThread(ctx context.Context, externalID string, kind ThreadKind) (Thread, error) {
	if externalID == "" {
		return Thread{}, fmt.Errorf("thread external id is required")
	}
	if kind == "" {
		kind = ThreadIndividual
	}

	thread, err := r.getThreadRow(ctx, externalID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Thread{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO threads (external_id, kind)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id::text, external_id, kind, metadata, created_at, updated_at`,
		externalID, string(kind))
	thread, err = scanThread(row)
	if err == nil {
		return thread, nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		thread, err = r.getThreadRow(ctx, externalID)
		if err != nil {
			return Thread{}, fmt.Errorf("re-fetch thread after conflict: %w", err)
		}
		return thread, nil
	}
	return Thread{}, fmt.Errorf("create thread: %w", err)
}

func (r *PostgresRepository) getThreadRow(ctx context.Context, externalID string) (Thread, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, external_id, kind, metadata, created_at, updated_at
		FROM threads WHERE external_id = $1`, externalID)
	thread, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

func (r *PostgresRepository) StoreMessage(ctx context.Context, input StoreMessageInput) (StoreMessageResult, error) {
	if input.ThreadID == "" || input.ExternalID == "" {
		return StoreMessageResult{}, fmt.Errorf("thread id and external id are required")
	}

	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (thread_id, sender_id, sender_address, external_id, message_type, content, rendering, sent_at)
		VALUES ($1::uuid, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (thread_id, external_id) DO NOTHING
		RETURNING id::text`,
		input.ThreadID, input.SenderID, NormalizeAddress(input.SenderAddress),
		input.ExternalID, string(input.Type), input.Payload,
		input.Payload.Render(input.Type), input.SentAt).Scan(&id)
	switch {
	case err == nil:
		if input.SenderID != "" {
			r.addParticipant(ctx, input.ThreadID, input.SenderID)
		}
		return StoreMessageResult{MessageID: id}, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		// Provider redelivery of an already-stored message.
		var existing string
		lookupErr := r.pool.QueryRow(ctx, `
			SELECT id::text FROM messages WHERE thread_id = $1::uuid AND external_id = $2`,
			input.ThreadID, input.ExternalID).Scan(&existing)
		if lookupErr != nil {
			return StoreMessageResult{}, fmt.Errorf("re-fetch message after conflict: %w", lookupErr)
		}
		return StoreMessageResult{MessageID: existing, Duplicate: true}, nil
	default:
		return StoreMessageResult{}, fmt.Errorf("store message: %w", err)
	}
}

func (r *PostgresRepository) addParticipant(ctx context.Context, threadID, userID string) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO thread_participants (thread_id, user_id)
		VALUES ($1::uuid, $2::uuid)
		ON CONFLICT DO NOTHING`, threadID, userID)
	if err != nil {
		r.logger.Warn("add participant failed",
			slog.String("thread_id", threadID), slog.Any("error", err))
	}
}

func (r *PostgresRepository) GetThread(ctx context.Context, externalID string) (ThreadSnapshot, error) {
	thread, err := r.getThreadRow(ctx, externalID)
	if err != nil {
		return ThreadSnapshot{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id::text, thread_id::text, COALESCE(sender_id::text, ''), sender_address,
		       external_id, message_type, content, rendering, sent_at, created_at
		FROM messages
		WHERE thread_id = $1::uuid
		ORDER BY sent_at DESC, created_at DESC
		LIMIT $2`, thread.ID, r.contextWindow)
	if err != nil {
		return ThreadSnapshot{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var msgType string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderAddress,
			&m.ExternalID, &msgType, &m.Payload, &m.Rendering, &m.SentAt, &m.CreatedAt); err != nil {
			return ThreadSnapshot{}, fmt.Errorf("scan message: %w", err)
		}
		m.Type = MessageType(msgType)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return ThreadSnapshot{}, fmt.Errorf("iterate messages: %w", err)
	}
	// Query returns newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	participants, err := r.listParticipants(ctx, thread.ID)
	if err != nil {
		return ThreadSnapshot{}, err
	}

	return ThreadSnapshot{Thread: thread, Messages: messages, Participants: participants}, nil
}

func (r *PostgresRepository) listParticipants(ctx context.Context, threadID string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id::text, u.address, u.display_name, u.metadata, u.created_at, u.updated_at
		FROM thread_participants tp
		JOIN users u ON u.id = tp.user_id
		WHERE tp.thread_id = $1::uuid
		ORDER BY tp.created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, address, display_name, metadata, created_at, updated_at
		FROM users WHERE id = $1::uuid`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) UpdateUserMetadata(ctx context.Context, id string, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	// jsonb || is a shallow merge: unrelated top-level keys survive.
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET metadata = metadata || $2, updated_at = now() WHERE id = $1::uuid`,
		id, partial)
	if err != nil {
		return fmt.Errorf("update user metadata: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateThreadMetadata(ctx context.Context, id string, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE threads SET metadata = metadata || $2, updated_at = now() WHERE id = $1::uuid`,
		id, partial)
	if err != nil {
		return fmt.Errorf("update thread metadata: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Address, &u.DisplayName, &u.Metadata, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	return u, nil
}

func scanThread(row rowScanner) (Thread, error) {
	var t Thread
	var kind string
	if err := row.Scan(&t.ID, &t.ExternalID, &kind, &t.Metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Thread{}, err
	}
	t.Kind = ThreadKind(kind)
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return t, nil
}
