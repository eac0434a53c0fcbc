package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

// PostgresStore is the Postgres-backed store, for deployments where the
// relay runs with more than one instance sharing one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}

	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending (
		message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
		enqueued_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append validates and durably appends a message to history.
func (s *PostgresStore) Append(ctx context.Context, role, content string) (*models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &models.Message{
		ID:        NewMessageID(now),
		Role:      role,
		Content:   content,
		CreatedAt: now.UnixMilli(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// History returns messages in chronological order, windowed by the query.
func (s *PostgresStore) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	limit := normalizeLimit(q.Limit)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := `SELECT id, role, content, created_at FROM messages ORDER BY id DESC LIMIT $1`
	args := []any{limit + 1}
	newestFirst := true
	switch {
	case q.AfterID != "":
		newestFirst = false
		query = `SELECT id, role, content, created_at FROM messages WHERE id > $1 ORDER BY id ASC LIMIT $2`
		args = []any{q.AfterID, limit + 1}
	case q.BeforeID != "":
		query = `SELECT id, role, content, created_at FROM messages WHERE id < $1 ORDER BY id DESC LIMIT $2`
		args = []any{q.BeforeID, limit + 1}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if newestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return &HistoryPage{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// Clear removes all history and, via cascade, all pending envelopes.
func (s *PostgresStore) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnqueuePending adds a message to the handoff queue.
func (s *PostgresStore) EnqueuePending(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending (message_id, enqueued_at) VALUES ($1, $2)
	`, msg.ID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

// ListPending returns all queued envelopes in enqueue order.
func (s *PostgresStore) ListPending(ctx context.Context) ([]models.PendingEnvelope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.role, m.content, m.created_at, p.enqueued_at
		FROM pending p JOIN messages m ON m.id = p.message_id
		ORDER BY p.message_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var envelopes []models.PendingEnvelope
	for rows.Next() {
		var env models.PendingEnvelope
		if err := rows.Scan(
			&env.Message.ID,
			&env.Message.Role,
			&env.Message.Content,
			&env.Message.CreatedAt,
			&env.EnqueuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

// RemovePending removes one envelope by message id. Idempotent.
func (s *PostgresStore) RemovePending(ctx context.Context, id string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending WHERE message_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("remove pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearPending empties the handoff queue.
func (s *PostgresStore) ClearPending(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending`)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return tag.RowsAffected(), nil
}
