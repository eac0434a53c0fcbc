package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

// SQLiteStore is the default durable store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the SQLite database.
// If dbPath is empty, defaults to "./data/skipper.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/skipper.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}

	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending (
		message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
		enqueued_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append validates and durably appends a message to history.
func (s *SQLiteStore) Append(ctx context.Context, role, content string) (*models.Message, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, msg.ID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// History returns messages in chronological order, windowed by the query.
func (s *SQLiteStore) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	limit := normalizeLimit(q.Limit)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	// ULIDs sort lexicographically in id-assignment order, so cursor
	// windowing and ordering both run on the id column.
	var rows *sql.Rows
	var err error
	newestFirst := true
	switch {
	case q.AfterID != "":
		newestFirst = false
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, created_at FROM messages
			WHERE id > ? ORDER BY id ASC LIMIT ?
		`, q.AfterID, limit+1)
	case q.BeforeID != "":
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, created_at FROM messages
			WHERE id < ? ORDER BY id DESC LIMIT ?
		`, q.BeforeID, limit+1)
	default:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, created_at FROM messages
			ORDER BY id DESC LIMIT ?
		`, limit+1)
	}
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
		// Fetched newest-first; flip to chronological.
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return &HistoryPage{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// Clear removes all history (and, via cascade, all pending envelopes).
func (s *SQLiteStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// EnqueuePending adds a message to the handoff queue. The message must
// already be present in history (write-ahead ordering).
func (s *SQLiteStore) EnqueuePending(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending (message_id, enqueued_at) VALUES (?, ?)
	`, msg.ID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	return nil
}

// ListPending returns all queued envelopes in enqueue order.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]models.PendingEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) RemovePending(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE message_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("remove pending: %w", err)
	}
	return res.RowsAffected()
}

// ClearPending empties the handoff queue.
func (s *SQLiteStore) ClearPending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending`)
	if err != nil {
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	return res.RowsAffected()
}
