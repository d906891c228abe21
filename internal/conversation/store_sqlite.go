package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"llmgateway/internal/core"
)

// SQLiteStore stores conversations in SQLite. Timestamps are unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the conversation tables and indexes if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_messages_seq ON conversation_messages(conversation_id, seq)",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create conversation schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, title *string) (*Conversation, error) {
	c := newConversation(title)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.Title, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?", id)
	c, err := scanSQLiteConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]*Conversation, 0, limit)
	for rows.Next() {
		c, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, title *string) (*Conversation, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?
	`, title, now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read update rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes messages explicitly rather than relying on the
// connection having foreign keys enabled.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversation_messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read delete rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, conversationID string, msgs []core.ChatMessage) ([]Message, error) {
	ts := now()
	built, err := buildMessages(conversationID, msgs, ts)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int64
	err = tx.QueryRowContext(ctx, `
		UPDATE conversations
		SET updated_at = ?, message_count = message_count + ?
		WHERE id = ?
		RETURNING message_count
	`, ts.UnixMilli(), len(built), conversationID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reserve message sequence: %w", err)
	}

	first := count - int64(len(built))
	for i, m := range built {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (id, conversation_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.ConversationID, first+int64(i), string(m.Role), m.Content, ts.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return built, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []Message{}
	for rows.Next() {
		var (
			m         Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = core.Role(role)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConversation(row rowScanner) (*Conversation, error) {
	var (
		c                    Conversation
		title                sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		c.Title = &title.String
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &c, nil
}
