package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"llmgateway/internal/core"
)

// PostgreSQLStore stores conversations in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the conversation tables and indexes if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			message_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_messages_seq ON conversation_messages(conversation_id, seq)",
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create conversation schema: %w", err)
		}
	}

	return &PostgreSQLStore{pool: pool}, nil
}

func (s *PostgreSQLStore) CreateConversation(ctx context.Context, title *string) (*Conversation, error) {
	c := newConversation(title)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *PostgreSQLStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, "SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1", id)
	c, err := scanPostgresConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

func (s *PostgreSQLStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	limit = normalizeLimit(limit)
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]*Conversation, 0, limit)
	for rows.Next() {
		c, err := scanPostgresConversation(rows)
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

func (s *PostgreSQLStore) UpdateConversation(ctx context.Context, id string, title *string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations SET title = $1, updated_at = $2
		WHERE id = $3
		RETURNING id, title, created_at, updated_at
	`, title, now(), id)
	c, err := scanPostgresConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}

// DeleteConversation relies on ON DELETE CASCADE for the messages.
func (s *PostgreSQLStore) DeleteConversation(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgreSQLStore) AppendMessages(ctx context.Context, conversationID string, msgs []core.ChatMessage) ([]Message, error) {
	ts := now()
	built, err := buildMessages(conversationID, msgs, ts)
	if err != nil {
		return nil, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int64
		err := tx.QueryRow(ctx, `
			UPDATE conversations
			SET updated_at = $1, message_count = message_count + $2
			WHERE id = $3
			RETURNING message_count
		`, ts, len(built), conversationID).Scan(&count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("reserve message sequence: %w", err)
		}

		if len(built) == 0 {
			return nil
		}
		first := count - int64(len(built))
		batch := &pgx.Batch{}
		for i, m := range built {
			batch.Queue(`
				INSERT INTO conversation_messages (id, conversation_id, seq, role, content, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, m.ID, m.ConversationID, first+int64(i), string(m.Role), m.Content, ts)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return built, nil
}

func (s *PostgreSQLStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = core.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}

func scanPostgresConversation(row pgx.Row) (*Conversation, error) {
	var (
		c                    Conversation
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return &c, nil
}
