// Package conversation persists chat conversations and their messages.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llmgateway/internal/core"
)

// ErrNotFound indicates a requested conversation was not found.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a titled thread of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one stored turn of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           core.Role `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store defines conversation persistence. Conversations are listed most
// recently updated first; messages are listed in append order.
type Store interface {
	CreateConversation(ctx context.Context, title *string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	// UpdateConversation replaces the title; nil clears it.
	UpdateConversation(ctx context.Context, id string, title *string) (*Conversation, error)
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessages stores msgs after any existing messages and bumps the
	// conversation's UpdatedAt.
	AppendMessages(ctx context.Context, conversationID string, msgs []core.ChatMessage) ([]Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	Close() error
}

// now is the store clock. Timestamps are kept at millisecond precision,
// the coarsest resolution among the backends.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newID() string {
	return uuid.NewString()
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

func newConversation(title *string) *Conversation {
	ts := now()
	return &Conversation{
		ID:        newID(),
		Title:     cloneTitle(title),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// buildMessages assigns ids and timestamps to msgs.
func buildMessages(conversationID string, msgs []core.ChatMessage, ts time.Time) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		out = append(out, Message{
			ID:             newID(),
			ConversationID: conversationID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      ts,
		})
	}
	return out, nil
}

func cloneTitle(title *string) *string {
	if title == nil {
		return nil
	}
	t := *title
	return &t
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Title = cloneTitle(c.Title)
	return &out
}
