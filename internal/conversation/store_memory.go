package conversation

import (
	"context"
	"sort"
	"sync"

	"llmgateway/internal/core"
)

// MemoryStore keeps conversations in process memory.
// Data survives across requests but not process restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, title *string) (*Conversation, error) {
	c := newConversation(title)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return cloneConversation(c), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, limit int) ([]*Conversation, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	all := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, cloneConversation(c))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, id string, title *string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Title = cloneTitle(title)
	c.UpdatedAt = now()
	return cloneConversation(c), nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs []core.ChatMessage) ([]Message, error) {
	ts := now()
	built, err := buildMessages(conversationID, msgs, ts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	s.messages[conversationID] = append(s.messages[conversationID], built...)
	c.UpdatedAt = ts
	return built, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

// Close releases resources (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}
