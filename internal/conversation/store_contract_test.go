package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/core"
)

// useFakeClock makes every call to now() advance by one second, so ordering
// by timestamp is deterministic.
func useFakeClock(t *testing.T) {
	t.Helper()
	var mu sync.Mutex
	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := now
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
	t.Cleanup(func() { now = prev })
}

func title(s string) *string { return &s }

// runStoreContract exercises behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		useFakeClock(t)
		s := newStore(t)

		created, err := s.CreateConversation(ctx, title("Trip planning"))
		require.NoError(t, err)
		_, err = uuid.Parse(created.ID)
		assert.NoError(t, err, "ids are UUIDs")
		assert.Equal(t, created.CreatedAt, created.UpdatedAt)

		got, err := s.GetConversation(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, got)

		untitled, err := s.CreateConversation(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, untitled.Title)
		assert.NotEqual(t, created.ID, untitled.ID)
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetConversation(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list most recently updated first", func(t *testing.T) {
		useFakeClock(t)
		s := newStore(t)

		a, err := s.CreateConversation(ctx, title("a"))
		require.NoError(t, err)
		b, err := s.CreateConversation(ctx, title("b"))
		require.NoError(t, err)
		c, err := s.CreateConversation(ctx, title("c"))
		require.NoError(t, err)

		_, err = s.UpdateConversation(ctx, a.ID, title("a2"))
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
		assert.Equal(t, "a2", *list[0].Title)

		limited, err := s.ListConversations(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("update", func(t *testing.T) {
		useFakeClock(t)
		s := newStore(t)

		c, err := s.CreateConversation(ctx, title("draft"))
		require.NoError(t, err)

		updated, err := s.UpdateConversation(ctx, c.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, updated.Title)
		assert.Equal(t, c.CreatedAt, updated.CreatedAt)
		assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))

		_, err = s.UpdateConversation(ctx, uuid.NewString(), title("x"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append and list messages", func(t *testing.T) {
		useFakeClock(t)
		s := newStore(t)

		c, err := s.CreateConversation(ctx, nil)
		require.NoError(t, err)

		first, err := s.AppendMessages(ctx, c.ID, []core.ChatMessage{
			{Role: core.RoleSystem, Content: "be brief"},
			{Role: core.RoleUser, Content: "hi"},
		})
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, c.ID, first[0].ConversationID)

		_, err = s.AppendMessages(ctx, c.ID, []core.ChatMessage{{Role: core.RoleAssistant, Content: "Hello!"}})
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"be brief", "hi", "Hello!"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
		assert.Equal(t, core.RoleAssistant, msgs[2].Role)
		assert.Equal(t, first[0].ID, msgs[0].ID)

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, msgs[2].CreatedAt, got.UpdatedAt, "appending bumps the conversation")
	})

	t.Run("append rejects unknown conversation and roles", func(t *testing.T) {
		s := newStore(t)

		_, err := s.AppendMessages(ctx, uuid.NewString(), []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.ListMessages(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		c, err := s.CreateConversation(ctx, nil)
		require.NoError(t, err)
		_, err = s.AppendMessages(ctx, c.ID, []core.ChatMessage{{Role: "tool", Content: "x"}})
		assert.Error(t, err)

		msgs, err := s.ListMessages(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("delete cascades", func(t *testing.T) {
		s := newStore(t)

		doomed, err := s.CreateConversation(ctx, title("doomed"))
		require.NoError(t, err)
		kept, err := s.CreateConversation(ctx, title("kept"))
		require.NoError(t, err)
		for _, id := range []string{doomed.ID, kept.ID} {
			_, err := s.AppendMessages(ctx, id, []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}})
			require.NoError(t, err)
		}

		require.NoError(t, s.DeleteConversation(ctx, doomed.ID))

		_, err = s.GetConversation(ctx, doomed.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.ListMessages(ctx, doomed.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, doomed.ID), ErrNotFound)

		msgs, err := s.ListMessages(ctx, kept.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}
