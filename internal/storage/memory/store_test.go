package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/models"
)

func TestStore_PrivateChatUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	group, a, b := uuid.New(), uuid.New(), uuid.New()
	key := models.PrivatePairKey(a, b)

	first := &models.Chat{ID: uuid.New(), GroupID: group, Type: models.ChatPrivate, PairKey: key}
	require.NoError(t, s.CreateChat(ctx, first))

	dup := &models.Chat{ID: uuid.New(), GroupID: group, Type: models.ChatPrivate, PairKey: key}
	err := s.CreateChat(ctx, dup)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	found, err := s.FindPrivateChat(ctx, group, models.PrivatePairKey(b, a))
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestStore_ListMessagesOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	chat := &models.Chat{ID: uuid.New(), GroupID: uuid.New(), Type: models.ChatGeneral}
	require.NoError(t, s.CreateChat(ctx, chat))

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// same timestamp: insertion sequence breaks the tie
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: uuid.New(), ChatID: chat.ID, Content: string(rune('a' + i)), Timestamp: ts}))
	}
	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: uuid.New(), ChatID: chat.ID, Content: "early", Timestamp: ts.Add(-time.Second)}))

	msgs, err := s.ListMessages(ctx, chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{"early", "a", "b", "c"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content, msgs[3].Content})

	after, err := s.ListMessages(ctx, chat.ID, msgs[1].Seq, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
}

func TestStore_UpdateMessageAbortKeepsRow(t *testing.T) {
	s := New()
	ctx := context.Background()
	chat := &models.Chat{ID: uuid.New(), GroupID: uuid.New(), Type: models.ChatGeneral}
	require.NoError(t, s.CreateChat(ctx, chat))
	m := &models.Message{ID: uuid.New(), ChatID: chat.ID, Content: "original"}
	require.NoError(t, s.AppendMessage(ctx, m))

	_, err := s.UpdateMessage(ctx, m.ID, func(cur *models.Message) (*models.MessageEdit, error) {
		cur.Content = "changed"
		return nil, apperr.Permission("test", "abort")
	})
	assert.ErrorIs(t, err, apperr.ErrPermission)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestStore_ClearEntriesOnlyTouchesOneChat(t *testing.T) {
	s := New()
	ctx := context.Background()
	chatA, chatB, user := uuid.New(), uuid.New(), uuid.New()

	_, err := s.AppendEntry(ctx, &models.ModerationLogEntry{ID: uuid.New(), ChatID: chatA, TargetUserID: user, Action: models.ActionWarnUser}, nil)
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, &models.ModerationLogEntry{ID: uuid.New(), ChatID: chatB, TargetUserID: user, Action: models.ActionWarnUser}, nil)
	require.NoError(t, err)

	n, err := s.ClearEntries(ctx, chatA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := s.ListEntries(ctx, chatB, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestBroker_SubscribeAndCancel(t *testing.T) {
	b := NewBroker()
	chatID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, chatID)
	require.NoError(t, err)
	all, err := b.SubscribeAll(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, uuid.New(), models.MessageEvent{Event: models.EventMessageNew}))
	require.NoError(t, b.Publish(ctx, chatID, models.MessageEvent{Event: models.EventMessageEdited}))

	select {
	case ev := <-ch:
		assert.Equal(t, models.EventMessageEdited, ev.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat event")
	}
	assert.Len(t, all, 2)

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after cancel")
	}
}

func TestStore_ListMessagesCursorFollowsOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	chat := &models.Chat{ID: uuid.New(), GroupID: uuid.New(), Type: models.ChatGeneral}
	require.NoError(t, s.CreateChat(ctx, chat))

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := &models.Message{ID: uuid.New(), ChatID: chat.ID, Content: "late", Timestamp: ts.Add(time.Millisecond)}
	early := &models.Message{ID: uuid.New(), ChatID: chat.ID, Content: "early", Timestamp: ts}
	require.NoError(t, s.AppendMessage(ctx, late))
	require.NoError(t, s.AppendMessage(ctx, early))

	first, err := s.ListMessages(ctx, chat.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "early", first[0].Content)

	second, err := s.ListMessages(ctx, chat.ID, first[0].Seq, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "late", second[0].Content)

	rest, err := s.ListMessages(ctx, chat.ID, second[0].Seq, 1)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestStore_AppendDeletion(t *testing.T) {
	s := New()
	ctx := context.Background()
	chat := &models.Chat{ID: uuid.New(), GroupID: uuid.New(), Type: models.ChatGeneral}
	require.NoError(t, s.CreateChat(ctx, chat))
	msg := &models.Message{ID: uuid.New(), ChatID: chat.ID, SenderID: uuid.New(), Content: "x", Timestamp: time.Now()}
	require.NoError(t, s.AppendMessage(ctx, msg))

	del := func(m *models.Message) (bool, error) {
		if m.IsDeleted {
			return false, nil
		}
		m.IsDeleted = true
		return true, nil
	}
	entry := func() *models.ModerationLogEntry {
		return &models.ModerationLogEntry{ID: uuid.New(), ChatID: chat.ID, MessageID: &msg.ID, Action: models.ActionDeleteMessage, TargetUserID: msg.SenderID}
	}

	m, written, err := s.AppendDeletion(ctx, msg.ID, entry(), del)
	require.NoError(t, err)
	assert.True(t, m.IsDeleted)
	assert.Len(t, written, 1)

	_, written, err = s.AppendDeletion(ctx, msg.ID, entry(), del)
	require.NoError(t, err)
	assert.Empty(t, written)

	entries, err := s.ListEntries(ctx, chat.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, _, err = s.AppendDeletion(ctx, uuid.New(), entry(), del)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
