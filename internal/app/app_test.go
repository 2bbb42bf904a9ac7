package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage/memory"
)

func TestBotRemovesBannedWordsFromLiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	services := New(Deps{Stores: MemoryStores(store), Policy: config.DefaultModerationPolicy()})

	group, mod, fan := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, store.SetGroupRole(ctx, group, mod, models.RoleModerator))
	require.NoError(t, store.SetGroupRole(ctx, group, fan, models.RoleFan))

	c, err := services.Directory.CreateGeneral(ctx, mod, group, "Derby day", false)
	require.NoError(t, err)
	require.NoError(t, services.Ledger.AddBannedWord(ctx, c.ID, mod, "scalper"))

	done := make(chan error, 1)
	go func() { done <- services.Bot.Run(ctx) }()
	// the bot subscribes asynchronously
	time.Sleep(20 * time.Millisecond)

	clean, err := services.Messages.Append(ctx, c.ID, fan, "What a goal", models.MessageText)
	require.NoError(t, err)
	dirty, err := services.Messages.Append(ctx, c.ID, fan, "Ask the Scalper outside", models.MessageText)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		m, err := store.GetMessage(ctx, dirty.ID)
		return err == nil && m.IsDeleted
	}, time.Second, 10*time.Millisecond)

	list, err := services.Messages.ListOrdered(ctx, fan, c.ID, chat.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, clean.ID, list[0].ID)
	assert.False(t, list[0].IsDeleted)
	assert.True(t, list[1].IsDeleted)
	assert.Empty(t, list[1].Content)

	history, err := services.Ledger.History(ctx, c.ID, mod, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Automated)
	assert.Equal(t, fan, history[0].TargetUserID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}
