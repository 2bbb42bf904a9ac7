package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/moderation"
	"github.com/fanclub/backend/internal/notify"
	"github.com/fanclub/backend/internal/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Publish(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

type env struct {
	store    *memory.Store
	broker   *memory.Broker
	clock    *clock
	notifier *recordingNotifier
	ledger   *moderation.Ledger
	dir      *Directory
	msgs     *Messages

	group uuid.UUID
	mod   uuid.UUID
	userA uuid.UUID
	userB uuid.UUID
	userC uuid.UUID
	admin uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		store:    memory.New(),
		broker:   memory.NewBroker(),
		clock:    &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		group:    uuid.New(),
		mod:      uuid.New(),
		userA:    uuid.New(),
		userB:    uuid.New(),
		userC:    uuid.New(),
		admin:    uuid.New(),
	}
	require.NoError(t, e.store.SetGroupRole(ctx, e.group, e.mod, models.RoleModerator))
	for _, u := range []uuid.UUID{e.userA, e.userB, e.userC} {
		require.NoError(t, e.store.SetGroupRole(ctx, e.group, u, models.RoleFan))
	}
	e.store.SetAppAdmin(e.admin, true)

	policy := config.DefaultModerationPolicy()
	perms := access.NewPermissions(e.store)
	engine := moderation.NewEngine(e.store, memory.NewRestrictionCache(), e.clock.Now)
	e.ledger = moderation.NewLedger(moderation.LedgerDeps{
		Store: e.store, Chats: e.store, Messages: e.store, Users: e.store,
		Perms: perms, Engine: engine, Policy: policy, Now: e.clock.Now,
	})
	e.dir = NewDirectory(e.store, access.NewPolicy(perms, engine, e.clock.Now))
	e.msgs = NewMessages(MessagesDeps{
		Store: e.store, Directory: e.dir, Ledger: e.ledger,
		Broker: e.broker, Notifier: e.notifier, Policy: policy,
	})
	return e
}

func (e *env) general(t *testing.T) *models.Chat {
	t.Helper()
	c, err := e.dir.CreateGeneral(context.Background(), e.mod, e.group, "Matchday", false)
	require.NoError(t, err)
	return c
}

func TestScenario_PrivateChat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.dir.CreatePrivate(ctx, e.userA, e.group, e.userB)
	require.NoError(t, err)
	assert.Len(t, c.Participants, 2)

	_, err = e.msgs.Append(ctx, c.ID, e.userA, "hello", models.MessageText)
	require.NoError(t, err)

	msgs, err := e.msgs.ListOrdered(ctx, e.userB, c.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, e.userA, msgs[0].SenderID)

	_, err = e.msgs.Append(ctx, c.ID, e.userC, "hi", models.MessageText)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = e.msgs.ListOrdered(ctx, e.userC, c.ID, ListOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestScenario_ModeratorDeletesMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	msg1, err := e.msgs.Append(ctx, c.ID, e.userA, "buy followers", models.MessageText)
	require.NoError(t, err)
	require.NoError(t, e.msgs.SoftDelete(ctx, msg1.ID, e.mod, "spam"))

	fanView, err := e.msgs.ListOrdered(ctx, e.userB, c.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, fanView, 1)
	assert.True(t, fanView[0].IsDeleted)
	assert.Empty(t, fanView[0].Content)

	modView, err := e.msgs.ListOrdered(ctx, e.mod, c.ID, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "buy followers", modView[0].Content)

	history, err := e.ledger.History(ctx, c.ID, e.mod, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionDeleteMessage, history[0].Action)
	assert.Equal(t, "spam", history[0].Reason)
	assert.Equal(t, e.userA, history[0].TargetUserID)
}

func TestPrivateChat_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.dir.CreatePrivate(ctx, e.userA, e.group, e.userB)
	require.NoError(t, err)
	second, err := e.dir.CreatePrivate(ctx, e.userB, e.group, e.userA)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = e.dir.CreatePrivate(ctx, e.userA, e.group, e.userA)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPrivateChat_ConcurrentCreateYieldsOneChat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := e.userA, e.userB
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := e.dir.CreatePrivate(ctx, a, e.group, b)
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreate_RoleRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.dir.CreateThemed(ctx, e.userA, e.group, "Tactics", false)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = e.dir.CreateAnnouncement(ctx, e.userA, e.group, "News")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	outsider := uuid.New()
	_, err = e.dir.CreateGeneral(ctx, outsider, e.group, "Hi", false)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = e.dir.CreateGeneral(ctx, e.userA, e.group, "  ", false)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	themed, err := e.dir.CreateThemed(ctx, e.mod, e.group, "Tactics", false)
	require.NoError(t, err)
	assert.True(t, themed.HasModerator(e.mod))

	news, err := e.dir.Create(ctx, e.mod, e.group, models.CreateChatRequest{Type: models.ChatAnnouncement, Name: "News"})
	require.NoError(t, err)
	assert.True(t, news.IsReadOnlyForFans)

	_, err = e.dir.Create(ctx, e.mod, e.group, models.CreateChatRequest{Type: "lobby", Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAnnouncement_FansCannotPost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	news, err := e.dir.CreateAnnouncement(ctx, e.mod, e.group, "News")
	require.NoError(t, err)

	_, err = e.msgs.Append(ctx, news.ID, e.userA, "first!", models.MessageText)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	m, err := e.msgs.Append(ctx, news.ID, e.mod, "Kick-off at 8", models.MessageAnnouncement)
	require.NoError(t, err)
	assert.Equal(t, models.MessageAnnouncement, m.Type)

	// the fan can still read it
	msgs, err := e.msgs.ListOrdered(ctx, e.userA, news.ID, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMixedChat_ParticipantsOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.dir.CreateMixed(ctx, e.userA, e.group, "Away trip", []uuid.UUID{e.userB, e.userB}, false)
	require.NoError(t, err)
	assert.Len(t, c.Participants, 2)

	_, err = e.msgs.Append(ctx, c.ID, e.userB, "bus at 6", models.MessageText)
	require.NoError(t, err)
	_, err = e.msgs.Append(ctx, c.ID, e.userC, "me too", models.MessageText)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = e.dir.CreateMixed(ctx, e.userA, e.group, "Solo", nil, false)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.dir.CreateMixed(ctx, e.userA, e.group, "Ghosts", []uuid.UUID{uuid.New()}, false)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAppend_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	tests := []struct {
		name    string
		content string
		typ     models.MessageType
		want    error
	}{
		{"empty", "   ", models.MessageText, apperr.ErrValidation},
		{"too long", strings.Repeat("a", 501), models.MessageText, apperr.ErrValidation},
		{"unknown type", "x", "sticker", apperr.ErrValidation},
		{"system type", "x", models.MessageSystem, apperr.ErrPermission},
		{"warning by fan", "x", models.MessageWarning, apperr.ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.msgs.Append(ctx, c.ID, e.userA, tt.content, tt.typ)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	m, err := e.msgs.Append(ctx, c.ID, e.userA, strings.Repeat("é", 500), "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, m.Type)
}

func TestAppend_UpdatesLastMessageAndNotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	m, err := e.msgs.Append(ctx, c.ID, e.userA, "goal!", models.MessageText)
	require.NoError(t, err)
	_, err = e.msgs.AppendSystem(ctx, c.ID, "Half time")
	require.NoError(t, err)

	got, err := e.dir.Get(ctx, e.userB, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, models.MessageSystem, got.LastMessage.Type)

	require.Len(t, e.notifier.events, 1)
	assert.Equal(t, notify.Event{ChatID: c.ID, SenderID: e.userA, Content: m.Content, ChatType: models.ChatGeneral}, e.notifier.events[0])
}

func TestAppend_OrderAndRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	var ids []uuid.UUID
	for _, text := range []string{"one", "two", "three"} {
		m, err := e.msgs.Append(ctx, c.ID, e.userA, text, models.MessageText)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	e.clock.Advance(time.Second)
	last, err := e.msgs.Append(ctx, c.ID, e.userB, "four", models.MessageText)
	require.NoError(t, err)
	ids = append(ids, last.ID)

	msgs, err := e.msgs.ListOrdered(ctx, e.userC, c.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
	}

	page, err := e.msgs.ListOrdered(ctx, e.userC, c.ID, ListOptions{AfterSeq: msgs[1].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)
}

func TestAppend_RestrictionsApply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)
	mute := int64(60)

	_, err := e.ledger.Record(ctx, c.ID, e.mod, models.ModerationRequest{
		Action: models.ActionMuteUser, TargetUserID: e.userA, Reason: "cool down", DurationSeconds: &mute,
	})
	require.NoError(t, err)

	_, err = e.msgs.Append(ctx, c.ID, e.userA, "let me talk", models.MessageText)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	e.clock.Advance(time.Minute)
	_, err = e.msgs.Append(ctx, c.ID, e.userA, "thanks", models.MessageText)
	assert.NoError(t, err)
}

func TestEdit_Rules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	m, err := e.msgs.Append(ctx, c.ID, e.userA, "teh score", models.MessageText)
	require.NoError(t, err)

	_, err = e.msgs.Edit(ctx, m.ID, "hijack", e.userB)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	edited, err := e.msgs.Edit(ctx, m.ID, "the score", e.userA)
	require.NoError(t, err)
	assert.Equal(t, "the score", edited.Content)
	require.NotNil(t, edited.EditedAt)

	edits, err := e.msgs.EditHistory(ctx, e.mod, m.ID)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "teh score", edits[0].PreviousContent)

	_, err = e.msgs.EditHistory(ctx, e.userB, m.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	e.clock.Advance(16 * time.Minute)
	_, err = e.msgs.Edit(ctx, m.ID, "late", e.userA)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestEdit_NeverResurrectsDeleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	m, err := e.msgs.Append(ctx, c.ID, e.userA, "oops", models.MessageText)
	require.NoError(t, err)
	require.NoError(t, e.msgs.SoftDelete(ctx, m.ID, e.userA, ""))

	_, err = e.msgs.Edit(ctx, m.ID, "back", e.userA)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	stored, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, "oops", stored.Content)
}

func TestSoftDelete_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	m, err := e.msgs.Append(ctx, c.ID, e.userA, "delete me", models.MessageText)
	require.NoError(t, err)

	require.NoError(t, e.msgs.SoftDelete(ctx, m.ID, e.userA, ""))
	first, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	require.NoError(t, e.msgs.SoftDelete(ctx, m.ID, e.userA, ""))
	require.NoError(t, e.msgs.SoftDelete(ctx, m.ID, e.mod, "again"))
	second, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	history, err := e.ledger.History(ctx, c.ID, e.mod, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSoftDelete_OthersNeedModerator(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)

	m, err := e.msgs.Append(ctx, c.ID, e.userA, "mine", models.MessageText)
	require.NoError(t, err)

	err = e.msgs.SoftDelete(ctx, m.ID, e.userB, "dislike")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	err = e.msgs.SoftDelete(ctx, m.ID, e.mod, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubscribe_StreamsRedactedEvents(t *testing.T) {
	e := newEnv(t)
	c := e.general(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fanStream, err := e.msgs.Subscribe(ctx, e.userB, c.ID)
	require.NoError(t, err)

	m, err := e.msgs.Append(context.Background(), c.ID, e.userA, "live", models.MessageText)
	require.NoError(t, err)
	require.NoError(t, e.msgs.SoftDelete(context.Background(), m.ID, e.mod, "off-topic"))

	ev := receive(t, fanStream)
	assert.Equal(t, models.EventMessageNew, ev.Event)
	assert.Equal(t, "live", ev.Message.Content)

	ev = receive(t, fanStream)
	assert.Equal(t, models.EventMessageDeleted, ev.Event)
	assert.True(t, ev.Message.IsDeleted)
	assert.Empty(t, ev.Message.Content)

	cancel()
	for range fanStream {
	}
}

func TestSubscribe_RequiresRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, err := e.dir.CreatePrivate(ctx, e.userA, e.group, e.userB)
	require.NoError(t, err)

	_, err = e.msgs.Subscribe(ctx, e.userC, c.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func receive(t *testing.T, ch <-chan models.MessageEvent) models.MessageEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.MessageEvent{}
}

func TestDirectory_ListVisibleAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	general := e.general(t)
	private, err := e.dir.CreatePrivate(ctx, e.userA, e.group, e.userB)
	require.NoError(t, err)
	_, err = e.msgs.Append(ctx, general.ID, e.userA, "hey", models.MessageText)
	require.NoError(t, err)

	visible, err := e.dir.ListVisible(ctx, e.group, e.userC)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, general.ID, visible[0].ID)

	visible, err = e.dir.ListVisible(ctx, e.group, e.userA)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	assert.ErrorIs(t, e.dir.Delete(ctx, general.ID, e.userA), apperr.ErrPermission)
	require.NoError(t, e.dir.Delete(ctx, private.ID, e.admin))
	require.NoError(t, e.dir.Delete(ctx, general.ID, e.mod))

	visible, err = e.dir.ListVisible(ctx, e.group, e.userA)
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = e.dir.Get(ctx, e.userA, general.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.msgs.Append(ctx, general.ID, e.userA, "anyone?", models.MessageText)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDirectory_ModeratorManagement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, err := e.dir.CreateGeneral(ctx, e.userA, e.group, "Fan art", false)
	require.NoError(t, err)

	_, err = e.dir.AddModerator(ctx, c.ID, e.userB, e.userC)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	c, err = e.dir.AddModerator(ctx, c.ID, e.userA, e.userB)
	require.NoError(t, err)
	assert.True(t, c.HasModerator(e.userB))

	m, err := e.msgs.Append(ctx, c.ID, e.userC, "hmm", models.MessageText)
	require.NoError(t, err)
	require.NoError(t, e.msgs.SoftDelete(ctx, m.ID, e.userB, "off-topic"))

	_, err = e.dir.RemoveModerator(ctx, c.ID, e.userA, e.userB)
	require.NoError(t, err)

	m2, err := e.msgs.Append(ctx, c.ID, e.userC, "hmm again", models.MessageText)
	require.NoError(t, err)
	err = e.msgs.SoftDelete(ctx, m2.ID, e.userB, "off-topic")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	private, err := e.dir.CreatePrivate(ctx, e.userA, e.group, e.userB)
	require.NoError(t, err)
	_, err = e.dir.AddModerator(ctx, private.ID, e.userA, e.userC)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDirectory_ConcurrentModeratorGrantsAllKept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, err := e.dir.CreateGeneral(ctx, e.userA, e.group, "Tactics", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, u := range []uuid.UUID{e.userB, e.userC, e.mod} {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			_, err := e.dir.AddModerator(ctx, c.ID, e.userA, u)
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	got, err := e.dir.Get(ctx, e.userA, c.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{e.userB, e.userC, e.mod}, got.ModeratorIDs)

	// granting twice keeps one entry
	got, err = e.dir.AddModerator(ctx, c.ID, e.userA, e.userB)
	require.NoError(t, err)
	assert.Len(t, got.ModeratorIDs, 3)
}

func TestListOrdered_PagingSurvivesStampInversion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.general(t)
	t0 := e.clock.Now()

	// stamped later but stored first, as with two nodes racing
	late := &models.Message{ID: uuid.New(), ChatID: c.ID, SenderID: e.userA, Content: "late", Type: models.MessageText, Timestamp: t0.Add(time.Millisecond)}
	early := &models.Message{ID: uuid.New(), ChatID: c.ID, SenderID: e.userB, Content: "early", Type: models.MessageText, Timestamp: t0}
	require.NoError(t, e.store.AppendMessage(ctx, late))
	require.NoError(t, e.store.AppendMessage(ctx, early))
	require.Greater(t, early.Seq, late.Seq)

	var seen []string
	opts := ListOptions{Limit: 1}
	for i := 0; i < 5; i++ {
		page, err := e.msgs.ListOrdered(ctx, e.userC, c.ID, opts)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].Content)
		opts.AfterSeq = page[0].Seq
	}
	assert.Equal(t, []string{"early", "late"}, seen)
}
