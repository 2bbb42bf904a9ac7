package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/app"
	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage/memory"
)

type received struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func next(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case b := <-c.send:
		var r received
		require.NoError(t, json.Unmarshal(b, &r))
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for websocket event")
	}
	return received{}
}

func quiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected event: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func send(t *testing.T, c *Client, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(inbound{Event: event, Payload: raw})
	require.NoError(t, err)
	c.handleMessage(context.Background(), data)
}

type fixture struct {
	hub      *Hub
	services *app.Services
	store    *memory.Store
	group    uuid.UUID
	mod      uuid.UUID
	fan      uuid.UUID
	chat     *models.Chat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := &fixture{
		hub:   NewHub(),
		store: store,
		group: uuid.New(),
		mod:   uuid.New(),
		fan:   uuid.New(),
		services: app.New(app.Deps{
			Stores: app.MemoryStores(store),
			Policy: config.DefaultModerationPolicy(),
		}),
	}
	require.NoError(t, store.SetGroupRole(ctx, f.group, f.mod, models.RoleModerator))
	require.NoError(t, store.SetGroupRole(ctx, f.group, f.fan, models.RoleFan))
	f.services.Ledger.OnRecord(f.hub.NotifyModeration)

	c, err := f.services.Directory.CreateGeneral(ctx, f.mod, f.group, "Away end", false)
	require.NoError(t, err)
	f.chat = c
	return f
}

func (f *fixture) client(userID uuid.UUID) *Client {
	c := NewClient(f.hub, nil, userID, f.services.Messages, 100)
	f.hub.mu.Lock()
	if f.hub.clients[userID] == nil {
		f.hub.clients[userID] = make(map[*Client]struct{})
	}
	f.hub.clients[userID][c] = struct{}{}
	f.hub.mu.Unlock()
	return c
}

func TestHub_SendToUserReachesEveryConnection(t *testing.T) {
	f := newFixture(t)
	phone := f.client(f.fan)
	laptop := f.client(f.fan)
	other := f.client(f.mod)

	require.NoError(t, f.hub.SendToUser(f.fan, map[string]string{"hello": "world"}))

	for _, c := range []*Client{phone, laptop} {
		select {
		case b := <-c.send:
			assert.JSONEq(t, `{"hello":"world"}`, string(b))
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	quiet(t, other)
}

func TestClient_JoinStreamsRedactedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fan := f.client(f.fan)

	send(t, fan, models.EventChatJoin, models.WSChatPayload{ChatID: f.chat.ID})
	require.True(t, fan.joined(f.chat.ID))

	m, err := f.services.Messages.Append(ctx, f.chat.ID, f.mod, "Kick-off at eight", models.MessageText)
	require.NoError(t, err)

	ev := next(t, fan)
	assert.Equal(t, models.EventMessageNew, ev.Event)
	var got models.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, "Kick-off at eight", got.Content)

	require.NoError(t, f.services.Messages.SoftDelete(ctx, m.ID, f.mod, "typo"))
	ev = next(t, fan)
	assert.Equal(t, models.EventMessageDeleted, ev.Event)
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)
}

func TestClient_JoinDeniedForOutsider(t *testing.T) {
	f := newFixture(t)
	outsider := f.client(uuid.New())

	send(t, outsider, models.EventChatJoin, models.WSChatPayload{ChatID: f.chat.ID})

	ev := next(t, outsider)
	assert.Equal(t, models.EventError, ev.Event)
	var p models.WSErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "permission", p.Code)
	assert.False(t, outsider.joined(f.chat.ID))
}

func TestClient_MessageSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fan := f.client(f.fan)

	send(t, fan, models.EventMessageSend, models.WSMessageSendPayload{ChatID: f.chat.ID, Content: "Up the lads"})
	quiet(t, fan)

	list, err := f.services.Messages.ListOrdered(ctx, f.fan, f.chat.ID, chat.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Up the lads", list[0].Content)

	send(t, fan, models.EventMessageSend, models.WSMessageSendPayload{ChatID: f.chat.ID, Content: "   "})
	ev := next(t, fan)
	assert.Equal(t, models.EventError, ev.Event)
	var p models.WSErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "validation", p.Code)

	send(t, fan, "typing.start", nil)
	assert.Equal(t, models.EventError, next(t, fan).Event)
}

func TestClient_MuteNoticeAndBanDropsStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fan := f.client(f.fan)

	send(t, fan, models.EventChatJoin, models.WSChatPayload{ChatID: f.chat.ID})
	require.True(t, fan.joined(f.chat.ID))

	d := int64(600)
	_, err := f.services.Ledger.Record(ctx, f.chat.ID, f.mod, models.ModerationRequest{
		Action: models.ActionMuteUser, TargetUserID: f.fan, Reason: "flood", DurationSeconds: &d,
	})
	require.NoError(t, err)

	ev := next(t, fan)
	assert.Equal(t, models.EventModerationNotice, ev.Event)
	var notice ModerationNotice
	require.NoError(t, json.Unmarshal(ev.Payload, &notice))
	assert.Equal(t, models.ActionMuteUser, notice.Action)
	require.NotNil(t, notice.Until)
	assert.True(t, fan.joined(f.chat.ID))

	send(t, fan, models.EventMessageSend, models.WSMessageSendPayload{ChatID: f.chat.ID, Content: "let me talk"})
	ev = next(t, fan)
	assert.Equal(t, models.EventError, ev.Event)

	_, err = f.services.Ledger.Record(ctx, f.chat.ID, f.mod, models.ModerationRequest{
		Action: models.ActionBanUser, TargetUserID: f.fan, Reason: "abuse",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventModerationNotice, next(t, fan).Event)
	assert.False(t, fan.joined(f.chat.ID))
}

func TestClient_Leave(t *testing.T) {
	f := newFixture(t)
	fan := f.client(f.fan)

	send(t, fan, models.EventChatJoin, models.WSChatPayload{ChatID: f.chat.ID})
	send(t, fan, models.EventChatLeave, models.WSChatPayload{ChatID: f.chat.ID})
	assert.False(t, fan.joined(f.chat.ID))

	// give the broker time to drop the subscription
	time.Sleep(20 * time.Millisecond)
	_, err := f.services.Messages.Append(context.Background(), f.chat.ID, f.mod, "anyone?", models.MessageText)
	require.NoError(t, err)
	quiet(t, fan)
}

func TestHub_RunLifecycle(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	userID := uuid.New()
	c := NewClient(hub, nil, userID, nil, 1)
	require.True(t, hub.Register(c))
	assert.Eventually(t, func() bool { return hub.IsUserOnline(userID) }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	assert.Eventually(t, func() bool { return !hub.IsUserOnline(userID) }, time.Second, 5*time.Millisecond)
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("client not closed on unregister")
	}

	cancel()
	<-hub.stopped
	assert.False(t, hub.Register(NewClient(hub, nil, userID, nil, 1)))
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "http://anything.test", true},
		{[]string{"*"}, "http://anything.test", true},
		{[]string{"http://fans.test"}, "http://fans.test", true},
		{[]string{"http://fans.test"}, "http://rivals.test", false},
		{[]string{"*.fans.test"}, "https://app.fans.test", true},
		{[]string{"*.fans.test"}, "https://evilfans.test", false},
		{[]string{"http://fans.test"}, "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(tt.allowed, tt.origin), "%v %s", tt.allowed, tt.origin)
	}
}
