package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/app"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/auth"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	t      *testing.T
	store  *memory.Store
	jwt    *auth.JWTService
	router *gin.Engine
	group  uuid.UUID
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.New()
	jwtService := auth.NewJWTService("handler-secret", 1)
	services := app.New(app.Deps{
		Stores: app.MemoryStores(store),
		Policy: config.DefaultModerationPolicy(),
	})
	return &server{
		t:     t,
		store: store,
		jwt:   jwtService,
		group: uuid.New(),
		router: NewRouter(RouterDeps{
			Services:    services,
			Users:       store,
			JWT:         jwtService,
			CORSOrigins: []string{"*"},
		}),
	}
}

// fan creates a user holding role in the test group and returns a token.
func (s *server) fan(nickname string, role models.GroupRole) (uuid.UUID, string) {
	s.t.Helper()
	id := uuid.New()
	require.NoError(s.t, s.store.CreateUser(context.Background(), &models.FanProfile{
		ID: id, Email: nickname + "@fans.test", Nickname: nickname,
	}))
	if role != models.RoleNone {
		require.NoError(s.t, s.store.SetGroupRole(context.Background(), s.group, id, role))
	}
	token, err := s.jwt.GenerateToken(id, nickname+"@fans.test")
	require.NoError(s.t, err)
	return id, token
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("op", "bad"), http.StatusBadRequest},
		{apperr.Permission("op", "no"), http.StatusForbidden},
		{apperr.NotFound("op", "gone"), http.StatusNotFound},
		{apperr.Conflict("op", "dup"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/auth/register", "", gin.H{
		"email": "Fan@Example.com", "password": "supporter1", "nickname": "ultra",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decode[models.LoginResponse](t, w)
	assert.Equal(t, "fan@example.com", reg.User.Email)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = s.do(http.MethodPost, "/auth/register", "", gin.H{
		"email": "fan@example.com", "password": "supporter1", "nickname": "ultra2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "fan@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"email": "fan@example.com", "password": "supporter1"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[models.LoginResponse](t, w)

	w = s.do(http.MethodGet, "/api/v1/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[models.FanProfile](t, w)
	assert.Equal(t, reg.User.ID, me.ID)

	w = s.do(http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatAndMessageRoutes(t *testing.T) {
	s := newServer(t)
	_, modToken := s.fan("captain", models.RoleModerator)
	fanID, fanToken := s.fan("winger", models.RoleFan)
	_, outsiderToken := s.fan("rival", models.RoleNone)

	w := s.do(http.MethodPost, "/api/v1/groups/"+s.group.String()+"/chats", modToken, gin.H{
		"type": "general", "name": "Matchday",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Chat](t, w)
	chatPath := "/api/v1/chats/" + created.ID.String()

	w = s.do(http.MethodGet, "/api/v1/groups/"+s.group.String()+"/chats", fanToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Chat](t, w), 1)

	w = s.do(http.MethodGet, chatPath, outsiderToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, chatPath+"/messages", fanToken, gin.H{"content": "Come on!"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[models.Message](t, w)
	assert.Equal(t, fanID, msg.SenderID)
	assert.Equal(t, models.MessageText, msg.Type)

	w = s.do(http.MethodPost, chatPath+"/messages", fanToken, gin.H{"content": "Official", "type": "announcement"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPut, "/api/v1/messages/"+msg.ID.String(), fanToken, gin.H{"content": "Come on you reds!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Come on you reds!", decode[models.Message](t, w).Content)

	w = s.do(http.MethodGet, "/api/v1/messages/"+msg.ID.String()+"/edits", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	edits := decode[[]models.MessageEdit](t, w)
	require.Len(t, edits, 1)
	assert.Equal(t, "Come on!", edits[0].PreviousContent)

	w = s.do(http.MethodGet, "/api/v1/messages/"+msg.ID.String()+"/edits", fanToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/messages/"+msg.ID.String(), modToken, gin.H{"reason": "off topic"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, chatPath+"/messages?limit=10", fanToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Message](t, w)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDeleted)
	assert.Empty(t, list[0].Content)

	w = s.do(http.MethodGet, "/api/v1/chats/not-a-uuid", fanToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, chatPath, fanToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodDelete, chatPath, modToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, chatPath, modToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModerationRoutes(t *testing.T) {
	s := newServer(t)
	modID, modToken := s.fan("steward", models.RoleModerator)
	fanID, fanToken := s.fan("chanter", models.RoleFan)

	w := s.do(http.MethodPost, "/api/v1/groups/"+s.group.String()+"/chats", modToken, gin.H{
		"type": "general", "name": "Terrace",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	chatPath := "/api/v1/chats/" + decode[models.Chat](t, w).ID.String()

	w = s.do(http.MethodPost, chatPath+"/moderation", fanToken, gin.H{
		"action": "banUser", "target_user_id": modID, "reason": "coup",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, chatPath+"/moderation", modToken, gin.H{
		"action": "muteUser", "target_user_id": fanID, "reason": "flooding", "duration_seconds": 600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	entries := decode[[]models.ModerationLogEntry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "chanter", entries[0].TargetUserName)

	w = s.do(http.MethodPost, chatPath+"/messages", fanToken, gin.H{"content": "still here"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, chatPath+"/restrictions/"+fanID.String(), fanToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Restriction](t, w).IsMuted)

	w = s.do(http.MethodPost, chatPath+"/moderation", modToken, gin.H{
		"action": "muteUser", "target_user_id": fanID, "reason": "no duration",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, chatPath+"/moderation?limit=5", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ModerationLogEntry](t, w), 1)

	w = s.do(http.MethodGet, chatPath+"/moderation?limit=abc", modToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, chatPath+"/banned-words", modToken, gin.H{"word": "Offside"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodGet, chatPath+"/banned-words", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	words := decode[[]models.BannedWord](t, w)
	require.Len(t, words, 1)
	assert.Equal(t, "offside", words[0].Word)
	w = s.do(http.MethodDelete, chatPath+"/banned-words?word=offside", modToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// clearing the ledger is reserved for app admins
	w = s.do(http.MethodDelete, chatPath+"/moderation", modToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportRoutes(t *testing.T) {
	s := newServer(t)
	_, modToken := s.fan("referee", models.RoleModerator)
	_, authorToken := s.fan("troll", models.RoleFan)
	_, reporterToken := s.fan("witness", models.RoleFan)

	w := s.do(http.MethodPost, "/api/v1/groups/"+s.group.String()+"/chats", modToken, gin.H{
		"type": "general", "name": "Pitch",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	chatPath := "/api/v1/chats/" + decode[models.Chat](t, w).ID.String()

	w = s.do(http.MethodPost, chatPath+"/messages", authorToken, gin.H{"content": "buy cheap tickets"})
	require.Equal(t, http.StatusCreated, w.Code)
	msg := decode[models.Message](t, w)

	w = s.do(http.MethodPost, "/api/v1/reports", authorToken, gin.H{"message_id": msg.ID, "reason": "spam"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/reports", reporterToken, gin.H{"message_id": msg.ID, "reason": "spam"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode[models.Report](t, w)
	assert.Equal(t, models.ReportPending, report.Status)

	w = s.do(http.MethodGet, "/api/v1/groups/"+s.group.String()+"/reports", reporterToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/api/v1/groups/"+s.group.String()+"/reports", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Report](t, w), 1)

	resolvePath := "/api/v1/reports/" + report.ID.String() + "/resolve"
	w = s.do(http.MethodPost, resolvePath, modToken, gin.H{"outcome": "reviewed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ReportReviewed, decode[models.Report](t, w).Status)

	w = s.do(http.MethodPost, resolvePath, modToken, gin.H{"outcome": "dismissed"})
	assert.Equal(t, http.StatusConflict, w.Code)
}
