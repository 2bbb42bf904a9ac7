// Package memory keeps every fan-chat record in process memory. It backs the
// tests and ENV=memory development runs; one mutex serializes all writes, which
// gives each method the same all-or-nothing behaviour as a Postgres transaction.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

var (
	_ storage.ChatStore    = (*Store)(nil)
	_ storage.MessageStore = (*Store)(nil)
	_ storage.LedgerStore  = (*Store)(nil)
	_ storage.ReportStore  = (*Store)(nil)
	_ storage.GroupStore   = (*Store)(nil)
	_ storage.UserStore    = (*Store)(nil)
)

type Store struct {
	mu sync.RWMutex

	chats map[uuid.UUID]*models.Chat

	messages   map[uuid.UUID]*models.Message
	chatMsgs   map[uuid.UUID][]uuid.UUID
	edits      map[uuid.UUID][]models.MessageEdit
	messageSeq int64

	entries  []models.ModerationLogEntry
	entrySeq int64
	words    map[uuid.UUID]map[string]models.BannedWord

	reports map[uuid.UUID]*models.Report

	roles  map[uuid.UUID]map[uuid.UUID]models.GroupRole
	admins map[uuid.UUID]bool

	users   map[uuid.UUID]*models.FanProfile
	byEmail map[string]uuid.UUID
}

func New() *Store {
	return &Store{
		chats:    make(map[uuid.UUID]*models.Chat),
		messages: make(map[uuid.UUID]*models.Message),
		chatMsgs: make(map[uuid.UUID][]uuid.UUID),
		edits:    make(map[uuid.UUID][]models.MessageEdit),
		words:    make(map[uuid.UUID]map[string]models.BannedWord),
		reports:  make(map[uuid.UUID]*models.Report),
		roles:    make(map[uuid.UUID]map[uuid.UUID]models.GroupRole),
		admins:   make(map[uuid.UUID]bool),
		users:    make(map[uuid.UUID]*models.FanProfile),
		byEmail:  make(map[string]uuid.UUID),
	}
}

func (s *Store) Close() error { return nil }

// Chats

func copyChat(c *models.Chat) *models.Chat {
	out := *c
	out.Participants = append([]uuid.UUID(nil), c.Participants...)
	out.ModeratorIDs = append([]uuid.UUID(nil), c.ModeratorIDs...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func (s *Store) CreateChat(ctx context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; ok {
		return apperr.Conflict("memory.CreateChat", "chat %s already exists", chat.ID)
	}
	if chat.PairKey != "" {
		for _, c := range s.chats {
			if c.GroupID == chat.GroupID && c.PairKey == chat.PairKey && !c.IsDeleted {
				return apperr.Conflict("memory.CreateChat", "private chat already exists")
			}
		}
	}
	s.chats[chat.ID] = copyChat(chat)
	return nil
}

func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, apperr.NotFound("memory.GetChat", "chat not found")
	}
	return copyChat(c), nil
}

func (s *Store) FindPrivateChat(ctx context.Context, groupID uuid.UUID, pairKey string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chats {
		if c.GroupID == groupID && c.PairKey == pairKey && !c.IsDeleted {
			return copyChat(c), nil
		}
	}
	return nil, apperr.NotFound("memory.FindPrivateChat", "chat not found")
}

func (s *Store) ListChatsByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []models.Chat{}
	for _, c := range s.chats {
		if c.GroupID == groupID {
			res = append(res, *copyChat(c))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (s *Store) UpdateModerators(ctx context.Context, chatID uuid.UUID, fn storage.ModeratorMutation) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("memory.UpdateModerators", "chat not found")
	}
	ids, err := fn(copyChat(c))
	if err != nil {
		return nil, err
	}
	c.ModeratorIDs = append([]uuid.UUID(nil), ids...)
	return copyChat(c), nil
}

func (s *Store) UpdateLastMessage(ctx context.Context, chatID uuid.UUID, summary *models.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return apperr.NotFound("memory.UpdateLastMessage", "chat not found")
	}
	if summary != nil {
		lm := *summary
		c.LastMessage = &lm
		c.UpdatedAt = summary.Timestamp
	}
	return nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID, actorID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return apperr.NotFound("memory.DeleteChat", "chat not found")
	}
	c.IsDeleted = true
	c.UpdatedAt = at
	for _, id := range s.chatMsgs[chatID] {
		m := s.messages[id]
		if m.IsDeleted {
			continue
		}
		m.IsDeleted = true
		by, when := actorID, at
		m.DeletedBy = &by
		m.DeletedAt = &when
	}
	return nil
}

// Messages

func copyMessage(m *models.Message) *models.Message {
	out := *m
	return &out
}

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ChatID]; !ok {
		return apperr.NotFound("memory.AppendMessage", "chat not found")
	}
	s.messageSeq++
	m.Seq = s.messageSeq
	s.messages[m.ID] = copyMessage(m)
	s.chatMsgs[m.ChatID] = append(s.chatMsgs[m.ChatID], m.ID)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("memory.GetMessage", "message not found")
	}
	return copyMessage(m), nil
}

func (s *Store) UpdateMessage(ctx context.Context, id uuid.UUID, fn storage.MessageMutation) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[id]
	if !ok {
		return nil, apperr.NotFound("memory.UpdateMessage", "message not found")
	}
	work := copyMessage(cur)
	edit, err := fn(work)
	if err != nil {
		return nil, err
	}
	s.messages[id] = work
	if edit != nil {
		s.edits[id] = append(s.edits[id], *edit)
	}
	return copyMessage(work), nil
}

func messageBefore(a, b *models.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var anchor *models.Message
	if afterSeq > 0 {
		for _, id := range s.chatMsgs[chatID] {
			if m := s.messages[id]; m.Seq == afterSeq {
				anchor = m
				break
			}
		}
	}

	res := []models.Message{}
	for _, id := range s.chatMsgs[chatID] {
		m := s.messages[id]
		switch {
		case anchor != nil:
			if !messageBefore(anchor, m) {
				continue
			}
		case m.Seq <= afterSeq:
			continue
		}
		res = append(res, *m)
	}
	sort.SliceStable(res, func(i, j int) bool { return messageBefore(&res[i], &res[j]) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) ListEdits(ctx context.Context, messageID uuid.UUID) ([]models.MessageEdit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MessageEdit{}, s.edits[messageID]...), nil
}

// Ledger

func (s *Store) appendEntryLocked(e *models.ModerationLogEntry) {
	s.entrySeq++
	e.Seq = s.entrySeq
	s.entries = append(s.entries, *e)
}

func (s *Store) userEntriesLocked(chatID, userID uuid.UUID) []models.ModerationLogEntry {
	res := []models.ModerationLogEntry{}
	for _, e := range s.entries {
		if e.ChatID == chatID && e.TargetUserID == userID {
			res = append(res, e)
		}
	}
	sortAscending(res)
	return res
}

func sortAscending(entries []models.ModerationLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

func (s *Store) AppendEntry(ctx context.Context, e *models.ModerationLogEntry, followUp storage.FollowUp) ([]models.ModerationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEntryLocked(e)
	written := []models.ModerationLogEntry{*e}
	if followUp != nil {
		if extra := followUp(s.userEntriesLocked(e.ChatID, e.TargetUserID)); extra != nil {
			s.appendEntryLocked(extra)
			written = append(written, *extra)
		}
	}
	return written, nil
}

func (s *Store) AppendDeletion(ctx context.Context, messageID uuid.UUID, e *models.ModerationLogEntry, fn storage.DeleteMutation) (*models.Message, []models.ModerationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[messageID]
	if !ok {
		return nil, nil, apperr.NotFound("memory.AppendDeletion", "message not found")
	}
	work := copyMessage(cur)
	changed, err := fn(work)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return copyMessage(cur), []models.ModerationLogEntry{}, nil
	}
	s.messages[messageID] = work
	s.appendEntryLocked(e)
	return copyMessage(work), []models.ModerationLogEntry{*e}, nil
}

func (s *Store) ListEntries(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ModerationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []models.ModerationLogEntry{}
	for _, e := range s.entries {
		if e.ChatID == chatID {
			res = append(res, e)
		}
	}
	sortAscending(res)
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) ListUserEntries(ctx context.Context, chatID, userID uuid.UUID) ([]models.ModerationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userEntriesLocked(chatID, userID), nil
}

func (s *Store) ClearEntries(ctx context.Context, chatID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.ChatID == chatID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *Store) AddBannedWord(ctx context.Context, chatID uuid.UUID, word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := strings.ToLower(word)
	if s.words[chatID] == nil {
		s.words[chatID] = make(map[string]models.BannedWord)
	}
	if _, ok := s.words[chatID][w]; ok {
		return nil
	}
	s.words[chatID][w] = models.BannedWord{ID: uuid.New(), ChatID: chatID, Word: w, CreatedAt: time.Now()}
	return nil
}

func (s *Store) RemoveBannedWord(ctx context.Context, chatID uuid.UUID, word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.words[chatID], strings.ToLower(word))
	return nil
}

func (s *Store) BannedWords(ctx context.Context, chatID uuid.UUID) ([]models.BannedWord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []models.BannedWord{}
	for _, w := range s.words[chatID] {
		res = append(res, w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Word < res[j].Word })
	return res, nil
}

// Reports

func (s *Store) CreateReport(ctx context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("memory.GetReport", "report not found")
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListReports(ctx context.Context, groupID uuid.UUID, status models.ReportStatus) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := []models.Report{}
	for _, r := range s.reports {
		if r.GroupID == groupID && r.Status == status {
			res = append(res, *r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

func (s *Store) UpdateReport(ctx context.Context, id uuid.UUID, fn storage.ReportMutation) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("memory.UpdateReport", "report not found")
	}
	work := *r
	if err := fn(&work); err != nil {
		return nil, err
	}
	s.reports[id] = &work
	cp := work
	return &cp, nil
}

// Groups

func (s *Store) GroupRole(ctx context.Context, groupID, userID uuid.UUID) (models.GroupRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[groupID][userID], nil
}

func (s *Store) SetGroupRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[groupID] == nil {
		s.roles[groupID] = make(map[uuid.UUID]models.GroupRole)
	}
	if role == models.RoleNone {
		delete(s.roles[groupID], userID)
		return nil
	}
	s.roles[groupID][userID] = role
	return nil
}

func (s *Store) IsAppAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[userID], nil
}

// SetAppAdmin grants or revokes the main-app administrator role.
func (s *Store) SetAppAdmin(userID uuid.UUID, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if admin {
		s.admins[userID] = true
		return
	}
	delete(s.admins, userID)
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.FanProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return apperr.Conflict("memory.CreateUser", "email already registered")
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.FanProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("memory.GetUser", "user not found")
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.FanProfile, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("memory.GetUserByEmail", "user not found")
	}
	return s.GetUser(ctx, id)
}
