package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

// EventSource streams live message events of every chat.
type EventSource interface {
	SubscribeAll(ctx context.Context) (<-chan models.MessageEvent, error)
}

// Bot watches new messages and enforces banned words and spam limits
// through the ledger.
type Bot struct {
	source EventSource
	words  storage.LedgerStore
	ledger *Ledger
	policy config.ModerationPolicy
	now    func() time.Time

	// recent messages per chat and sender for spam detection
	recentMu sync.Mutex
	recent   map[spamKey][]recentMsg
}

type spamKey struct {
	chatID uuid.UUID
	userID uuid.UUID
}

type recentMsg struct {
	body string
	ts   time.Time
}

func NewBot(source EventSource, words storage.LedgerStore, ledger *Ledger, policy config.ModerationPolicy, now func() time.Time) *Bot {
	if now == nil {
		now = time.Now
	}
	return &Bot{
		source: source,
		words:  words,
		ledger: ledger,
		policy: policy,
		now:    now,
		recent: make(map[spamKey][]recentMsg),
	}
}

// Run processes events until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	ch, err := b.source.SubscribeAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to chat events: %w", err)
	}
	logger.Infof("moderation bot started")
	for ev := range ch {
		if ev.Event != models.EventMessageNew {
			continue
		}
		m := ev.Message
		if err := b.Inspect(ctx, &m); err != nil {
			logger.Errorf("moderation bot: message %s: %v", ev.Message.ID, err)
		}
	}
	logger.Infof("moderation bot stopped")
	return nil
}

// Inspect applies the automatic rules to one new message.
func (b *Bot) Inspect(ctx context.Context, m *models.Message) error {
	if m.Type == models.MessageSystem || m.IsDeleted || m.SenderID == SystemModeratorID {
		return nil
	}

	words, err := b.words.BannedWords(ctx, m.ChatID)
	if err != nil {
		return err
	}
	lower := strings.ToLower(m.Content)
	for _, bw := range words {
		if strings.Contains(lower, bw.Word) {
			_, err := b.ledger.RecordAutomated(ctx, m.ChatID, models.ModerationRequest{
				Action:    models.ActionDeleteMessage,
				MessageID: &m.ID,
				Reason:    fmt.Sprintf("banned word: %s", bw.Word),
			})
			return err
		}
	}

	if b.policy.SpamRepeatLimit <= 0 || !b.isSpam(m) {
		return nil
	}
	mute := int64(b.policy.SpamMuteDuration / time.Second)
	if _, err := b.ledger.RecordAutomated(ctx, m.ChatID, models.ModerationRequest{
		Action:          models.ActionMuteUser,
		TargetUserID:    m.SenderID,
		MessageID:       &m.ID,
		Reason:          "spam: repeated messages",
		DurationSeconds: &mute,
	}); err != nil {
		return err
	}
	_, err = b.ledger.RecordAutomated(ctx, m.ChatID, models.ModerationRequest{
		Action:    models.ActionDeleteMessage,
		MessageID: &m.ID,
		Reason:    "spam: repeated messages",
	})
	return err
}

// isSpam records m and reports whether its sender already repeated the same
// text SpamRepeatLimit times within the window.
func (b *Bot) isSpam(m *models.Message) bool {
	key := spamKey{chatID: m.ChatID, userID: m.SenderID}
	now := b.now()

	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	kept := []recentMsg{}
	repeats := 0
	for _, rm := range b.recent[key] {
		if now.Sub(rm.ts) <= b.policy.SpamWindow {
			kept = append(kept, rm)
			if rm.body == m.Content {
				repeats++
			}
		}
	}
	if repeats >= b.policy.SpamRepeatLimit {
		delete(b.recent, key)
		return true
	}
	b.recent[key] = append(kept, recentMsg{body: m.Content, ts: now})
	return false
}
