// Package moderation keeps the append-only moderation ledger and derives
// each user's restriction state from it.
package moderation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

// RestrictionCache holds folded restrictions between ledger writes. Every
// chat carries an epoch; a value loaded under one epoch is only stored back
// while that epoch is still current, so a concurrent invalidation wins.
type RestrictionCache interface {
	LoadRestriction(ctx context.Context, chatID, userID uuid.UUID) (*models.Restriction, int64, error)
	StoreRestriction(ctx context.Context, r models.Restriction, epoch int64) error
	InvalidateChat(ctx context.Context, chatID uuid.UUID) error
}

// Fold derives a restriction from one user's entries in one chat. Entries
// are applied in (timestamp, seq) order whatever order they arrive in; the
// latest ban-class or mute-class entry wins.
func Fold(chatID, userID uuid.UUID, entries []models.ModerationLogEntry) models.Restriction {
	sorted := append([]models.ModerationLogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	r := models.Restriction{ChatID: chatID, UserID: userID}
	for i := range sorted {
		e := &sorted[i]
		if e.ChatID != chatID || e.TargetUserID != userID {
			continue
		}
		switch e.Action {
		case models.ActionWarnUser:
			r.WarningCount++
			r.PendingWarnings++
		case models.ActionBanUser:
			r.IsBanned = true
			r.BannedUntil = nil
			r.PendingWarnings = 0
		case models.ActionTempBanUser:
			until := e.Timestamp.Add(e.Duration())
			r.IsBanned = true
			r.BannedUntil = &until
			r.PendingWarnings = 0
		case models.ActionMuteUser:
			until := e.Timestamp.Add(e.Duration())
			r.IsMuted = true
			r.MutedUntil = &until
		case models.ActionUnbanUser:
			r.IsBanned = false
			r.BannedUntil = nil
		case models.ActionUnmuteUser:
			r.IsMuted = false
			r.MutedUntil = nil
		}
	}
	return r
}

// Engine answers restriction queries by folding the ledger.
type Engine struct {
	store storage.LedgerStore
	cache RestrictionCache
	now   func() time.Time

	// chats whose last invalidation failed; read past the cache until one succeeds
	mu    sync.Mutex
	stale map[uuid.UUID]struct{}
}

// NewEngine builds an engine; cache may be nil.
func NewEngine(store storage.LedgerStore, cache RestrictionCache, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, cache: cache, now: now, stale: make(map[uuid.UUID]struct{})}
}

// Raw returns the folded restriction without applying the clock.
func (e *Engine) Raw(ctx context.Context, chatID, userID uuid.UUID) (models.Restriction, error) {
	var epoch int64
	cacheable := false
	if e.cacheUsable(ctx, chatID) {
		cached, ep, err := e.cache.LoadRestriction(ctx, chatID, userID)
		switch {
		case err != nil:
			logger.Errorf("restriction cache load failed for chat %s: %v", chatID, err)
		case cached != nil:
			return *cached, nil
		default:
			epoch, cacheable = ep, true
		}
	}

	entries, err := e.store.ListUserEntries(ctx, chatID, userID)
	if err != nil {
		return models.Restriction{}, fmt.Errorf("failed to load moderation history: %w", err)
	}
	r := Fold(chatID, userID, entries)

	if cacheable {
		if err := e.cache.StoreRestriction(ctx, r, epoch); err != nil {
			logger.Errorf("restriction cache store failed for chat %s: %v", chatID, err)
		}
	}
	return r, nil
}

// Effective returns the restriction as it stands now: expired temp-bans and
// mutes are reported as lifted.
func (e *Engine) Effective(ctx context.Context, chatID, userID uuid.UUID) (models.Restriction, error) {
	r, err := e.Raw(ctx, chatID, userID)
	if err != nil {
		return r, err
	}
	return r.At(e.now()), nil
}

// Invalidate drops cached restrictions of a chat after its ledger changed.
// On failure the chat bypasses the cache on this engine until a later
// invalidation succeeds.
func (e *Engine) Invalidate(ctx context.Context, chatID uuid.UUID) error {
	if e.cache == nil {
		return nil
	}
	err := e.cache.InvalidateChat(ctx, chatID)

	e.mu.Lock()
	if err != nil {
		e.stale[chatID] = struct{}{}
	} else {
		delete(e.stale, chatID)
	}
	e.mu.Unlock()

	if err != nil {
		logger.Errorf("restriction cache invalidation failed for chat %s: %v", chatID, err)
		return fmt.Errorf("failed to invalidate restriction cache: %w", err)
	}
	return nil
}

func (e *Engine) cacheUsable(ctx context.Context, chatID uuid.UUID) bool {
	if e.cache == nil {
		return false
	}
	e.mu.Lock()
	_, stale := e.stale[chatID]
	e.mu.Unlock()
	if !stale {
		return true
	}
	return e.Invalidate(ctx, chatID) == nil
}
