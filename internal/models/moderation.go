package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ModerationAction is the closed set of ledger actions.
type ModerationAction string

const (
	ActionDeleteMessage ModerationAction = "deleteMessage"
	ActionWarnUser      ModerationAction = "warnUser"
	ActionTempBanUser   ModerationAction = "tempBanUser"
	ActionBanUser       ModerationAction = "banUser"
	ActionMuteUser      ModerationAction = "muteUser"
	ActionUnbanUser     ModerationAction = "unbanUser"
	ActionUnmuteUser    ModerationAction = "unmuteUser"
)

func (a ModerationAction) Valid() bool {
	switch a {
	case ActionDeleteMessage, ActionWarnUser, ActionTempBanUser, ActionBanUser,
		ActionMuteUser, ActionUnbanUser, ActionUnmuteUser:
		return true
	}
	return false
}

// NeedsDuration reports whether entries of this action carry a duration.
func (a ModerationAction) NeedsDuration() bool {
	return a == ActionTempBanUser || a == ActionMuteUser
}

// AffectsRestriction reports whether the action changes a user's restriction state.
func (a ModerationAction) AffectsRestriction() bool {
	return a != ActionDeleteMessage
}

// ModerationLogEntry is one append-only row of the moderation ledger.
type ModerationLogEntry struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	Seq             int64            `json:"seq" db:"seq"`
	ChatID          uuid.UUID        `json:"chat_id" db:"chat_id"`
	MessageID       *uuid.UUID       `json:"message_id,omitempty" db:"message_id"`
	Action          ModerationAction `json:"action" db:"action"`
	ModeratorID     uuid.UUID        `json:"moderator_id" db:"moderator_id"`
	ModeratorName   string           `json:"moderator_name" db:"moderator_name"`
	TargetUserID    uuid.UUID        `json:"target_user_id" db:"target_user_id"`
	TargetUserName  string           `json:"target_user_name" db:"target_user_name"`
	Reason          string           `json:"reason" db:"reason"`
	Timestamp       time.Time        `json:"timestamp" db:"timestamp"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Automated       bool             `json:"automated" db:"automated"`
}

// MaxDurationSeconds is the longest duration a time.Duration can hold.
const MaxDurationSeconds = math.MaxInt64 / int64(time.Second)

// Duration returns the entry's duration, or zero when none is set. Values
// beyond MaxDurationSeconds are clamped rather than wrapped.
func (e *ModerationLogEntry) Duration() time.Duration {
	if e.DurationSeconds == nil || *e.DurationSeconds <= 0 {
		return 0
	}
	secs := *e.DurationSeconds
	if secs > MaxDurationSeconds {
		secs = MaxDurationSeconds
	}
	return time.Duration(secs) * time.Second
}

// Restriction is the state derived by folding a user's ledger entries in one chat.
type Restriction struct {
	ChatID       uuid.UUID  `json:"chat_id"`
	UserID       uuid.UUID  `json:"user_id"`
	IsBanned     bool       `json:"is_banned"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	IsMuted      bool       `json:"is_muted"`
	MutedUntil   *time.Time `json:"muted_until,omitempty"`
	WarningCount int        `json:"warning_count"`

	// warnings recorded since the last ban; drives automatic escalation
	PendingWarnings int `json:"pending_warnings"`
}

// BannedAt reports whether a ban is in force at now.
func (r *Restriction) BannedAt(now time.Time) bool {
	if !r.IsBanned {
		return false
	}
	return r.BannedUntil == nil || now.Before(*r.BannedUntil)
}

// PermanentlyBanned reports whether the user holds a ban without expiry.
func (r *Restriction) PermanentlyBanned() bool {
	return r.IsBanned && r.BannedUntil == nil
}

// MutedAt reports whether a mute is in force at now.
func (r *Restriction) MutedAt(now time.Time) bool {
	return r.IsMuted && r.MutedUntil != nil && now.Before(*r.MutedUntil)
}

// At returns the restriction as observed at now, with expired bans and mutes cleared.
func (r Restriction) At(now time.Time) Restriction {
	if r.IsBanned && !r.BannedAt(now) {
		r.IsBanned = false
		r.BannedUntil = nil
	}
	if r.IsMuted && !r.MutedAt(now) {
		r.IsMuted = false
		r.MutedUntil = nil
	}
	return r
}

// BannedWord represents a custom banned word for a chat
type BannedWord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ChatID    uuid.UUID `json:"chat_id" db:"chat_id"`
	Word      string    `json:"word" db:"word"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ModerationRequest struct {
	Action          ModerationAction `json:"action" binding:"required"`
	TargetUserID    uuid.UUID        `json:"target_user_id"`
	MessageID       *uuid.UUID       `json:"message_id,omitempty"`
	Reason          string           `json:"reason"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty"`
}

type BannedWordRequest struct {
	Word string `json:"word" binding:"required"`
}
