package models

import (
	"time"

	"github.com/google/uuid"
)

type ReportReason string

const (
	ReportSpam           ReportReason = "spam"
	ReportHarassment     ReportReason = "harassment"
	ReportInappropriate  ReportReason = "inappropriate"
	ReportMisinformation ReportReason = "misinformation"
	ReportOther          ReportReason = "other"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReportSpam, ReportHarassment, ReportInappropriate, ReportMisinformation, ReportOther:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportDismissed ReportStatus = "dismissed"
)

// Report is a user complaint about a message, waiting for a moderator.
type Report struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	GroupID     uuid.UUID    `json:"group_id" db:"group_id"`
	ChatID      uuid.UUID    `json:"chat_id" db:"chat_id"`
	MessageID   uuid.UUID    `json:"message_id" db:"message_id"`
	ReporterID  uuid.UUID    `json:"reporter_id" db:"reporter_id"`
	Reason      ReportReason `json:"reason" db:"reason"`
	Description string       `json:"description,omitempty" db:"description"`
	Status      ReportStatus `json:"status" db:"status"`
	ResolvedBy  *uuid.UUID   `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
	Timestamp   time.Time    `json:"timestamp" db:"timestamp"`
}

type SubmitReportRequest struct {
	MessageID   uuid.UUID    `json:"message_id" binding:"required"`
	Reason      ReportReason `json:"reason" binding:"required"`
	Description string       `json:"description"`
}

type ResolveReportRequest struct {
	Outcome ReportStatus `json:"outcome" binding:"required"`
}
