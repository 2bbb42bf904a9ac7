// Package reports queues user reports about messages for moderator review.
// Reports are advisory: resolving one never changes chat state.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

// Limiter throttles report submission per user.
type Limiter interface {
	AllowAction(ctx context.Context, userID uuid.UUID, action string, perMinute, burst int) (bool, error)
}

type Queue struct {
	store    storage.ReportStore
	messages storage.MessageStore
	chats    storage.ChatStore
	policy   *access.Policy
	limiter  Limiter
	rules    config.ModerationPolicy
	now      func() time.Time
}

type Deps struct {
	Store    storage.ReportStore
	Messages storage.MessageStore
	Chats    storage.ChatStore
	Policy   *access.Policy
	// Limiter may be nil
	Limiter Limiter
	Rules   config.ModerationPolicy
}

func NewQueue(d Deps) *Queue {
	return &Queue{
		store:    d.Store,
		messages: d.Messages,
		chats:    d.Chats,
		policy:   d.Policy,
		limiter:  d.Limiter,
		rules:    d.Rules,
		now:      d.Policy.Now,
	}
}

// Submit files a report about a message the reporter can read.
func (q *Queue) Submit(ctx context.Context, reporterID uuid.UUID, req models.SubmitReportRequest) (*models.Report, error) {
	const op = "reports.Submit"

	if !req.Reason.Valid() {
		return nil, apperr.Validation(op, "unknown reason %q", req.Reason)
	}
	desc := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(desc) > q.rules.MaxReportDescription {
		return nil, apperr.Validation(op, "description exceeds %d characters", q.rules.MaxReportDescription)
	}

	msg, err := q.messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == reporterID {
		return nil, apperr.Validation(op, "cannot report your own message")
	}
	chat, err := q.chats.GetChat(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}
	ok, err := q.policy.CanRead(ctx, reporterID, chat)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission(op, "cannot report messages in this chat")
	}

	if q.limiter != nil && q.rules.ReportRatePerMinute > 0 {
		allowed, err := q.limiter.AllowAction(ctx, reporterID, "report", q.rules.ReportRatePerMinute, q.rules.ReportRatePerMinute)
		if err != nil {
			logger.Errorf("report rate limiter failed: %v", err)
		} else if !allowed {
			return nil, apperr.Permission(op, "too many reports, try again later")
		}
	}

	report := &models.Report{
		ID:          uuid.New(),
		GroupID:     chat.GroupID,
		ChatID:      chat.ID,
		MessageID:   msg.ID,
		ReporterID:  reporterID,
		Reason:      req.Reason,
		Description: desc,
		Status:      models.ReportPending,
		Timestamp:   q.now(),
	}
	if err := q.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	logger.Infof("report %s filed on message %s (%s)", report.ID, msg.ID, report.Reason)
	return report, nil
}

// ListPending returns a group's open reports, oldest first. Group
// moderators only; reports from chats the actor cannot moderate, such as
// private chats, are left out.
func (q *Queue) ListPending(ctx context.Context, actorID, groupID uuid.UUID) ([]models.Report, error) {
	perms := q.policy.Permissions()
	ok, err := perms.IsGroupModerator(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission("reports.ListPending", "moderator role required")
	}
	list, err := q.store.ListReports(ctx, groupID, models.ReportPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	moderates := make(map[uuid.UUID]bool)
	visible := make([]models.Report, 0, len(list))
	for _, r := range list {
		allowed, seen := moderates[r.ChatID]
		if !seen {
			chat, err := q.chats.GetChat(ctx, r.ChatID)
			if err != nil {
				return nil, err
			}
			if allowed, err = perms.IsModerator(ctx, actorID, chat); err != nil {
				return nil, err
			}
			moderates[r.ChatID] = allowed
		}
		if allowed {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// Resolve closes a pending report as reviewed or dismissed.
func (q *Queue) Resolve(ctx context.Context, reportID, actorID uuid.UUID, outcome models.ReportStatus) (*models.Report, error) {
	const op = "reports.Resolve"

	if outcome != models.ReportReviewed && outcome != models.ReportDismissed {
		return nil, apperr.Validation(op, "outcome must be reviewed or dismissed")
	}
	current, err := q.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	chat, err := q.chats.GetChat(ctx, current.ChatID)
	if err != nil {
		return nil, err
	}
	ok, err := q.policy.Permissions().IsModerator(ctx, actorID, chat)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission(op, "moderator role required")
	}

	now := q.now()
	return q.store.UpdateReport(ctx, reportID, func(r *models.Report) error {
		if r.Status != models.ReportPending {
			return apperr.Conflict(op, "report already %s", r.Status)
		}
		r.Status = outcome
		r.ResolvedBy = &actorID
		r.ResolvedAt = &now
		return nil
	})
}
