package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

type ReportRepository struct {
	db *database.DB
}

func NewReportRepository(db *database.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, group_id, chat_id, message_id, reporter_id, reason, description,
	status, resolved_by, resolved_at, timestamp`

func scanReport(row scanner) (*models.Report, error) {
	rep := &models.Report{}
	err := row.Scan(
		&rep.ID,
		&rep.GroupID,
		&rep.ChatID,
		&rep.MessageID,
		&rep.ReporterID,
		&rep.Reason,
		&rep.Description,
		&rep.Status,
		&rep.ResolvedBy,
		&rep.ResolvedAt,
		&rep.Timestamp,
	)
	return rep, err
}

func (r *ReportRepository) CreateReport(ctx context.Context, rep *models.Report) error {
	query := `
		INSERT INTO reports (id, group_id, chat_id, message_id, reporter_id, reason, description, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx,
		query,
		rep.ID,
		rep.GroupID,
		rep.ChatID,
		rep.MessageID,
		rep.ReporterID,
		string(rep.Reason),
		rep.Description,
		string(rep.Status),
		rep.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (r *ReportRepository) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.GetReport", "report not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rep, nil
}

// ListReports returns a group's reports with the given status, oldest first
func (r *ReportRepository) ListReports(ctx context.Context, groupID uuid.UUID, status models.ReportStatus) ([]models.Report, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports
		WHERE group_id = $1 AND status = $2
		ORDER BY timestamp ASC`, groupID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

// UpdateReport applies fn to the locked row
func (r *ReportRepository) UpdateReport(ctx context.Context, id uuid.UUID, fn storage.ReportMutation) (*models.Report, error) {
	var updated *models.Report
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		rep, err := scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id))
		if err == sql.ErrNoRows {
			return apperr.NotFound("repository.UpdateReport", "report not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock report: %w", err)
		}
		if err := fn(rep); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE reports SET status = $2, resolved_by = $3, resolved_at = $4 WHERE id = $1
		`, rep.ID, string(rep.Status), rep.ResolvedBy, rep.ResolvedAt)
		if err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}
		updated = rep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
