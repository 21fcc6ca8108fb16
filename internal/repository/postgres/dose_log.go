package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/medication-api/internal/model"
	apperrors "github.com/jwalitptl/medication-api/pkg/errors"
)

const uniqueViolation = "23505"

type doseLogRepository struct {
	db sqlx.ExtContext
}

type doseLogRow struct {
	ID                  uuid.UUID      `db:"id"`
	MedicationID        uuid.UUID      `db:"medication_id"`
	UserID              uuid.UUID      `db:"user_id"`
	ScheduledTime       time.Time      `db:"scheduled_time"`
	TakenAt             *time.Time     `db:"taken_at"`
	Status              string         `db:"status"`
	ConfirmationMethod  string         `db:"confirmation_method"`
	Notes               string         `db:"notes"`
	SideEffectsReported pq.StringArray `db:"side_effects_reported"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

const doseLogColumns = `id, medication_id, user_id, scheduled_time, taken_at, status,
	confirmation_method, notes, side_effects_reported, created_at, updated_at`

const insertDoseLog = `
	INSERT INTO dose_logs (` + doseLogColumns + `)
	VALUES (
		:id, :medication_id, :user_id, :scheduled_time, :taken_at, :status,
		:confirmation_method, :notes, :side_effects_reported, :created_at, :updated_at
	)
`

func toDoseLogRow(l *model.DoseLog) doseLogRow {
	return doseLogRow{
		ID:                  l.ID,
		MedicationID:        l.MedicationID,
		UserID:              l.UserID,
		ScheduledTime:       l.ScheduledTime,
		TakenAt:             l.TakenAt,
		Status:              string(l.Status),
		ConfirmationMethod:  string(l.ConfirmationMethod),
		Notes:               l.Notes,
		SideEffectsReported: pq.StringArray(append([]string{}, l.SideEffectsReported...)),
		CreatedAt:           l.CreatedAt,
		UpdatedAt:           l.UpdatedAt,
	}
}

func (r doseLogRow) toModel() *model.DoseLog {
	var sideEffects []string
	if len(r.SideEffectsReported) > 0 {
		sideEffects = []string(r.SideEffectsReported)
	}
	return &model.DoseLog{
		ID:                  r.ID,
		MedicationID:        r.MedicationID,
		UserID:              r.UserID,
		ScheduledTime:       r.ScheduledTime,
		TakenAt:             r.TakenAt,
		Status:              model.DoseStatus(r.Status),
		ConfirmationMethod:  model.ConfirmationMethod(r.ConfirmationMethod),
		Notes:               r.Notes,
		SideEffectsReported: sideEffects,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func prepareInsert(l *model.DoseLog) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := time.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
}

// CreatePending relies on the unique (medication_id, scheduled_time) index, so
// concurrent ticks racing on one occurrence write exactly one row.
func (r *doseLogRepository) CreatePending(ctx context.Context, log *model.DoseLog) (bool, error) {
	prepareInsert(log)

	query := insertDoseLog + ` ON CONFLICT (medication_id, scheduled_time) DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, r.db, query, toDoseLogRow(log))
	if err != nil {
		return false, fmt.Errorf("failed to create pending dose log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create pending dose log: %w", err)
	}
	return n == 1, nil
}

func (r *doseLogRepository) Create(ctx context.Context, log *model.DoseLog) error {
	prepareInsert(log)

	if _, err := sqlx.NamedExecContext(ctx, r.db, insertDoseLog, toDoseLogRow(log)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to create dose log: %w", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create dose log: %w", err)
	}
	return nil
}

func (r *doseLogRepository) Update(ctx context.Context, log *model.DoseLog) error {
	query := `
		UPDATE dose_logs SET
			taken_at = :taken_at,
			status = :status,
			confirmation_method = :confirmation_method,
			notes = :notes,
			side_effects_reported = :side_effects_reported,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := sqlx.NamedExecContext(ctx, r.db, query, toDoseLogRow(log))
	if err != nil {
		return fmt.Errorf("failed to update dose log: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *doseLogRepository) GetByOccurrence(ctx context.Context, medicationID uuid.UUID, scheduledTime time.Time) (*model.DoseLog, error) {
	var row doseLogRow
	query := `
		SELECT ` + doseLogColumns + `
		FROM dose_logs
		WHERE medication_id = $1 AND scheduled_time = $2
	`
	err := sqlx.GetContext(ctx, r.db, &row, query, medicationID, scheduledTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dose log: %w", err)
	}
	return row.toModel(), nil
}

func (r *doseLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error) {
	query := `
		SELECT ` + doseLogColumns + `
		FROM dose_logs
		WHERE user_id = $1 AND scheduled_time BETWEEN $2 AND $3
		ORDER BY scheduled_time
	`
	return r.list(ctx, query, userID, start, end)
}

func (r *doseLogRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DoseLog, error) {
	query := `
		SELECT ` + doseLogColumns + `
		FROM dose_logs
		WHERE status = 'pending' AND scheduled_time < $1
		ORDER BY scheduled_time
		LIMIT $2
	`
	return r.list(ctx, query, cutoff, limit)
}

func (r *doseLogRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.DoseLog, error) {
	var rows []doseLogRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dose logs: %w", err)
	}

	logs := make([]*model.DoseLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.toModel())
	}
	return logs, nil
}

func (r *doseLogRepository) MarkMissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE dose_logs
		SET status = 'missed', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark dose missed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark dose missed: %w", err)
	}
	return n == 1, nil
}
