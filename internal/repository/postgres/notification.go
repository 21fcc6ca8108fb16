package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medication-api/internal/model"
	apperrors "github.com/jwalitptl/medication-api/pkg/errors"
)

type notificationRepository struct {
	db sqlx.ExtContext
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	query := `
		INSERT INTO notifications (
			id, user_id, medication_id, kind, channel, priority, subject, content,
			recipient, scheduled_time, status, last_error, sent_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :medication_id, :kind, :channel, :priority, :subject, :content,
			:recipient, :scheduled_time, :status, :last_error, :sent_at, :created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	n.UpdatedAt = time.Now()

	query := `
		UPDATE notifications
		SET status = :status, last_error = :last_error, sent_at = :sent_at, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := sqlx.NamedExecContext(ctx, r.db, query, n)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}
