package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medication-api/internal/repository"
	apperrors "github.com/jwalitptl/medication-api/pkg/errors"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Store is the postgres-backed repository.Store. Repositories run against
// ext, which is the pool or, inside WithMedicationLock, the open transaction.
type Store struct {
	BaseRepository
	ext sqlx.ExtContext
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{BaseRepository: NewBaseRepository(db), ext: db}
}

func (s *Store) Medications() repository.MedicationRepository {
	return &medicationRepository{db: s.ext}
}

func (s *Store) DoseLogs() repository.DoseLogRepository {
	return &doseLogRepository{db: s.ext}
}

func (s *Store) Outbox() repository.OutboxRepository {
	return &outboxRepository{db: s.ext}
}

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepository{db: s.ext}
}

// WithMedicationLock opens a transaction, takes the medication row lock and
// hands fn a Store bound to that transaction.
func (s *Store) WithMedicationLock(ctx context.Context, medicationID uuid.UUID, fn func(repository.Store) error) error {
	if _, nested := s.ext.(*sqlx.Tx); nested {
		return fmt.Errorf("nested medication lock on %s", medicationID)
	}

	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var id uuid.UUID
		err := tx.GetContext(ctx, &id, `SELECT id FROM medications WHERE id = $1 FOR UPDATE`, medicationID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock medication: %w", err)
		}

		return fn(&Store{BaseRepository: s.BaseRepository, ext: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
