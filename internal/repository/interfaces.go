package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
)

// All repository interfaces in one file
type (
	// MedicationRepository handles medication records. Reads never return
	// shared instances; callers may mutate what they get back.
	MedicationRepository interface {
		Create(ctx context.Context, med *model.Medication) error
		Get(ctx context.Context, id uuid.UUID) (*model.Medication, error)
		// Update writes the editable fields if the stored version still equals
		// med.Version, else errors.ErrConflict. CurrentQuantity is never written
		// here; med receives the stored value.
		Update(ctx context.Context, med *model.Medication) error
		Deactivate(ctx context.Context, id uuid.UUID) error
		ListActive(ctx context.Context) ([]*model.Medication, error)
		ListByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.Medication, error)
		// UpdateInventory writes quantity if the stored version still equals
		// version, and bumps it. A stale version returns errors.ErrConflict.
		UpdateInventory(ctx context.Context, id uuid.UUID, quantity float64, version int64) error
	}

	DoseLogRepository interface {
		// CreatePending inserts log unless an entry for the same
		// (MedicationID, ScheduledTime) exists. It reports whether a row was written.
		CreatePending(ctx context.Context, log *model.DoseLog) (bool, error)
		Create(ctx context.Context, log *model.DoseLog) error
		Update(ctx context.Context, log *model.DoseLog) error
		GetByOccurrence(ctx context.Context, medicationID uuid.UUID, scheduledTime time.Time) (*model.DoseLog, error)
		// ListByUser returns entries with ScheduledTime in [start, end], oldest first.
		ListByUser(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error)
		ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DoseLog, error)
		// MarkMissed moves a still-pending entry to missed and reports whether it did.
		MarkMissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending moves up to limit due pending/retry events to processing
		// and returns them. Concurrent claimers never receive the same event.
		ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		Update(ctx context.Context, notification *model.Notification) error
	}
)

// Store groups the repositories behind one backend.
type Store interface {
	Medications() MedicationRepository
	DoseLogs() DoseLogRepository
	Outbox() OutboxRepository
	Notifications() NotificationRepository

	// WithMedicationLock runs fn with exclusive access to one medication and
	// its dose log entries. The Store handed to fn is scoped to the lock; writes
	// made through it commit together when fn returns nil.
	WithMedicationLock(ctx context.Context, medicationID uuid.UUID, fn func(Store) error) error

	Ping(ctx context.Context) error
	Close() error
}
