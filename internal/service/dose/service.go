package dose

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type DoseService interface {
	LogDose(ctx context.Context, req *model.LogDoseRequest) (*model.DoseLog, error)
	SkipDose(ctx context.Context, req *model.SkipDoseRequest) (*model.DoseLog, error)
	History(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error)
}

// Dispatcher delivers effects asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, effects []model.Effect)
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	store      repository.Store
	dispatcher Dispatcher
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

var _ DoseService = (*Service)(nil)

func NewService(store repository.Store, dispatcher Dispatcher, logger *logger.Logger, metrics *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogDose records the occurrence as taken, decrements inventory and
// dispatches the resulting events.
func (s *Service) LogDose(ctx context.Context, req *model.LogDoseRequest) (*model.DoseLog, error) {
	log, effects, err := s.Confirm(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(effects) > 0 {
		s.dispatcher.Dispatch(ctx, effects)
	}
	return log, nil
}

// Confirm is LogDose without dispatch. A repeated confirmation of a taken
// occurrence returns the stored entry and no effects.
func (s *Service) Confirm(ctx context.Context, req *model.LogDoseRequest) (*model.DoseLog, []model.Effect, error) {
	method := req.ConfirmationMethod
	if method == "" {
		method = model.ConfirmationManual
	}
	if err := validateOccurrence(req.MedicationID, req.ScheduledTime); err != nil {
		return nil, nil, err
	}
	if !method.Valid() {
		return nil, nil, errors.NewValidation("confirmation_method", fmt.Sprintf("unknown method %q", method))
	}

	if _, err := s.ownedMedication(ctx, req.UserID, req.MedicationID); err != nil {
		return nil, nil, err
	}

	var (
		saved   *model.DoseLog
		effects []model.Effect
		outcome string
	)

	err := s.store.WithMedicationLock(ctx, req.MedicationID, func(tx repository.Store) error {
		now := s.now()

		med, err := tx.Medications().Get(ctx, req.MedicationID)
		if err != nil {
			return fmt.Errorf("failed to reload medication: %w", err)
		}

		existing, err := tx.DoseLogs().GetByOccurrence(ctx, med.ID, req.ScheduledTime)
		switch {
		case err == nil && existing.Status == model.DoseStatusTaken:
			saved = existing
			outcome = "duplicate"
			return nil
		case err == nil:
			existing.MarkTaken(now, method, req.Notes, req.SideEffectsReported)
			if err := tx.DoseLogs().Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update dose log: %w", err)
			}
			saved = existing
			outcome = "updated"
		case errors.IsNotFound(err):
			log := &model.DoseLog{
				ID:            uuid.New(),
				MedicationID:  med.ID,
				UserID:        med.UserID,
				ScheduledTime: req.ScheduledTime,
				CreatedAt:     now,
			}
			log.MarkTaken(now, method, req.Notes, req.SideEffectsReported)
			if err := tx.DoseLogs().Create(ctx, log); err != nil {
				return fmt.Errorf("failed to create dose log: %w", err)
			}
			saved = log
			outcome = "created"
		default:
			return fmt.Errorf("failed to look up dose log: %w", err)
		}

		refill, err := s.consumeInventory(ctx, tx, med)
		if err != nil {
			return err
		}

		effects = append(effects, model.NewDoseEventEffect(model.DoseEventTaken, med.UserID, med, saved))
		if refill {
			effects = append(effects, model.NewRefillReminderEffect(med))
		}
		return nil
	})
	if err != nil {
		s.metrics.DosesLogged.WithLabelValues(string(method), "error").Inc()
		return nil, nil, s.wrapStoreError(err)
	}

	s.metrics.DosesLogged.WithLabelValues(string(method), outcome).Inc()
	s.logger.WithContext(ctx).Info("Dose confirmed",
		"medication_id", req.MedicationID.String(),
		"scheduled_time", req.ScheduledTime,
		"method", string(method),
		"outcome", outcome)

	return saved, effects, nil
}

// consumeInventory takes one dose out of stock, never going below zero. It
// reports whether stock just crossed the refill threshold and needs a manual refill.
func (s *Service) consumeInventory(ctx context.Context, tx repository.Store, med *model.Medication) (bool, error) {
	if med.Inventory.CurrentQuantity <= 0 {
		return false, nil
	}

	wasLow := med.BelowRefillThreshold()

	qty := med.Inventory.CurrentQuantity - med.Dosage.Amount
	if qty < 0 {
		qty = 0
	}
	if err := tx.Medications().UpdateInventory(ctx, med.ID, qty, med.Version); err != nil {
		return false, fmt.Errorf("failed to update inventory: %w", err)
	}
	med.Inventory.CurrentQuantity = qty
	med.Version++

	return !wasLow && med.BelowRefillThreshold() && !med.Inventory.AutoRefill, nil
}

// SkipDose records that the user chose not to take a pending or not yet
// scheduled occurrence. Inventory is untouched.
func (s *Service) SkipDose(ctx context.Context, req *model.SkipDoseRequest) (*model.DoseLog, error) {
	if err := validateOccurrence(req.MedicationID, req.ScheduledTime); err != nil {
		return nil, err
	}
	if _, err := s.ownedMedication(ctx, req.UserID, req.MedicationID); err != nil {
		return nil, err
	}

	var saved *model.DoseLog
	err := s.store.WithMedicationLock(ctx, req.MedicationID, func(tx repository.Store) error {
		now := s.now()

		existing, err := tx.DoseLogs().GetByOccurrence(ctx, req.MedicationID, req.ScheduledTime)
		switch {
		case err == nil && existing.Status == model.DoseStatusSkipped:
			saved = existing
			return nil
		case err == nil:
			if !existing.CanTransitionTo(model.DoseStatusSkipped) {
				return errors.BadRequest(fmt.Sprintf("dose is already %s", existing.Status), nil)
			}
			existing.Status = model.DoseStatusSkipped
			if req.Notes != "" {
				existing.Notes = req.Notes
			}
			existing.UpdatedAt = now
			if err := tx.DoseLogs().Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update dose log: %w", err)
			}
			saved = existing
		case errors.IsNotFound(err):
			log := &model.DoseLog{
				ID:            uuid.New(),
				MedicationID:  req.MedicationID,
				UserID:        req.UserID,
				ScheduledTime: req.ScheduledTime,
				Status:        model.DoseStatusSkipped,
				Notes:         req.Notes,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.DoseLogs().Create(ctx, log); err != nil {
				return fmt.Errorf("failed to create dose log: %w", err)
			}
			saved = log
		default:
			return fmt.Errorf("failed to look up dose log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapStoreError(err)
	}

	s.metrics.DosesLogged.WithLabelValues("skip", "skipped").Inc()
	return saved, nil
}

// History lists the caller's entries scheduled inside [start, end], oldest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error) {
	if end.Before(start) {
		return nil, errors.NewValidation("end_date", "must not be before start_date")
	}

	logs, err := s.store.DoseLogs().ListByUser(ctx, userID, start, end)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to list dose logs: %w", err))
	}
	return logs, nil
}

// ownedMedication hides other users' medications behind NotFound.
func (s *Service) ownedMedication(ctx context.Context, userID, medicationID uuid.UUID) (*model.Medication, error) {
	med, err := s.store.Medications().Get(ctx, medicationID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound("medication", err)
		}
		return nil, errors.Internal(fmt.Errorf("failed to get medication: %w", err))
	}
	if med.UserID != userID {
		return nil, errors.NotFound("medication", nil)
	}
	return med, nil
}

func (s *Service) wrapStoreError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if errors.IsNotFound(err) {
		return errors.NotFound("medication", err)
	}
	return errors.Internal(err)
}

func validateOccurrence(medicationID uuid.UUID, scheduled time.Time) error {
	if medicationID == uuid.Nil {
		return errors.NewValidation("medication_id", "is required")
	}
	if scheduled.IsZero() {
		return errors.NewValidation("scheduled_time", "is required")
	}
	return nil
}
