package medication

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
	"github.com/jwalitptl/medication-api/pkg/validator"
)

type MedicationService interface {
	CreateMedication(ctx context.Context, userID uuid.UUID, req *model.MedicationRequest) (*model.Medication, error)
	GetMedication(ctx context.Context, userID, id uuid.UUID) (*model.Medication, error)
	UpdateMedication(ctx context.Context, userID, id uuid.UUID, req *model.MedicationRequest) (*model.Medication, error)
	RestockMedication(ctx context.Context, userID, id uuid.UUID, quantity float64) (*model.Medication, error)
	DeactivateMedication(ctx context.Context, userID, id uuid.UUID) error
	ListMedications(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.Medication, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the zone whose midnight is the default start date.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

type Service struct {
	store     repository.Store
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
	loc       *time.Location
}

var _ MedicationService = (*Service)(nil)

func NewService(store repository.Store, logger *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: validator.New(),
		logger:    logger,
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateMedication(ctx context.Context, userID uuid.UUID, req *model.MedicationRequest) (*model.Medication, error) {
	med := req.ToMedication(userID)
	if med.Schedule.StartDate.IsZero() {
		now := s.now().In(s.loc)
		med.Schedule.StartDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}

	if err := s.validate(med); err != nil {
		return nil, err
	}

	if err := s.store.Medications().Create(ctx, med); err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to create medication: %w", err))
	}

	s.logger.WithContext(ctx).Info("Medication created",
		"medication_id", med.ID.String(),
		"user_id", userID.String(),
		"frequency", string(med.Schedule.Frequency))
	return med, nil
}

func (s *Service) GetMedication(ctx context.Context, userID, id uuid.UUID) (*model.Medication, error) {
	med, err := s.store.Medications().Get(ctx, id)
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

// UpdateMedication replaces the editable fields. Activation state, ownership
// and the on-hand quantity are kept; the write is serialized with dose
// confirmations so their inventory decrements are never overwritten.
func (s *Service) UpdateMedication(ctx context.Context, userID, id uuid.UUID, req *model.MedicationRequest) (*model.Medication, error) {
	if _, err := s.GetMedication(ctx, userID, id); err != nil {
		return nil, err
	}

	var updated *model.Medication
	err := s.store.WithMedicationLock(ctx, id, func(tx repository.Store) error {
		current, err := tx.Medications().Get(ctx, id)
		if err != nil {
			return err
		}

		med := req.ToMedication(userID)
		med.ID = current.ID
		med.IsActive = current.IsActive
		med.Version = current.Version
		med.Inventory.CurrentQuantity = current.Inventory.CurrentQuantity
		if med.Schedule.StartDate.IsZero() {
			med.Schedule.StartDate = current.Schedule.StartDate
		}

		if err := s.validate(med); err != nil {
			return err
		}
		if err := tx.Medications().Update(ctx, med); err != nil {
			return err
		}
		updated = med
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err, "failed to update medication")
	}
	return updated, nil
}

// RestockMedication sets the on-hand quantity, e.g. after a refill.
func (s *Service) RestockMedication(ctx context.Context, userID, id uuid.UUID, quantity float64) (*model.Medication, error) {
	if quantity < 0 {
		return nil, errors.NewValidation("current_quantity", "must be at least 0")
	}
	if _, err := s.GetMedication(ctx, userID, id); err != nil {
		return nil, err
	}

	var restocked *model.Medication
	err := s.store.WithMedicationLock(ctx, id, func(tx repository.Store) error {
		med, err := tx.Medications().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Medications().UpdateInventory(ctx, id, quantity, med.Version); err != nil {
			return err
		}
		med.Inventory.CurrentQuantity = quantity
		med.Version++
		restocked = med
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err, "failed to restock medication")
	}

	s.logger.WithContext(ctx).Info("Medication restocked",
		"medication_id", id.String(),
		"quantity", quantity)
	return restocked, nil
}

// DeactivateMedication is a soft delete: history and adherence keep the record.
func (s *Service) DeactivateMedication(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetMedication(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Medications().Deactivate(ctx, id); err != nil {
		return errors.Internal(fmt.Errorf("failed to deactivate medication: %w", err))
	}

	s.logger.WithContext(ctx).Info("Medication deactivated", "medication_id", id.String())
	return nil
}

func (s *Service) ListMedications(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.Medication, error) {
	meds, err := s.store.Medications().ListByUser(ctx, userID, activeOnly)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to list medications: %w", err))
	}
	return meds, nil
}

// validate runs the struct rules, then the cross-field schedule rules.
func (s *Service) validate(med *model.Medication) error {
	if err := s.validator.Validate(med); err != nil {
		return err
	}

	sched := med.Schedule
	switch sched.Frequency {
	case model.FrequencyAsNeeded:
	case model.FrequencySpecificDays:
		if len(sched.DaysOfWeek) == 0 {
			return errors.NewValidation("schedule.days_of_week", "is required for specific_days")
		}
		fallthrough
	default:
		if len(sched.Times) == 0 {
			return errors.NewValidation("schedule.times", "at least one time is required")
		}
	}

	if sched.EndDate != nil && sched.EndDate.Before(sched.StartDate) {
		return errors.NewValidation("schedule.end_date", "must not be before start_date")
	}
	return nil
}

func wrapStoreError(err error, msg string) error {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return err
	case errors.IsNotFound(err):
		return errors.NotFound("medication", err)
	case stderrors.Is(err, errors.ErrConflict):
		return errors.Conflict("medication", err)
	default:
		return errors.Internal(fmt.Errorf("%s: %w", msg, err))
	}
}
