package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
)

// Notifier delivers reminders and alerts to the user. Implementations own
// channel selection and retries; callers only log a returned error.
type Notifier interface {
	SendReminder(ctx context.Context, req ReminderRequest) error
	SendCriticalMissedAlert(ctx context.Context, req AlertRequest) error
	SendRefillReminder(ctx context.Context, req RefillRequest) error
}

type ReminderRequest struct {
	UserID        uuid.UUID
	Medication    *model.Medication
	ScheduledTime time.Time
}

type AlertRequest struct {
	UserID        uuid.UUID
	Medication    *model.Medication
	ScheduledTime time.Time
}

type RefillRequest struct {
	UserID     uuid.UUID
	Medication *model.Medication
}

// DeliveryError reports the channels a notification could not be sent on.
type DeliveryError struct {
	Kind model.EffectKind
	Errs []error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver %s: %v", e.Kind, errors.Join(e.Errs...))
}

func (e *DeliveryError) Unwrap() []error {
	return e.Errs
}
