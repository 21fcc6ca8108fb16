package model

import (
	"time"

	"github.com/google/uuid"
)

type DoseStatus string

const (
	DoseStatusPending DoseStatus = "pending"
	DoseStatusTaken   DoseStatus = "taken"
	DoseStatusMissed  DoseStatus = "missed"
	DoseStatusSkipped DoseStatus = "skipped"
)

type ConfirmationMethod string

const (
	ConfirmationManual   ConfirmationMethod = "manual"
	ConfirmationSwipe    ConfirmationMethod = "swipe"
	ConfirmationReminder ConfirmationMethod = "reminder"
	ConfirmationVoice    ConfirmationMethod = "voice"
)

// Valid reports whether m is a known confirmation method.
func (m ConfirmationMethod) Valid() bool {
	switch m {
	case ConfirmationManual, ConfirmationSwipe, ConfirmationReminder, ConfirmationVoice:
		return true
	}
	return false
}

// DoseLog records one occurrence of a medication, keyed by (MedicationID, ScheduledTime).
type DoseLog struct {
	ID                  uuid.UUID          `json:"id"`
	MedicationID        uuid.UUID          `json:"medication_id"`
	UserID              uuid.UUID          `json:"user_id"`
	ScheduledTime       time.Time          `json:"scheduled_time"`
	TakenAt             *time.Time         `json:"taken_at,omitempty"`
	Status              DoseStatus         `json:"status"`
	ConfirmationMethod  ConfirmationMethod `json:"confirmation_method,omitempty"`
	Notes               string             `json:"notes,omitempty"`
	SideEffectsReported []string           `json:"side_effects_reported,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// NewPendingDoseLog creates the entry the scheduler writes when an occurrence falls due.
func NewPendingDoseLog(med *Medication, scheduledTime, now time.Time) *DoseLog {
	return &DoseLog{
		ID:            uuid.New(),
		MedicationID:  med.ID,
		UserID:        med.UserID,
		ScheduledTime: scheduledTime,
		Status:        DoseStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CanTransitionTo encodes the dose state machine: pending may become anything,
// missed and skipped may still be confirmed late, taken is terminal.
func (l *DoseLog) CanTransitionTo(next DoseStatus) bool {
	switch l.Status {
	case DoseStatusPending:
		return next != DoseStatusPending
	case DoseStatusMissed, DoseStatusSkipped:
		return next == DoseStatusTaken
	default:
		return false
	}
}

// MarkTaken moves the entry to taken. Callers check CanTransitionTo first.
func (l *DoseLog) MarkTaken(at time.Time, method ConfirmationMethod, notes string, sideEffects []string) {
	takenAt := at
	l.Status = DoseStatusTaken
	l.TakenAt = &takenAt
	l.ConfirmationMethod = method
	if notes != "" {
		l.Notes = notes
	}
	if len(sideEffects) > 0 {
		l.SideEffectsReported = append([]string(nil), sideEffects...)
	}
	l.UpdatedAt = at
}

// Clone returns a deep copy.
func (l *DoseLog) Clone() *DoseLog {
	if l == nil {
		return nil
	}
	c := *l
	if l.TakenAt != nil {
		t := *l.TakenAt
		c.TakenAt = &t
	}
	c.SideEffectsReported = append([]string(nil), l.SideEffectsReported...)
	return &c
}
