package model

import (
	"time"

	"github.com/google/uuid"
)

// EffectKind names a side effect produced by the scheduler or the dose service.
// Core operations return effects; a dispatcher turns them into notifications
// and events.
type EffectKind string

const (
	EffectReminder            EffectKind = "reminder"
	EffectCriticalMissedAlert EffectKind = "critical_missed_alert"
	EffectRefillReminder      EffectKind = "refill_reminder"
	EffectDoseEvent           EffectKind = "dose_event"
)

type DoseEventType string

const (
	DoseEventTaken  DoseEventType = "taken"
	DoseEventMissed DoseEventType = "missed"
)

type Effect struct {
	Kind          EffectKind
	EventType     DoseEventType
	UserID        uuid.UUID
	Medication    *Medication
	Log           *DoseLog
	ScheduledTime time.Time
}

// DoseEvent is the payload handed to the event sink for downstream consumers.
type DoseEvent struct {
	Type       DoseEventType `json:"type"`
	UserID     uuid.UUID     `json:"user_id"`
	Log        *DoseLog      `json:"log"`
	Medication *Medication   `json:"medication,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func NewReminderEffect(med *Medication, log *DoseLog) Effect {
	return Effect{
		Kind:          EffectReminder,
		UserID:        med.UserID,
		Medication:    med,
		Log:           log,
		ScheduledTime: log.ScheduledTime,
	}
}

func NewCriticalMissedAlertEffect(med *Medication, log *DoseLog) Effect {
	return Effect{
		Kind:          EffectCriticalMissedAlert,
		UserID:        med.UserID,
		Medication:    med,
		Log:           log,
		ScheduledTime: log.ScheduledTime,
	}
}

func NewRefillReminderEffect(med *Medication) Effect {
	return Effect{
		Kind:       EffectRefillReminder,
		UserID:     med.UserID,
		Medication: med,
	}
}

// NewDoseEventEffect wraps a state change for the event sink. med may be nil
// when the medication could not be loaded.
func NewDoseEventEffect(eventType DoseEventType, userID uuid.UUID, med *Medication, log *DoseLog) Effect {
	return Effect{
		Kind:          EffectDoseEvent,
		EventType:     eventType,
		UserID:        userID,
		Medication:    med,
		Log:           log,
		ScheduledTime: log.ScheduledTime,
	}
}

// Event converts a dose_event effect into its payload.
func (e Effect) Event(at time.Time) DoseEvent {
	return DoseEvent{
		Type:       e.EventType,
		UserID:     e.UserID,
		Log:        e.Log,
		Medication: e.Medication,
		OccurredAt: at,
	}
}
