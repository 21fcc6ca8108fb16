package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification records one delivery attempt of a reminder or alert on one channel.
type Notification struct {
	ID            uuid.UUID            `db:"id" json:"id"`
	UserID        uuid.UUID            `db:"user_id" json:"user_id"`
	MedicationID  uuid.UUID            `db:"medication_id" json:"medication_id"`
	Kind          EffectKind           `db:"kind" json:"kind"`
	Channel       NotificationChannel  `db:"channel" json:"channel"`
	Priority      NotificationPriority `db:"priority" json:"priority"`
	Subject       string               `db:"subject" json:"subject"`
	Content       string               `db:"content" json:"content"`
	Recipient     string               `db:"recipient" json:"recipient"`
	ScheduledTime *time.Time           `db:"scheduled_time" json:"scheduled_time,omitempty"`
	Status        NotificationStatus   `db:"status" json:"status"`
	LastError     *string              `db:"last_error" json:"last_error,omitempty"`
	SentAt        *time.Time           `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}
