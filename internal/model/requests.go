package model

import (
	"time"

	"github.com/google/uuid"
)

// LogDoseRequest confirms one occurrence as taken. UserID comes from the
// authenticated caller, never from the body.
type LogDoseRequest struct {
	UserID              uuid.UUID          `json:"-"`
	MedicationID        uuid.UUID          `json:"medication_id" binding:"required"`
	ScheduledTime       time.Time          `json:"scheduled_time" binding:"required"`
	ConfirmationMethod  ConfirmationMethod `json:"confirmation_method,omitempty" binding:"omitempty,oneof=manual swipe reminder voice"`
	Notes               string             `json:"notes,omitempty" binding:"max=2000"`
	SideEffectsReported []string           `json:"side_effects_reported,omitempty" binding:"max=20,dive,max=200"`
}

type SkipDoseRequest struct {
	UserID        uuid.UUID `json:"-"`
	MedicationID  uuid.UUID `json:"medication_id" binding:"required"`
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	Notes         string    `json:"notes,omitempty" binding:"max=2000"`
}

// MedicationRequest is the body of create and update calls. On update
// inventory.current_quantity is ignored; stock changes go through RestockRequest.
type MedicationRequest struct {
	Name         string    `json:"name" binding:"required,max=200"`
	Dosage       Dosage    `json:"dosage"`
	Schedule     Schedule  `json:"schedule"`
	Inventory    Inventory `json:"inventory"`
	Instructions string    `json:"instructions,omitempty"`
	IsCritical   bool      `json:"is_critical"`
}

// ToMedication builds a medication owned by userID. Validation happens in the service.
func (r *MedicationRequest) ToMedication(userID uuid.UUID) *Medication {
	med := &Medication{
		UserID:       userID,
		Name:         r.Name,
		Dosage:       r.Dosage,
		Schedule:     r.Schedule,
		Inventory:    r.Inventory,
		Instructions: r.Instructions,
		IsCritical:   r.IsCritical,
		IsActive:     true,
	}
	return med.Clone()
}

// RestockRequest sets the on-hand quantity after a refill or a recount.
type RestockRequest struct {
	CurrentQuantity *float64 `json:"current_quantity" binding:"required,gte=0"`
}
