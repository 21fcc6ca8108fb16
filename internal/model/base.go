package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TimeRange is a closed [Start, End] window used by history and adherence queries
type TimeRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// Contains reports whether t lies inside the closed range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
