package model

import (
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyAsNeeded     Frequency = "as_needed"
	FrequencySpecificDays Frequency = "specific_days"
)

type MealRelation string

const (
	MealRelationNone   MealRelation = "none"
	MealRelationBefore MealRelation = "before_meal"
	MealRelationWith   MealRelation = "with_meal"
	MealRelationAfter  MealRelation = "after_meal"
)

// Dosage is the quantity consumed per dose event
type Dosage struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Unit   string  `json:"unit" validate:"required"`
	Form   string  `json:"form,omitempty"`
}

type Schedule struct {
	Frequency Frequency `json:"frequency" validate:"required,oneof=daily weekly as_needed specific_days"`
	// Times are wall-clock times of day, "HH:MM" or "h:MM AM".
	Times []string `json:"times" validate:"dive,timeofday"`
	// DaysOfWeek is used by specific_days; 0 is Sunday.
	DaysOfWeek   []int        `json:"days_of_week,omitempty" validate:"dive,min=0,max=6"`
	MealRelation MealRelation `json:"meal_relation,omitempty" validate:"omitempty,oneof=none before_meal with_meal after_meal"`
	StartDate    time.Time    `json:"start_date" validate:"required"`
	EndDate      *time.Time   `json:"end_date,omitempty"`
}

type Inventory struct {
	CurrentQuantity float64 `json:"current_quantity" validate:"gte=0"`
	RefillThreshold float64 `json:"refill_threshold" validate:"gte=0"`
	AutoRefill      bool    `json:"auto_refill"`
}

type Medication struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id" validate:"required"`
	Name         string    `json:"name" validate:"required,max=200"`
	Dosage       Dosage    `json:"dosage"`
	Schedule     Schedule  `json:"schedule"`
	Inventory    Inventory `json:"inventory"`
	Instructions string    `json:"instructions,omitempty" validate:"max=2000"`
	IsActive     bool      `json:"is_active"`
	IsCritical   bool      `json:"is_critical"`
	// Version is bumped on every write and guards inventory updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveOn reports whether day's calendar date falls inside the schedule's
// [StartDate, EndDate] window.
func (m *Medication) ActiveOn(day time.Time) bool {
	d := dateOf(day, day.Location())
	if !m.Schedule.StartDate.IsZero() && d.Before(dateOf(m.Schedule.StartDate, day.Location())) {
		return false
	}
	if m.Schedule.EndDate != nil && d.After(dateOf(*m.Schedule.EndDate, day.Location())) {
		return false
	}
	return true
}

// ScheduledOn reports whether the medication has timed doses on day.
func (m *Medication) ScheduledOn(day time.Time) bool {
	if !m.IsActive || !m.ActiveOn(day) {
		return false
	}

	switch m.Schedule.Frequency {
	case FrequencyAsNeeded:
		return false
	case FrequencyWeekly:
		if m.Schedule.StartDate.IsZero() {
			return true
		}
		return m.Schedule.StartDate.Weekday() == day.Weekday()
	case FrequencySpecificDays:
		for _, wd := range m.Schedule.DaysOfWeek {
			if time.Weekday(wd) == day.Weekday() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// BelowRefillThreshold reports whether stock is at or under the refill threshold.
func (m *Medication) BelowRefillThreshold() bool {
	return m.Inventory.CurrentQuantity <= m.Inventory.RefillThreshold
}

// dateOf keeps t's calendar fields and pins them to midnight in loc. Schedule
// dates are calendar dates, so they are not converted between zones.
func dateOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Clone returns a deep copy.
func (m *Medication) Clone() *Medication {
	if m == nil {
		return nil
	}
	c := *m
	c.Schedule.Times = append([]string(nil), m.Schedule.Times...)
	c.Schedule.DaysOfWeek = append([]int(nil), m.Schedule.DaysOfWeek...)
	if m.Schedule.EndDate != nil {
		end := *m.Schedule.EndDate
		c.Schedule.EndDate = &end
	}
	return &c
}
