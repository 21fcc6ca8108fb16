package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMedicationScheduledOn(t *testing.T) {
	// 2024-03-11 is a Monday.
	monday := time.Date(2024, 3, 11, 7, 56, 0, 0, time.UTC)
	end := day(2024, 3, 10)

	tests := []struct {
		name string
		med  Medication
		want bool
	}{
		{"daily active", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyDaily, StartDate: day(2024, 1, 1)}}, true},
		{"inactive", Medication{IsActive: false, Schedule: Schedule{Frequency: FrequencyDaily}}, false},
		{"as needed", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyAsNeeded}}, false},
		{"not started", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyDaily, StartDate: day(2024, 3, 12)}}, false},
		{"starts today", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyDaily, StartDate: day(2024, 3, 11)}}, true},
		{"ended", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyDaily, EndDate: &end}}, false},
		{"weekly same weekday", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyWeekly, StartDate: day(2024, 3, 4)}}, true},
		{"weekly other weekday", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencyWeekly, StartDate: day(2024, 3, 5)}}, false},
		{"specific days hit", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencySpecificDays, DaysOfWeek: []int{1, 3}}}, true},
		{"specific days miss", Medication{IsActive: true, Schedule: Schedule{Frequency: FrequencySpecificDays, DaysOfWeek: []int{2}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.med.ScheduledOn(monday))
		})
	}
}

func TestDoseLogTransitions(t *testing.T) {
	l := &DoseLog{Status: DoseStatusPending}
	assert.True(t, l.CanTransitionTo(DoseStatusTaken))
	assert.True(t, l.CanTransitionTo(DoseStatusMissed))
	assert.False(t, l.CanTransitionTo(DoseStatusPending))

	l.Status = DoseStatusMissed
	assert.True(t, l.CanTransitionTo(DoseStatusTaken))
	assert.False(t, l.CanTransitionTo(DoseStatusSkipped))

	l.Status = DoseStatusTaken
	for _, next := range []DoseStatus{DoseStatusPending, DoseStatusMissed, DoseStatusSkipped, DoseStatusTaken} {
		assert.False(t, l.CanTransitionTo(next), "taken is terminal, got transition to %s", next)
	}
}

func TestMarkTakenAndClone(t *testing.T) {
	at := time.Date(2024, 3, 11, 8, 1, 0, 0, time.UTC)
	l := &DoseLog{ID: uuid.New(), Status: DoseStatusPending, Notes: "keep"}

	l.MarkTaken(at, ConfirmationReminder, "", []string{"nausea"})

	assert.Equal(t, DoseStatusTaken, l.Status)
	assert.Equal(t, at, *l.TakenAt)
	assert.Equal(t, "keep", l.Notes)
	assert.Equal(t, []string{"nausea"}, l.SideEffectsReported)

	c := l.Clone()
	c.SideEffectsReported[0] = "changed"
	*c.TakenAt = at.Add(time.Hour)
	assert.Equal(t, "nausea", l.SideEffectsReported[0])
	assert.Equal(t, at, *l.TakenAt)
}

func TestTimeRangeContainsIsClosed(t *testing.T) {
	r := TimeRange{Start: day(2024, 3, 1), End: day(2024, 3, 31)}
	assert.True(t, r.Contains(r.Start))
	assert.True(t, r.Contains(r.End))
	assert.False(t, r.Contains(r.End.Add(time.Nanosecond)))
}
