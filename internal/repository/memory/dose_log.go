package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/pkg/errors"
)

// occurrenceKey mirrors the unique (medication_id, scheduled_time) index.
// UnixNano makes instants in different locations compare equal.
type occurrenceKey struct {
	medicationID uuid.UUID
	scheduled    int64
}

func keyOf(medicationID uuid.UUID, scheduled time.Time) occurrenceKey {
	return occurrenceKey{medicationID: medicationID, scheduled: scheduled.UnixNano()}
}

type doseLogRepository struct {
	s *Store
}

func (r *doseLogRepository) CreatePending(ctx context.Context, log *model.DoseLog) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := keyOf(log.MedicationID, log.ScheduledTime)
	if _, exists := r.s.occurrences[key]; exists {
		return false, nil
	}
	r.insertLocked(log)
	return true, nil
}

func (r *doseLogRepository) Create(ctx context.Context, log *model.DoseLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := keyOf(log.MedicationID, log.ScheduledTime)
	if _, exists := r.s.occurrences[key]; exists {
		return fmt.Errorf("failed to create dose log: %w", errors.ErrConflict)
	}
	r.insertLocked(log)
	return nil
}

func (r *doseLogRepository) insertLocked(log *model.DoseLog) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	now := time.Now()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	if log.UpdatedAt.IsZero() {
		log.UpdatedAt = now
	}

	r.s.doseLogs[log.ID] = log.Clone()
	r.s.occurrences[keyOf(log.MedicationID, log.ScheduledTime)] = log.ID
}

func (r *doseLogRepository) Update(ctx context.Context, log *model.DoseLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.doseLogs[log.ID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if !current.ScheduledTime.Equal(log.ScheduledTime) || current.MedicationID != log.MedicationID {
		return fmt.Errorf("dose log %s: occurrence key is immutable", log.ID)
	}

	r.s.doseLogs[log.ID] = log.Clone()
	return nil
}

func (r *doseLogRepository) GetByOccurrence(ctx context.Context, medicationID uuid.UUID, scheduledTime time.Time) (*model.DoseLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.occurrences[keyOf(medicationID, scheduledTime)]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	return r.s.doseLogs[id].Clone(), nil
}

func (r *doseLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	window := model.TimeRange{Start: start, End: end}
	var logs []*model.DoseLog
	for _, l := range r.s.doseLogs {
		if l.UserID == userID && window.Contains(l.ScheduledTime) {
			logs = append(logs, l.Clone())
		}
	}
	sortLogs(logs)
	return logs, nil
}

func (r *doseLogRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.DoseLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var logs []*model.DoseLog
	for _, l := range r.s.doseLogs {
		if l.Status == model.DoseStatusPending && l.ScheduledTime.Before(cutoff) {
			logs = append(logs, l.Clone())
		}
	}
	sortLogs(logs)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (r *doseLogRepository) MarkMissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.doseLogs[id]
	if !ok {
		return false, errors.ErrRecordNotFound
	}
	if l.Status != model.DoseStatusPending {
		return false, nil
	}

	l.Status = model.DoseStatusMissed
	l.UpdatedAt = at
	return true, nil
}

func sortLogs(logs []*model.DoseLog) {
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ScheduledTime.Before(logs[j].ScheduledTime)
	})
}
