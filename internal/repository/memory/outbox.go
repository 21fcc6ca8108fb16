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

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending

	c := *event
	r.s.outbox[event.ID] = &c
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	var due []*model.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.OutboxEvent, 0, len(due))
	for _, e := range due {
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = now
		c := *e
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok {
		return errors.ErrRecordNotFound
	}

	now := time.Now()
	e.Status = status
	e.ErrorMessage = errMsg
	e.RetryAt = retryAt
	e.UpdatedAt = now
	if status == model.OutboxStatusRetry {
		e.RetryCount++
	}
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}

// Events returns a snapshot of the outbox, oldest first.
func (s *Store) Events() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*model.OutboxEvent, 0, len(s.outbox))
	for _, e := range s.outbox {
		c := *e
		events = append(events, &c)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events
}
