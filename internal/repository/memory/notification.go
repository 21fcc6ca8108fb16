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

type notificationRepository struct {
	s *Store
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now

	c := *n
	r.s.notifications[n.ID] = &c
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.notifications[n.ID]; !ok {
		return errors.ErrRecordNotFound
	}
	n.UpdatedAt = time.Now()

	c := *n
	r.s.notifications[n.ID] = &c
	return nil
}

// NotificationRecords returns a snapshot of recorded deliveries, oldest first.
func (s *Store) NotificationRecords() []*model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
