// Package memory is a process-local Store used by tests and by the
// "memory" database driver for single-node development runs.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/errors"
)

// Store keeps every table in maps guarded by one RWMutex. Per-medication
// locks serialize read-modify-write sequences such as dose confirmation.
type Store struct {
	mu sync.RWMutex

	medications   map[uuid.UUID]*model.Medication
	doseLogs      map[uuid.UUID]*model.DoseLog
	occurrences   map[occurrenceKey]uuid.UUID
	outbox        map[uuid.UUID]*model.OutboxEvent
	notifications map[uuid.UUID]*model.Notification

	locksMu  sync.Mutex
	medLocks map[uuid.UUID]*sync.Mutex

	medRepo   *medicationRepository
	doseRepo  *doseLogRepository
	outRepo   *outboxRepository
	notifRepo *notificationRepository
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	s := &Store{
		medications:   make(map[uuid.UUID]*model.Medication),
		doseLogs:      make(map[uuid.UUID]*model.DoseLog),
		occurrences:   make(map[occurrenceKey]uuid.UUID),
		outbox:        make(map[uuid.UUID]*model.OutboxEvent),
		notifications: make(map[uuid.UUID]*model.Notification),
		medLocks:      make(map[uuid.UUID]*sync.Mutex),
	}
	s.medRepo = &medicationRepository{s: s}
	s.doseRepo = &doseLogRepository{s: s}
	s.outRepo = &outboxRepository{s: s}
	s.notifRepo = &notificationRepository{s: s}
	return s
}

func (s *Store) Medications() repository.MedicationRepository     { return s.medRepo }
func (s *Store) DoseLogs() repository.DoseLogRepository           { return s.doseRepo }
func (s *Store) Outbox() repository.OutboxRepository              { return s.outRepo }
func (s *Store) Notifications() repository.NotificationRepository { return s.notifRepo }

// WithMedicationLock holds the medication's mutex while fn runs. Writes are
// applied immediately, so a failing fn does not roll back what it already wrote.
func (s *Store) WithMedicationLock(ctx context.Context, medicationID uuid.UUID, fn func(repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	_, ok := s.medications[medicationID]
	s.mu.RUnlock()
	if !ok {
		return errors.ErrRecordNotFound
	}

	lock := s.medLock(medicationID)
	lock.Lock()
	defer lock.Unlock()

	return fn(s)
}

func (s *Store) medLock(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.medLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.medLocks[id] = l
	}
	return l
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
