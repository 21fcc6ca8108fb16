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

type medicationRepository struct {
	s *Store
}

func (r *medicationRepository) Create(ctx context.Context, med *model.Medication) error {
	if med == nil {
		return fmt.Errorf("medication cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	if _, exists := r.s.medications[med.ID]; exists {
		return fmt.Errorf("failed to create medication: duplicate id %s", med.ID)
	}

	now := time.Now()
	if med.CreatedAt.IsZero() {
		med.CreatedAt = now
	}
	med.UpdatedAt = now
	med.Version = 1

	r.s.medications[med.ID] = med.Clone()
	return nil
}

func (r *medicationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	med, ok := r.s.medications[id]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	return med.Clone(), nil
}

func (r *medicationRepository) Update(ctx context.Context, med *model.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.medications[med.ID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if current.Version != med.Version {
		return errors.ErrConflict
	}

	med.Inventory.CurrentQuantity = current.Inventory.CurrentQuantity
	med.CreatedAt = current.CreatedAt
	med.UpdatedAt = time.Now()
	med.Version = current.Version + 1

	r.s.medications[med.ID] = med.Clone()
	return nil
}

func (r *medicationRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	med, ok := r.s.medications[id]
	if !ok {
		return errors.ErrRecordNotFound
	}

	med.IsActive = false
	med.UpdatedAt = time.Now()
	med.Version++
	return nil
}

func (r *medicationRepository) ListActive(ctx context.Context) ([]*model.Medication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var meds []*model.Medication
	for _, med := range r.s.medications {
		if med.IsActive {
			meds = append(meds, med.Clone())
		}
	}
	sortMedications(meds)
	return meds, nil
}

func (r *medicationRepository) ListByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var meds []*model.Medication
	for _, med := range r.s.medications {
		if med.UserID != userID || (activeOnly && !med.IsActive) {
			continue
		}
		meds = append(meds, med.Clone())
	}
	sortMedications(meds)
	return meds, nil
}

func (r *medicationRepository) UpdateInventory(ctx context.Context, id uuid.UUID, quantity float64, version int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	med, ok := r.s.medications[id]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if med.Version != version {
		return errors.ErrConflict
	}

	med.Inventory.CurrentQuantity = quantity
	med.Version++
	med.UpdatedAt = time.Now()
	return nil
}

func sortMedications(meds []*model.Medication) {
	sort.Slice(meds, func(i, j int) bool {
		if meds[i].CreatedAt.Equal(meds[j].CreatedAt) {
			return meds[i].Name < meds[j].Name
		}
		return meds[i].CreatedAt.Before(meds[j].CreatedAt)
	})
}
