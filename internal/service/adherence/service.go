package adherence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/errors"
)

type AdherenceService interface {
	Compute(ctx context.Context, userID uuid.UUID, start, end time.Time) (*model.AdherenceSummary, error)
	ComputeByMedication(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]model.MedicationAdherence, error)
}

type Service struct {
	repo repository.DoseLogRepository
}

func NewService(repo repository.DoseLogRepository) *Service {
	return &Service{repo: repo}
}

// Compute summarises the user's entries scheduled inside [start, end].
func (s *Service) Compute(ctx context.Context, userID uuid.UUID, start, end time.Time) (*model.AdherenceSummary, error) {
	logs, err := s.list(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	summary := Summarize(logs)
	return &summary, nil
}

// ComputeByMedication is Compute grouped by medication, in medication id order.
func (s *Service) ComputeByMedication(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]model.MedicationAdherence, error) {
	logs, err := s.list(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	grouped := make(map[uuid.UUID][]*model.DoseLog)
	for _, l := range logs {
		grouped[l.MedicationID] = append(grouped[l.MedicationID], l)
	}

	result := make([]model.MedicationAdherence, 0, len(grouped))
	for id, medLogs := range grouped {
		result = append(result, model.MedicationAdherence{
			MedicationID:     id,
			AdherenceSummary: Summarize(medLogs),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MedicationID.String() < result[j].MedicationID.String()
	})
	return result, nil
}

func (s *Service) list(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]*model.DoseLog, error) {
	if end.Before(start) {
		return nil, errors.NewValidation("end_date", "must not be before start_date")
	}

	logs, err := s.repo.ListByUser(ctx, userID, start, end)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to list dose logs: %w", err))
	}
	return logs, nil
}

// Summarize counts taken entries against all entries. Anything not taken,
// pending included, counts as missed.
func Summarize(logs []*model.DoseLog) model.AdherenceSummary {
	var summary model.AdherenceSummary
	summary.Total = len(logs)
	for _, l := range logs {
		if l.Status == model.DoseStatusTaken {
			summary.Taken++
		}
	}
	summary.Missed = summary.Total - summary.Taken
	if summary.Total > 0 {
		summary.AdherenceRate = float64(summary.Taken) * 100 / float64(summary.Total)
	}
	return summary
}
