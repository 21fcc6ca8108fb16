package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/logger"
)

const (
	TypeDoseTaken  = "dose.taken"
	TypeDoseMissed = "dose.missed"
)

// Sink receives dose state changes for downstream consumers.
type Sink interface {
	Publish(ctx context.Context, event model.DoseEvent) error
}

// Service writes events to the transactional outbox; the outbox processor
// delivers them to the broker.
type Service struct {
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
}

var _ Sink = (*Service)(nil)

func NewService(outboxRepo repository.OutboxRepository, logger *logger.Logger) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.logger.Debug("Event queued", "event_id", event.ID.String(), "event_type", eventType)
	return nil
}

func (s *Service) Publish(ctx context.Context, event model.DoseEvent) error {
	return s.Emit(ctx, TypeOf(event.Type), event)
}

// TypeOf maps a dose event onto its outbox event type.
func TypeOf(t model.DoseEventType) string {
	switch t {
	case model.DoseEventTaken:
		return TypeDoseTaken
	case model.DoseEventMissed:
		return TypeDoseMissed
	default:
		return "dose." + string(t)
	}
}
