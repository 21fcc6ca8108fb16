package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/internal/email"
	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/circuitbreaker"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/messaging"
)

type Config struct {
	// EmailTo is the single user's address. Email is skipped when empty.
	EmailTo     string
	PushChannel string
}

type service struct {
	repo     repository.NotificationRepository
	emailSvc email.Service
	emailCB  *circuitbreaker.CircuitBreaker
	broker   messaging.Broker
	config   Config
	logger   *logger.Logger
}

// NewService returns a Notifier that records every attempt and delivers over
// email and broker push. emailSvc, breaker and broker may be nil to disable a
// channel.
func NewService(
	repo repository.NotificationRepository,
	emailSvc email.Service,
	breaker *circuitbreaker.CircuitBreaker,
	broker messaging.Broker,
	config Config,
	logger *logger.Logger,
) Notifier {
	if config.PushChannel == "" {
		config.PushChannel = "notifications"
	}
	return &service{
		repo:     repo,
		emailSvc: emailSvc,
		emailCB:  breaker,
		broker:   broker,
		config:   config,
		logger:   logger,
	}
}

func (s *service) SendReminder(ctx context.Context, req ReminderRequest) error {
	med := req.Medication
	scheduled := req.ScheduledTime

	n := &model.Notification{
		UserID:        req.UserID,
		MedicationID:  med.ID,
		Kind:          model.EffectReminder,
		Priority:      model.PriorityNormal,
		Subject:       fmt.Sprintf("Time to take %s", med.Name),
		Content:       reminderText(med, scheduled),
		ScheduledTime: &scheduled,
	}
	if med.IsCritical {
		n.Priority = model.PriorityHigh
	}
	return s.send(ctx, n)
}

func (s *service) SendCriticalMissedAlert(ctx context.Context, req AlertRequest) error {
	med := req.Medication
	scheduled := req.ScheduledTime

	n := &model.Notification{
		UserID:        req.UserID,
		MedicationID:  med.ID,
		Kind:          model.EffectCriticalMissedAlert,
		Priority:      model.PriorityHigh,
		Subject:       fmt.Sprintf("Missed dose: %s", med.Name),
		Content:       fmt.Sprintf("The %s dose of %s was not confirmed. Take it now if your instructions allow, or contact your care provider.", scheduled.Format("15:04"), med.Name),
		ScheduledTime: &scheduled,
	}
	return s.send(ctx, n)
}

func (s *service) SendRefillReminder(ctx context.Context, req RefillRequest) error {
	med := req.Medication

	n := &model.Notification{
		UserID:       req.UserID,
		MedicationID: med.ID,
		Kind:         model.EffectRefillReminder,
		Priority:     model.PriorityNormal,
		Subject:      fmt.Sprintf("Refill %s", med.Name),
		Content: fmt.Sprintf("%s is running low: %s %s left (refill at %s).",
			med.Name,
			formatAmount(med.Inventory.CurrentQuantity),
			med.Dosage.Unit,
			formatAmount(med.Inventory.RefillThreshold)),
	}
	if med.IsCritical {
		n.Priority = model.PriorityHigh
	}
	return s.send(ctx, n)
}

func (s *service) channels() []model.NotificationChannel {
	var chs []model.NotificationChannel
	if s.emailSvc != nil && s.config.EmailTo != "" {
		chs = append(chs, model.ChannelEmail)
	}
	if s.broker != nil {
		chs = append(chs, model.ChannelPush)
	}
	return chs
}

// send records and delivers one copy of base per enabled channel.
func (s *service) send(ctx context.Context, base *model.Notification) error {
	chs := s.channels()
	if len(chs) == 0 {
		s.logger.Warn("No notification channel configured",
			"kind", string(base.Kind),
			"user_id", base.UserID.String(),
			"subject", base.Subject)
		return nil
	}

	var errs []error
	for _, ch := range chs {
		n := *base
		n.ID = uuid.Nil
		n.Channel = ch
		n.Status = model.NotificationStatusPending
		n.Recipient = s.recipient(ch, n.UserID)

		if err := s.repo.Create(ctx, &n); err != nil {
			errs = append(errs, fmt.Errorf("failed to create notification: %w", err))
			continue
		}

		if err := s.deliver(ctx, &n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			s.markFailed(ctx, &n, err)
			continue
		}
		s.markSent(ctx, &n)
	}

	if len(errs) > 0 {
		return &DeliveryError{Kind: base.Kind, Errs: errs}
	}
	return nil
}

func (s *service) recipient(ch model.NotificationChannel, userID uuid.UUID) string {
	if ch == model.ChannelEmail {
		return s.config.EmailTo
	}
	return userID.String()
}

func (s *service) deliver(ctx context.Context, n *model.Notification) error {
	switch n.Channel {
	case model.ChannelEmail:
		return s.sendEmail(ctx, n)
	case model.ChannelPush:
		return s.sendPush(ctx, n)
	default:
		return fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

func (s *service) sendEmail(ctx context.Context, n *model.Notification) error {
	send := func() error {
		return s.emailSvc.SendCustom(ctx, n.Recipient, n.Subject, n.Content)
	}
	if s.emailCB == nil {
		return send()
	}
	return s.emailCB.Execute(send)
}

type pushMessage struct {
	NotificationID uuid.UUID                  `json:"notification_id"`
	UserID         uuid.UUID                  `json:"user_id"`
	MedicationID   uuid.UUID                  `json:"medication_id"`
	Kind           model.EffectKind           `json:"kind"`
	Priority       model.NotificationPriority `json:"priority"`
	Title          string                     `json:"title"`
	Body           string                     `json:"body"`
	ScheduledTime  *time.Time                 `json:"scheduled_time,omitempty"`
}

func (s *service) sendPush(ctx context.Context, n *model.Notification) error {
	return s.broker.Publish(ctx, s.config.PushChannel, pushMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		MedicationID:   n.MedicationID,
		Kind:           n.Kind,
		Priority:       n.Priority,
		Title:          n.Subject,
		Body:           n.Content,
		ScheduledTime:  n.ScheduledTime,
	})
}

func (s *service) markSent(ctx context.Context, n *model.Notification) {
	now := time.Now()
	n.Status = model.NotificationStatusSent
	n.SentAt = &now

	if err := s.repo.Update(ctx, n); err != nil {
		s.logger.Error(err, "Failed to update notification", "notification_id", n.ID.String())
	}
}

func (s *service) markFailed(ctx context.Context, n *model.Notification, cause error) {
	msg := cause.Error()
	n.Status = model.NotificationStatusFailed
	n.LastError = &msg

	if err := s.repo.Update(ctx, n); err != nil {
		s.logger.Error(err, "Failed to update notification", "notification_id", n.ID.String())
	}
}

func reminderText(med *model.Medication, scheduled time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Take %s %s of %s at %s.",
		formatAmount(med.Dosage.Amount), med.Dosage.Unit, med.Name, scheduled.Format("15:04"))

	switch med.Schedule.MealRelation {
	case model.MealRelationBefore:
		b.WriteString(" Take before a meal.")
	case model.MealRelationWith:
		b.WriteString(" Take with a meal.")
	case model.MealRelationAfter:
		b.WriteString(" Take after a meal.")
	}
	if med.Instructions != "" {
		b.WriteString(" ")
		b.WriteString(med.Instructions)
	}
	return b.String()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
