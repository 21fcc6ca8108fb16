package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/metrics"
	"github.com/jwalitptl/medication-api/pkg/timeofday"
)

const (
	DefaultLookahead         = 5 * time.Minute
	DefaultMissedGracePeriod = time.Hour
)

// Dispatcher delivers effects asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, effects []model.Effect)
}

type Config struct {
	Lookahead          time.Duration
	MissedGracePeriod  time.Duration
	MaxConcurrency     int
	SweepBatchSize     int
	OccurrenceCacheTTL time.Duration
	// Location is the zone schedule times are read in. Nil means time.Local.
	Location *time.Location
}

// TickReport summarises one RunTick.
type TickReport struct {
	Now     time.Time
	Scanned int
	Due     int
	Created int
	Skipped int
	Failed  int
	Effects []model.Effect
}

type SweepReport struct {
	Examined int
	Missed   int
	Effects  []model.Effect
}

// Scheduler finds dose occurrences that fall due and records a pending entry
// and a reminder for each one exactly once.
type Scheduler struct {
	store      repository.Store
	dispatcher Dispatcher
	config     Config
	seen       *cache.Cache
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewScheduler(store repository.Store, dispatcher Dispatcher, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Scheduler {
	if config.Lookahead <= 0 {
		config.Lookahead = DefaultLookahead
	}
	if config.MissedGracePeriod <= 0 {
		config.MissedGracePeriod = DefaultMissedGracePeriod
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 500
	}
	if config.OccurrenceCacheTTL <= 0 {
		config.OccurrenceCacheTTL = 24 * time.Hour
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		config:     config,
		seen:       cache.New(config.OccurrenceCacheTTL, config.OccurrenceCacheTTL/2),
		logger:     logger,
		metrics:    metrics,
	}
}

// IsDue reports whether scheduled lies in the closed window [now, now+lookahead].
func IsDue(scheduled, now time.Time, lookahead time.Duration) bool {
	return !scheduled.Before(now) && !scheduled.After(now.Add(lookahead))
}

// DueOccurrences resolves med's times of day on now's calendar date and
// returns those inside the lookahead window. Any malformed time fails the
// whole medication.
func DueOccurrences(med *model.Medication, now time.Time, lookahead time.Duration) ([]time.Time, error) {
	var due []time.Time
	for _, raw := range med.Schedule.Times {
		tod, err := timeofday.Parse(raw)
		if err != nil {
			return nil, err
		}
		at := tod.On(now)
		if IsDue(at, now, lookahead) {
			due = append(due, at)
		}
	}
	return due, nil
}

type medicationResult struct {
	due, created, skipped, failed int
	effects                       []model.Effect
}

// RunTick scans active medications once. Only a failure to load medications
// is returned; per-medication problems are logged and counted. now is
// converted to the configured location, so its own zone does not matter.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) (*TickReport, error) {
	now = now.In(s.config.Location)

	timer := prometheus.NewTimer(s.metrics.TickDuration)
	defer timer.ObserveDuration()

	meds, err := s.store.Medications().ListActive(ctx)
	if err != nil {
		s.metrics.TicksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list active medications: %w", err)
	}

	report := &TickReport{Now: now, Scanned: len(meds)}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrency)

	for _, med := range meds {
		g.Go(func() error {
			res := s.safeProcessMedication(ctx, med, now)

			mu.Lock()
			defer mu.Unlock()
			report.Due += res.due
			report.Created += res.created
			report.Skipped += res.skipped
			report.Failed += res.failed
			report.Effects = append(report.Effects, res.effects...)
			return nil
		})
	}
	_ = g.Wait()

	sortEffects(report.Effects)
	if len(report.Effects) > 0 {
		s.dispatcher.Dispatch(ctx, report.Effects)
	}

	s.metrics.TicksTotal.WithLabelValues("success").Inc()
	s.metrics.OccurrencesDue.Add(float64(report.Due))
	s.metrics.DoseLogsCreated.Add(float64(report.Created))

	s.logger.Info("Reminder tick complete",
		"now", now,
		"scanned", report.Scanned,
		"due", report.Due,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed)

	return report, nil
}

// safeProcessMedication counts a panicking medication as failed so the rest
// of the tick still runs.
func (s *Scheduler) safeProcessMedication(ctx context.Context, med *model.Medication, now time.Time) (res medicationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = medicationResult{failed: 1}
			s.metrics.OccurrenceSkipped.WithLabelValues("panic").Inc()
			s.logger.Error(fmt.Errorf("panic: %v", r), "Recovered while processing medication",
				"medication_id", med.ID.String())
		}
	}()
	return s.processMedication(ctx, med, now)
}

func (s *Scheduler) processMedication(ctx context.Context, med *model.Medication, now time.Time) medicationResult {
	var res medicationResult

	if !med.ScheduledOn(now) {
		return res
	}

	times, err := DueOccurrences(med, now, s.config.Lookahead)
	if err != nil {
		res.failed++
		s.metrics.OccurrenceSkipped.WithLabelValues("malformed_time").Inc()
		s.logger.Warn("Skipping medication with malformed schedule",
			"medication_id", med.ID.String(),
			"times", med.Schedule.Times,
			"error", err.Error())
		return res
	}

	for _, at := range times {
		res.due++

		key := occurrenceKey(med.ID, at)
		if _, found := s.seen.Get(key); found {
			res.skipped++
			s.metrics.OccurrenceSkipped.WithLabelValues("cached").Inc()
			continue
		}

		log := model.NewPendingDoseLog(med, at, now)
		created, err := s.store.DoseLogs().CreatePending(ctx, log)
		if err != nil {
			res.failed++
			s.metrics.OccurrenceSkipped.WithLabelValues("store_error").Inc()
			s.logger.Error(err, "Failed to record pending dose",
				"medication_id", med.ID.String(),
				"scheduled_time", at)
			continue
		}
		s.seen.SetDefault(key, struct{}{})

		if !created {
			res.skipped++
			s.metrics.OccurrenceSkipped.WithLabelValues("already_logged").Inc()
			continue
		}

		res.created++
		res.effects = append(res.effects, model.NewReminderEffect(med, log))
	}

	return res
}

// SweepMissed moves pending entries older than the grace period to missed.
func (s *Scheduler) SweepMissed(ctx context.Context, now time.Time) (*SweepReport, error) {
	now = now.In(s.config.Location)
	cutoff := now.Add(-s.config.MissedGracePeriod)

	logs, err := s.store.DoseLogs().ListPendingBefore(ctx, cutoff, s.config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending dose logs: %w", err)
	}

	report := &SweepReport{Examined: len(logs)}
	meds := make(map[uuid.UUID]*model.Medication)

	for _, log := range logs {
		marked, err := s.store.DoseLogs().MarkMissed(ctx, log.ID, now)
		if err != nil {
			s.logger.Error(err, "Failed to mark dose missed", "dose_log_id", log.ID.String())
			continue
		}
		if !marked {
			// Confirmed or swept by someone else since it was listed.
			continue
		}
		log.Status = model.DoseStatusMissed
		log.UpdatedAt = now
		report.Missed++

		med, ok := meds[log.MedicationID]
		if !ok {
			med, err = s.store.Medications().Get(ctx, log.MedicationID)
			if err != nil {
				s.logger.Warn("Missed dose for unknown medication",
					"medication_id", log.MedicationID.String(),
					"error", err.Error())
				med = nil
			}
			meds[log.MedicationID] = med
		}

		report.Effects = append(report.Effects, model.NewDoseEventEffect(model.DoseEventMissed, log.UserID, med, log))
		if med != nil && med.IsCritical {
			report.Effects = append(report.Effects, model.NewCriticalMissedAlertEffect(med, log))
		}
	}

	if len(report.Effects) > 0 {
		s.dispatcher.Dispatch(ctx, report.Effects)
	}
	s.metrics.DosesMissed.Add(float64(report.Missed))

	if report.Missed > 0 {
		s.logger.Info("Marked doses missed", "missed", report.Missed, "cutoff", cutoff)
	}
	return report, nil
}

func occurrenceKey(medicationID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s|%d", medicationID, at.UnixNano())
}

func sortEffects(effects []model.Effect) {
	sort.SliceStable(effects, func(i, j int) bool {
		if !effects[i].ScheduledTime.Equal(effects[j].ScheduledTime) {
			return effects[i].ScheduledTime.Before(effects[j].ScheduledTime)
		}
		return effects[i].Medication.Name < effects[j].Medication.Name
	})
}
