package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/medication-api/internal/service/reminder"
	"github.com/jwalitptl/medication-api/pkg/logger"
)

const (
	tickLockKey  = "lock:reminder-tick"
	sweepLockKey = "lock:missed-sweep"
)

// Scheduler is the part of reminder.Scheduler the worker drives.
type Scheduler interface {
	RunTick(ctx context.Context, now time.Time) (*reminder.TickReport, error)
	SweepMissed(ctx context.Context, now time.Time) (*reminder.SweepReport, error)
}

type ReminderWorkerConfig struct {
	TickInterval  time.Duration
	SweepInterval time.Duration
	LockTTL       time.Duration
}

// ReminderWorker triggers the reminder tick and the missed-dose sweep on a
// fixed cadence. Overlapping runs are skipped, both within the process and,
// with a RedisLocker, across replicas.
type ReminderWorker struct {
	scheduler Scheduler
	locker    Locker
	config    ReminderWorkerConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewReminderWorker(scheduler Scheduler, locker Locker, config ReminderWorkerConfig, logger *logger.Logger) *ReminderWorker {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.LockTTL <= 0 {
		config.LockTTL = config.TickInterval
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	return &ReminderWorker{
		scheduler: scheduler,
		locker:    locker,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the cron loop until ctx is cancelled and in-flight jobs finish.
func (w *ReminderWorker) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(w.logger),
		cron.WithChain(cron.Recover(w.logger), cron.SkipIfStillRunning(w.logger)),
	)

	if _, err := c.AddFunc(every(w.config.TickInterval), func() {
		if err := w.Tick(ctx); err != nil {
			w.logger.Error(err, "Reminder tick failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reminder tick: %w", err)
	}

	if _, err := c.AddFunc(every(w.config.SweepInterval), func() {
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error(err, "Missed-dose sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule missed-dose sweep: %w", err)
	}

	w.logger.Info("Starting reminder worker",
		"tick_interval", w.config.TickInterval.String(),
		"sweep_interval", w.config.SweepInterval.String())

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	w.logger.Info("Reminder worker stopped")
	return nil
}

// Tick runs one reminder tick if no other runner holds the tick lock.
func (w *ReminderWorker) Tick(ctx context.Context) error {
	release, ok, err := w.locker.TryLock(ctx, tickLockKey, w.config.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		w.logger.Debug("Reminder tick already running elsewhere")
		return nil
	}
	defer release()

	_, err = w.scheduler.RunTick(ctx, w.now())
	return err
}

// Sweep runs one missed-dose sweep under the sweep lock.
func (w *ReminderWorker) Sweep(ctx context.Context) error {
	release, ok, err := w.locker.TryLock(ctx, sweepLockKey, w.config.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		w.logger.Debug("Missed-dose sweep already running elsewhere")
		return nil
	}
	defer release()

	_, err = w.scheduler.SweepMissed(ctx, w.now())
	return err
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
