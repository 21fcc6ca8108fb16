package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/service/event"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type DispatcherConfig struct {
	// Timeout bounds each delivery.
	Timeout time.Duration
	// MaxInFlight bounds concurrent deliveries.
	MaxInFlight int
}

// Dispatcher delivers effects produced by the scheduler and dose service in
// the background. Failures are logged and counted, never returned: the state
// change that produced an effect is already committed.
type Dispatcher struct {
	notifier Notifier
	sink     event.Sink
	config   DispatcherConfig
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewDispatcher(notifier Notifier, sink event.Sink, config DispatcherConfig, logger *logger.Logger, metrics *metrics.Metrics) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 32
	}

	return &Dispatcher{
		notifier: notifier,
		sink:     sink,
		config:   config,
		sem:      make(chan struct{}, config.MaxInFlight),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Dispatch starts delivery of effects and returns immediately. Deliveries
// outlive ctx's cancellation but keep its values. At most MaxInFlight
// delivery goroutines exist at once; the rest of a batch waits in one feeder.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []model.Effect) {
	if len(effects) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, effect := range effects {
			d.sem <- struct{}{}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				d.deliverLogged(base, effect)
			}()
		}
	}()
}

func (d *Dispatcher) deliverLogged(base context.Context, effect model.Effect) {
	ctx, cancel := context.WithTimeout(base, d.config.Timeout)
	defer cancel()

	if err := d.Deliver(ctx, effect); err != nil {
		d.metrics.EffectsDispatched.WithLabelValues(string(effect.Kind), "failed").Inc()
		d.logger.WithContext(ctx).Error(err, "Failed to deliver effect",
			"kind", string(effect.Kind),
			"user_id", effect.UserID.String(),
			"scheduled_time", effect.ScheduledTime)
		return
	}
	d.metrics.EffectsDispatched.WithLabelValues(string(effect.Kind), "success").Inc()
}

// Deliver hands one effect to its collaborator and waits for the result.
func (d *Dispatcher) Deliver(ctx context.Context, effect model.Effect) error {
	switch effect.Kind {
	case model.EffectReminder:
		return d.notifier.SendReminder(ctx, ReminderRequest{
			UserID:        effect.UserID,
			Medication:    effect.Medication,
			ScheduledTime: effect.ScheduledTime,
		})
	case model.EffectCriticalMissedAlert:
		return d.notifier.SendCriticalMissedAlert(ctx, AlertRequest{
			UserID:        effect.UserID,
			Medication:    effect.Medication,
			ScheduledTime: effect.ScheduledTime,
		})
	case model.EffectRefillReminder:
		return d.notifier.SendRefillReminder(ctx, RefillRequest{
			UserID:     effect.UserID,
			Medication: effect.Medication,
		})
	case model.EffectDoseEvent:
		return d.sink.Publish(ctx, effect.Event(d.now()))
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
}

// Wait blocks until every dispatched effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
