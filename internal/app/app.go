package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/medication-api/internal/config"
	"github.com/jwalitptl/medication-api/internal/email"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/internal/repository/memory"
	"github.com/jwalitptl/medication-api/internal/repository/postgres"
	"github.com/jwalitptl/medication-api/internal/service/event"
	"github.com/jwalitptl/medication-api/internal/service/notification"
	"github.com/jwalitptl/medication-api/internal/service/reminder"
	"github.com/jwalitptl/medication-api/internal/worker"
	"github.com/jwalitptl/medication-api/pkg/circuitbreaker"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/messaging"
	"github.com/jwalitptl/medication-api/pkg/messaging/redis"
	"github.com/jwalitptl/medication-api/pkg/metrics"
	pkgworker "github.com/jwalitptl/medication-api/pkg/worker"
)

const metricsNamespace = "medication"

// App holds the infrastructure shared by the API server and the worker.
type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	// Location is the zone schedule times and day boundaries are read in.
	Location   *time.Location
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Store      repository.Store
	Redis      *goredis.Client
	Broker     messaging.Broker
	Dispatcher *notification.Dispatcher
}

// NewLogger builds the process logger and makes it the zerolog global, which
// the request logging middleware writes to.
func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	lg := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
	log.Logger = *lg.Zerolog()
	return lg
}

// New opens the store and the optional Redis connection and assembles the
// notification pipeline. Redis is used only when the scheduler lock is
// "redis"; otherwise events stay in process.
func New(ctx context.Context, cfg *config.Config, lg *logger.Logger) (*App, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   lg,
		Location: loc,
		Registry: reg,
		Metrics:  metrics.NewMetrics(reg, metricsNamespace),
	}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Scheduler.Lock == "redis" {
		client, err := redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
		if err != nil {
			store.Close()
			return nil, err
		}
		a.Redis = client
		a.Broker = redis.NewRedisBroker(client, lg.Zerolog())
	} else {
		a.Broker = messaging.NewLocalBroker()
	}

	var emailSvc email.Service
	var breaker *circuitbreaker.CircuitBreaker
	if smtp := cfg.Notification.SMTP; smtp.Enabled() {
		emailSvc = email.NewSMTPService(email.Config{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
		})
		bc := cfg.Notification.Breaker
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:             "smtp",
			MaxRequests:      bc.MaxRequests,
			Interval:         bc.Interval,
			Timeout:          bc.Timeout,
			FailureThreshold: bc.FailureThreshold,
			OnStateChange: func(name, from, to string) {
				lg.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		})
	}

	notifier := notification.NewService(
		store.Notifications(),
		emailSvc,
		breaker,
		a.Broker,
		notification.Config{
			EmailTo:     cfg.Notification.EmailTo,
			PushChannel: cfg.Notification.PushChannel,
		},
		lg,
	)
	a.Dispatcher = notification.NewDispatcher(
		notifier,
		event.NewService(store.Outbox(), lg),
		notification.DispatcherConfig{
			Timeout:     cfg.Notification.DispatchTimeout,
			MaxInFlight: cfg.Notification.MaxInFlight,
		},
		lg,
		a.Metrics,
	)

	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.NewStore(db), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Scheduler builds the reminder scheduler over the shared store and dispatcher.
func (a *App) Scheduler() *reminder.Scheduler {
	sc := a.Config.Scheduler
	return reminder.NewScheduler(a.Store, a.Dispatcher, reminder.Config{
		Lookahead:          sc.Lookahead,
		MissedGracePeriod:  sc.MissedGracePeriod,
		MaxConcurrency:     sc.MaxConcurrency,
		SweepBatchSize:     sc.SweepBatchSize,
		OccurrenceCacheTTL: sc.OccurrenceCacheTTL,
		Location:           a.Location,
	}, a.Logger, a.Metrics)
}

// Locker returns a Redis lock when Redis is connected, a process-local one
// otherwise.
func (a *App) Locker() worker.Locker {
	if a.Redis != nil {
		return worker.NewRedisLocker(a.Redis, "medapi:")
	}
	return worker.NewLocalLocker()
}

// StartOutbox runs the outbox processor and the retention cleanup until ctx
// is cancelled.
func (a *App) StartOutbox(ctx context.Context) {
	processor := pkgworker.NewOutboxProcessor(
		a.Store.Outbox(),
		a.Broker,
		a.Config.Outbox.ToWorkerConfig(),
		a.Logger,
		a.Metrics,
	)
	go processor.Start(ctx)

	if a.Config.Outbox.Retention > 0 && a.Config.Outbox.CleanupInterval > 0 {
		cleanup := pkgworker.NewOutboxCleanupWorker(
			a.Store.Outbox(),
			a.Config.Outbox.Retention,
			a.Config.Outbox.CleanupInterval,
			a.Logger,
		)
		go cleanup.Start(ctx)
	}
}

// Close waits for in-flight deliveries, then releases the broker and store.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Error(err, "failed to close broker")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error(err, "failed to close store")
		}
	}
}
