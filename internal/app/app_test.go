package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/internal/config"
	"github.com/jwalitptl/medication-api/internal/repository/memory"
	"github.com/jwalitptl/medication-api/internal/worker"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/messaging"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Scheduler: config.SchedulerConfig{
			TickInterval: time.Minute,
			Lookahead:    5 * time.Minute,
			Lock:         "local",
		},
		Outbox: config.OutboxConfig{
			BatchSize:     10,
			PollInterval:  time.Second,
			RetryAttempts: 1,
			RetryDelay:    time.Millisecond,
		},
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.Store{}, a.Store)
	assert.IsType(t, &messaging.LocalBroker{}, a.Broker)
	assert.IsType(t, &worker.LocalLocker{}, a.Locker())
	assert.Nil(t, a.Redis)
	assert.Equal(t, time.Local, a.Location)
	require.NoError(t, a.Store.Ping(context.Background()))

	report, err := a.Scheduler().RunTick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"

	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewResolvesSchedulerTimezone(t *testing.T) {
	cfg := memoryConfig()
	cfg.Scheduler.Timezone = "UTC"

	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "UTC", a.Location.String())

	cfg.Scheduler.Timezone = "Nowhere/Special"
	_, err = New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
