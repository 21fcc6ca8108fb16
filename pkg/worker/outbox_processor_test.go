package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository/memory"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/messaging"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type recordingBroker struct {
	mu       sync.Mutex
	err      error
	channels []string
	messages []interface{}
}

func (b *recordingBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.channels = append(b.channels, channel)
	b.messages = append(b.messages, message)
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBroker) Close() error { return nil }

func newProcessor(store *memory.Store, broker messaging.Broker, attempts int) *OutboxProcessor {
	return NewOutboxProcessor(store.Outbox(), broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
		Channel:       "dose-events",
	}, logger.Nop(), metrics.New("test"))
}

func TestOutboxProcessorPublishesPendingEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &recordingBroker{}

	require.NoError(t, store.Outbox().Create(ctx, &model.OutboxEvent{
		EventType: "dose.taken",
		Payload:   json.RawMessage(`{"type":"taken"}`),
	}))

	p := newProcessor(store, broker, 3)
	n, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, broker.messages, 1)
	assert.Equal(t, "dose-events", broker.channels[0])
	msg := broker.messages[0].(messaging.Message)
	assert.Equal(t, "dose.taken", msg.Type)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusProcessed, events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)

	n, err = p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxProcessorSchedulesRetryThenFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &recordingBroker{err: errors.New("redis down")}

	require.NoError(t, store.Outbox().Create(ctx, &model.OutboxEvent{
		EventType: "dose.missed",
		Payload:   json.RawMessage(`{}`),
	}))

	p := newProcessor(store, broker, 2)
	n, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusRetry, events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "redis down", *events[0].ErrorMessage)

	// Make the retry due now and fail again: the attempt budget is spent.
	past := time.Now().Add(-time.Second)
	require.NoError(t, store.Outbox().UpdateStatus(ctx, events[0].ID, model.OutboxStatusPending, nil, &past))
	_, err = p.ProcessOnce(ctx)
	require.NoError(t, err)

	events = store.Events()
	assert.Equal(t, model.OutboxStatusFailed, events[0].Status)
}

func TestOutboxCleanupWorker(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Outbox().Create(ctx, &model.OutboxEvent{EventType: "dose.taken", Payload: json.RawMessage(`{}`)}))
	events := store.Events()
	require.NoError(t, store.Outbox().UpdateStatus(ctx, events[0].ID, model.OutboxStatusProcessed, nil, nil))

	w := NewOutboxCleanupWorker(store.Outbox(), time.Hour, time.Minute, logger.Nop())

	n, err := w.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "inside retention")

	n, err = w.Cleanup(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
