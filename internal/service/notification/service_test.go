package notification

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository/memory"
	"github.com/jwalitptl/medication-api/pkg/circuitbreaker"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/messaging"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type fakeEmail struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeEmail) SendCustom(_ context.Context, to, subject, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject+"|"+content)
	return nil
}

func testMedication() *model.Medication {
	return &model.Medication{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Name:   "Metformin",
		Dosage: model.Dosage{Amount: 500, Unit: "mg"},
		Schedule: model.Schedule{
			Frequency:    model.FrequencyDaily,
			Times:        []string{"08:00"},
			MealRelation: model.MealRelationWith,
		},
		Inventory: model.Inventory{CurrentQuantity: 4, RefillThreshold: 5},
		IsActive:  true,
	}
}

func TestServiceSendReminderEmailAndPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	mail := &fakeEmail{}
	broker := messaging.NewLocalBroker()
	defer broker.Close()

	pushes, err := broker.Subscribe(ctx, "notifications")
	require.NoError(t, err)

	svc := NewService(store.Notifications(), mail, nil, broker, Config{EmailTo: "me@example.com"}, logger.Nop())

	med := testMedication()
	at := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	require.NoError(t, svc.SendReminder(ctx, ReminderRequest{UserID: med.UserID, Medication: med, ScheduledTime: at}))

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "me@example.com|Time to take Metformin|Take 500 mg of Metformin at 08:00. Take with a meal.", mail.sent[0])

	select {
	case raw := <-pushes:
		var msg pushMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, model.EffectReminder, msg.Kind)
		assert.Equal(t, med.ID, msg.MedicationID)
	case <-time.After(time.Second):
		t.Fatal("push not published")
	}

	records := store.NotificationRecords()
	require.Len(t, records, 2)
	for _, n := range records {
		assert.Equal(t, model.NotificationStatusSent, n.Status)
		assert.NotNil(t, n.SentAt)
	}
}

func TestServiceRecordsFailedChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mail := &fakeEmail{err: errors.New("smtp refused")}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: "email", Timeout: time.Hour, FailureThreshold: 1})

	svc := NewService(store.Notifications(), mail, breaker, nil, Config{EmailTo: "me@example.com"}, logger.Nop())

	med := testMedication()
	at := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	err := svc.SendCriticalMissedAlert(ctx, AlertRequest{UserID: med.UserID, Medication: med, ScheduledTime: at})

	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, model.EffectCriticalMissedAlert, deliveryErr.Kind)

	records := store.NotificationRecords()
	require.Len(t, records, 1)
	assert.Equal(t, model.NotificationStatusFailed, records[0].Status)
	assert.Equal(t, model.PriorityHigh, records[0].Priority)
	require.NotNil(t, records[0].LastError)

	// The breaker is now open; the next send fails fast.
	err = svc.SendCriticalMissedAlert(ctx, AlertRequest{UserID: med.UserID, Medication: med, ScheduledTime: at})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestServiceWithoutChannelsIsNoop(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Notifications(), nil, nil, nil, Config{}, logger.Nop())

	med := testMedication()
	require.NoError(t, svc.SendRefillReminder(context.Background(), RefillRequest{UserID: med.UserID, Medication: med}))
	assert.Empty(t, store.NotificationRecords())
}

type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	reminders []ReminderRequest
	alerts    []AlertRequest
	refills   []RefillRequest
}

func (f *fakeNotifier) SendReminder(_ context.Context, req ReminderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, req)
	return f.err
}

func (f *fakeNotifier) SendCriticalMissedAlert(_ context.Context, req AlertRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, req)
	return f.err
}

func (f *fakeNotifier) SendRefillReminder(_ context.Context, req RefillRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refills = append(f.refills, req)
	return f.err
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.DoseEvent
}

func (f *fakeSink) Publish(_ context.Context, e model.DoseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func TestDispatcherRoutesEffects(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := &fakeSink{}
	d := NewDispatcher(notifier, sink, DispatcherConfig{Timeout: time.Second, MaxInFlight: 2}, logger.Nop(), metrics.New("test"))

	med := testMedication()
	at := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	log := model.NewPendingDoseLog(med, at, at)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, []model.Effect{
		model.NewReminderEffect(med, log),
		model.NewCriticalMissedAlertEffect(med, log),
		model.NewRefillReminderEffect(med),
		model.NewDoseEventEffect(model.DoseEventMissed, med.UserID, med, log),
	})
	// Cancelling the caller does not abort delivery.
	cancel()
	d.Wait()

	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, at, notifier.reminders[0].ScheduledTime)
	assert.Len(t, notifier.alerts, 1)
	assert.Len(t, notifier.refills, 1)
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.DoseEventMissed, sink.events[0].Type)
}

func TestDispatcherSwallowsNotifierErrors(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("push gateway down")}
	d := NewDispatcher(notifier, &fakeSink{}, DispatcherConfig{}, logger.Nop(), metrics.New("test"))

	med := testMedication()
	at := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), []model.Effect{model.NewReminderEffect(med, model.NewPendingDoseLog(med, at, at))})
		d.Wait()
	})
	assert.Len(t, notifier.reminders, 1)
	assert.Error(t, d.Deliver(context.Background(), model.Effect{Kind: "bogus"}))
}

type blockingNotifier struct {
	fakeNotifier
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingNotifier) SendReminder(ctx context.Context, req ReminderRequest) error {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-b.release
	return b.fakeNotifier.SendReminder(ctx, req)
}

func TestDispatcherBoundsGoroutines(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(notifier, &fakeSink{}, DispatcherConfig{Timeout: 5 * time.Second, MaxInFlight: 2}, logger.Nop(), metrics.New("test"))

	med := testMedication()
	start := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	var effects []model.Effect
	for i := 0; i < 100; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		effects = append(effects, model.NewReminderEffect(med, model.NewPendingDoseLog(med, at, at)))
	}

	before := runtime.NumGoroutine()
	returned := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), effects)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a saturated dispatcher")
	}

	assert.Eventually(t, func() bool { return notifier.inFlight.Load() == 2 }, time.Second, 5*time.Millisecond)
	// Two deliveries plus the feeder, with slack for runtime goroutines.
	assert.LessOrEqual(t, runtime.NumGoroutine()-before, 6)

	close(notifier.release)
	d.Wait()

	assert.Len(t, notifier.reminders, 100)
	assert.Equal(t, int32(2), notifier.peak.Load())
}
