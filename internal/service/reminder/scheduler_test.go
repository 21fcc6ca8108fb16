package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/internal/model"
	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/internal/repository/memory"
	"github.com/jwalitptl/medication-api/internal/service/notification"
	"github.com/jwalitptl/medication-api/pkg/logger"
	"github.com/jwalitptl/medication-api/pkg/metrics"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	effects []model.Effect
}

func (d *recordingDispatcher) Dispatch(_ context.Context, effects []model.Effect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.effects = append(d.effects, effects...)
}

func (d *recordingDispatcher) kinds() []model.EffectKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	var kinds []model.EffectKind
	for _, e := range d.effects {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

var monday = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newTestScheduler(store repository.Store, d Dispatcher) *Scheduler {
	return NewScheduler(store, d, Config{
		Lookahead:         5 * time.Minute,
		MissedGracePeriod: time.Hour,
		MaxConcurrency:    4,
		Location:          time.UTC,
	}, logger.Nop(), metrics.New("test"))
}

func seedMedication(t *testing.T, store repository.Store, mutate func(*model.Medication)) *model.Medication {
	t.Helper()
	med := &model.Medication{
		UserID: uuid.New(),
		Name:   "Lisinopril",
		Dosage: model.Dosage{Amount: 10, Unit: "mg"},
		Schedule: model.Schedule{
			Frequency: model.FrequencyDaily,
			Times:     []string{"08:00"},
			StartDate: monday.AddDate(0, 0, -7),
		},
		Inventory: model.Inventory{CurrentQuantity: 30, RefillThreshold: 5},
		IsActive:  true,
	}
	if mutate != nil {
		mutate(med)
	}
	require.NoError(t, store.Medications().Create(context.Background(), med))
	return med
}

func TestIsDueWindowIsClosed(t *testing.T) {
	scheduled := at(8, 0)
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"four minutes early", at(7, 56), true},
		{"window start", at(7, 55), true},
		{"exactly on time", at(8, 0), true},
		{"ten minutes early", at(7, 50), false},
		{"six minutes late", at(8, 6), false},
		{"one minute late", at(8, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDue(scheduled, tt.now, 5*time.Minute))
		})
	}
}

func TestRunTickCreatesPendingLogAndReminder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	med := seedMedication(t, store, nil)

	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Created)

	log, err := store.DoseLogs().GetByOccurrence(ctx, med.ID, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, model.DoseStatusPending, log.Status)
	assert.Equal(t, med.UserID, log.UserID)

	require.Len(t, d.effects, 1)
	assert.Equal(t, model.EffectReminder, d.effects[0].Kind)
	assert.Equal(t, at(8, 0), d.effects[0].ScheduledTime)
}

func TestRunTickOutsideWindowDoesNothing(t *testing.T) {
	ctx := context.Background()
	for _, now := range []time.Time{at(7, 50), at(8, 6)} {
		store := memory.NewStore()
		d := &recordingDispatcher{}
		s := newTestScheduler(store, d)
		med := seedMedication(t, store, nil)

		report, err := s.RunTick(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, report.Due)
		assert.Empty(t, d.effects)

		_, err = store.DoseLogs().GetByOccurrence(ctx, med.ID, at(8, 0))
		assert.Error(t, err)
	}
}

func TestRunTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)
	med := seedMedication(t, store, nil)

	_, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)

	second, err := s.RunTick(ctx, at(7, 58))
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Skipped)

	// A fresh scheduler has an empty cache and relies on the store alone.
	other := newTestScheduler(store, d)
	third, err := other.RunTick(ctx, at(8, 0))
	require.NoError(t, err)
	assert.Zero(t, third.Created)

	logs, err := store.DoseLogs().ListByUser(ctx, med.UserID, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, []model.EffectKind{model.EffectReminder}, d.kinds())
}

func TestConcurrentTicksCreateOneLog(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	med := seedMedication(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newTestScheduler(store, d).RunTick(ctx, at(7, 57))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	logs, err := store.DoseLogs().ListByUser(ctx, med.UserID, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Len(t, d.effects, 1)
}

func TestRunTickSkipsUnscheduledMedications(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	inactive := seedMedication(t, store, nil)
	require.NoError(t, store.Medications().Deactivate(ctx, inactive.ID))

	seedMedication(t, store, func(m *model.Medication) {
		m.Schedule.Frequency = model.FrequencyAsNeeded
	})
	seedMedication(t, store, func(m *model.Medication) {
		m.Schedule.StartDate = monday.AddDate(0, 0, 1)
	})
	seedMedication(t, store, func(m *model.Medication) {
		m.Schedule.Frequency = model.FrequencySpecificDays
		m.Schedule.DaysOfWeek = []int{int(time.Tuesday), int(time.Thursday)}
	})

	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Zero(t, report.Due)
	assert.Empty(t, d.effects)
}

func TestRunTickSkipsMalformedSchedule(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	bad := seedMedication(t, store, func(m *model.Medication) {
		m.Name = "Broken"
		m.Schedule.Times = []string{"08:00", "25:99"}
	})
	good := seedMedication(t, store, nil)

	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Created)

	_, err = store.DoseLogs().GetByOccurrence(ctx, bad.ID, at(8, 0))
	assert.Error(t, err)
	_, err = store.DoseLogs().GetByOccurrence(ctx, good.ID, at(8, 0))
	assert.NoError(t, err)
}

func TestRunTickHandlesTwelveHourTimes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	med := seedMedication(t, store, func(m *model.Medication) {
		m.Schedule.Times = []string{"8:00 AM", "8:00 pm"}
	})

	report, err := s.RunTick(ctx, at(19, 58))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	_, err = store.DoseLogs().GetByOccurrence(ctx, med.ID, at(20, 0))
	assert.NoError(t, err)
}

type failingMedications struct {
	repository.MedicationRepository
}

func (failingMedications) ListActive(context.Context) ([]*model.Medication, error) {
	return nil, errors.New("connection refused")
}

type failingStore struct {
	*memory.Store
}

func (s failingStore) Medications() repository.MedicationRepository {
	return failingMedications{s.Store.Medications()}
}

func TestRunTickFailsWhenMedicationsCannotBeLoaded(t *testing.T) {
	store := failingStore{memory.NewStore()}
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	_, err := s.RunTick(context.Background(), at(7, 56))
	assert.Error(t, err)
	assert.Empty(t, d.effects)
}

func TestRunTickReadsTimesInConfiguredZone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)
	med := seedMedication(t, store, nil)

	// 03:56 EDT is 07:56 UTC: the 08:00 dose is due in the scheduler's zone.
	edt := time.FixedZone("EDT", -4*3600)
	report, err := s.RunTick(ctx, at(7, 56).In(edt))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, time.UTC, report.Now.Location())

	// The same instant in UTC, seen by a scheduler with a cold cache.
	other := newTestScheduler(store, d)
	report, err = other.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Equal(t, 1, report.Skipped)

	logs, err := store.DoseLogs().ListByUser(ctx, med.UserID, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, at(8, 0).Equal(logs[0].ScheduledTime))
}

func TestRunTickInNonUTCZone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	edt := time.FixedZone("EDT", -4*3600)
	s := NewScheduler(store, &recordingDispatcher{}, Config{
		Lookahead: 5 * time.Minute,
		Location:  edt,
	}, logger.Nop(), metrics.New("test"))
	med := seedMedication(t, store, nil)

	// 07:56 UTC is 03:56 EDT: nothing is due yet.
	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	// 11:56 UTC is 07:56 EDT.
	report, err = s.RunTick(ctx, at(11, 56))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	_, err = store.DoseLogs().GetByOccurrence(ctx, med.ID, at(12, 0))
	assert.NoError(t, err)
}

type panickingDoseLogs struct {
	repository.DoseLogRepository
	medicationID uuid.UUID
}

func (r panickingDoseLogs) CreatePending(ctx context.Context, log *model.DoseLog) (bool, error) {
	if log.MedicationID == r.medicationID {
		panic("corrupt row")
	}
	return r.DoseLogRepository.CreatePending(ctx, log)
}

type panickingStore struct {
	*memory.Store
	medicationID uuid.UUID
}

func (s panickingStore) DoseLogs() repository.DoseLogRepository {
	return panickingDoseLogs{s.Store.DoseLogs(), s.medicationID}
}

func TestRunTickSurvivesPanicInOneMedication(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	bad := seedMedication(t, mem, nil)
	good := seedMedication(t, mem, func(m *model.Medication) { m.Name = "Amlodipine" })

	d := &recordingDispatcher{}
	s := newTestScheduler(panickingStore{mem, bad.ID}, d)

	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)

	_, err = mem.DoseLogs().GetByOccurrence(ctx, good.ID, at(8, 0))
	assert.NoError(t, err)
	_, err = mem.DoseLogs().GetByOccurrence(ctx, bad.ID, at(8, 0))
	assert.Error(t, err)
	assert.Equal(t, []model.EffectKind{model.EffectReminder}, d.kinds())
}

type failingNotifier struct{}

func (failingNotifier) SendReminder(context.Context, notification.ReminderRequest) error {
	return errors.New("push gateway down")
}

func (failingNotifier) SendCriticalMissedAlert(context.Context, notification.AlertRequest) error {
	return errors.New("push gateway down")
}

func (failingNotifier) SendRefillReminder(context.Context, notification.RefillRequest) error {
	return errors.New("push gateway down")
}

type nopSink struct{}

func (nopSink) Publish(context.Context, model.DoseEvent) error { return nil }

func TestNotifierFailureKeepsPendingLog(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := notification.NewDispatcher(failingNotifier{}, nopSink{}, notification.DispatcherConfig{}, logger.Nop(), metrics.New("test"))
	s := newTestScheduler(store, d)
	med := seedMedication(t, store, nil)

	report, err := s.RunTick(ctx, at(7, 56))
	require.NoError(t, err)
	d.Wait()
	assert.Equal(t, 1, report.Created)

	log, err := store.DoseLogs().GetByOccurrence(ctx, med.ID, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, model.DoseStatusPending, log.Status)
}

func TestSweepMissed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)

	critical := seedMedication(t, store, func(m *model.Medication) {
		m.Name = "Warfarin"
		m.IsCritical = true
	})
	routine := seedMedication(t, store, func(m *model.Medication) {
		m.Schedule.Times = []string{"08:30"}
	})

	_, err := s.RunTick(ctx, at(8, 0))
	require.NoError(t, err)
	_, err = s.RunTick(ctx, at(8, 28))
	require.NoError(t, err)
	d.effects = nil

	// 08:30 is still inside the grace period at 09:01.
	report, err := s.SweepMissed(ctx, at(9, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Missed)
	assert.ElementsMatch(t, []model.EffectKind{model.EffectDoseEvent, model.EffectCriticalMissedAlert}, d.kinds())

	log, err := store.DoseLogs().GetByOccurrence(ctx, critical.ID, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, model.DoseStatusMissed, log.Status)

	log, err = store.DoseLogs().GetByOccurrence(ctx, routine.ID, at(8, 30))
	require.NoError(t, err)
	assert.Equal(t, model.DoseStatusPending, log.Status)

	d.effects = nil
	report, err = s.SweepMissed(ctx, at(9, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missed)
	require.Len(t, d.effects, 1)
	assert.Equal(t, model.EffectDoseEvent, d.effects[0].Kind)
	assert.Equal(t, model.DoseEventMissed, d.effects[0].EventType)
}

func TestSweepMissedLeavesConfirmedDoses(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d := &recordingDispatcher{}
	s := newTestScheduler(store, d)
	med := seedMedication(t, store, nil)

	_, err := s.RunTick(ctx, at(8, 0))
	require.NoError(t, err)

	log, err := store.DoseLogs().GetByOccurrence(ctx, med.ID, at(8, 0))
	require.NoError(t, err)
	log.MarkTaken(at(8, 5), model.ConfirmationManual, "", nil)
	require.NoError(t, store.DoseLogs().Update(ctx, log))

	report, err := s.SweepMissed(ctx, at(12, 0))
	require.NoError(t, err)
	assert.Zero(t, report.Examined)
	assert.Zero(t, report.Missed)
}
