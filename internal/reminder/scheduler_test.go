package reminder

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/jobs"
)

type fakeSchedulerStore struct {
	settings *db.Settings
	userIDs  []uuid.UUID
}

func (f *fakeSchedulerStore) GetSettings(ctx context.Context) (*db.Settings, error) {
	return f.settings, nil
}

func (f *fakeSchedulerStore) DistinctAccountUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return f.userIDs, nil
}

func newTestScheduler(t *testing.T, store *fakeSchedulerStore) (*Scheduler, *jobs.Recurring) {
	t.Helper()

	logger := zap.NewNop()
	queue := jobs.NewQueue(jobs.Config{}, logger)
	triggers := jobs.NewRecurring(queue, logger)
	t.Cleanup(triggers.Stop)

	eval := NewEvaluator(&fakeCandidateSource{}, logger)
	dispatcher := newTestDispatcher(&fakeStore{settings: store.settings}, &syncQueue{}, &fakeMailer{}, &fakeChat{}, &fakeHub{}, nil)
	fanout := NewFanout(&fakeUserSource{ids: store.userIDs}, eval, dispatcher, queue, logger)

	return NewScheduler(store, triggers, queue, fanout, logger), triggers
}

func TestSchedulerStartRegistersTriggers(t *testing.T) {
	users := []uuid.UUID{uuid.New(), uuid.New()}
	store := &fakeSchedulerStore{settings: db.DefaultSettings(), userIDs: users}

	s, triggers := newTestScheduler(t, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	if !triggers.Contains(globalTriggerKey) {
		t.Errorf("global trigger not registered")
	}
	for _, id := range users {
		if !triggers.Contains(userTriggerKey(id)) {
			t.Errorf("user trigger for %s not registered", id)
		}
	}

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() unexpected error: %v", err)
	}
	if !status.Running {
		t.Errorf("status must report running after Start")
	}
	if status.UserTriggers != len(users) {
		t.Errorf("expected %d user triggers, got %d", len(users), status.UserTriggers)
	}
	if status.Interval != store.settings.Reminder.CheckInterval {
		t.Errorf("interval = %q, want %q", status.Interval, store.settings.Reminder.CheckInterval)
	}
}

func TestSchedulerStartTwiceKeepsOneGlobalTrigger(t *testing.T) {
	store := &fakeSchedulerStore{settings: db.DefaultSettings(), userIDs: []uuid.UUID{uuid.New()}}

	s, triggers := newTestScheduler(t, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	globals := 0
	for _, key := range triggers.Keys() {
		if key == globalTriggerKey {
			globals++
		}
	}
	if globals != 1 {
		t.Errorf("expected exactly one global trigger, got %d", globals)
	}
}

func TestSchedulerStartRemovesStaleUserTriggers(t *testing.T) {
	gone := uuid.New()
	kept := uuid.New()
	store := &fakeSchedulerStore{settings: db.DefaultSettings(), userIDs: []uuid.UUID{gone, kept}}

	s, triggers := newTestScheduler(t, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	store.userIDs = []uuid.UUID{kept}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("re-Start() error: %v", err)
	}

	if triggers.Contains(userTriggerKey(gone)) {
		t.Errorf("trigger for departed user must be removed on re-sync")
	}
	if !triggers.Contains(userTriggerKey(kept)) {
		t.Errorf("trigger for remaining user must survive re-sync")
	}
}

func TestSchedulerDisabledAutoReminderDoesNotStart(t *testing.T) {
	settings := db.DefaultSettings()
	settings.Reminder.EnableAutoReminder = false
	store := &fakeSchedulerStore{settings: settings, userIDs: []uuid.UUID{uuid.New()}}

	s, triggers := newTestScheduler(t, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if triggers.Contains(globalTriggerKey) {
		t.Errorf("scheduler must not register triggers when auto reminder is disabled")
	}
}

func TestSchedulerStopSafeWhenNotRunning(t *testing.T) {
	store := &fakeSchedulerStore{settings: db.DefaultSettings()}

	s, _ := newTestScheduler(t, store)

	s.Stop() // must not panic

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.Running {
		t.Errorf("status must report not running")
	}
}

func TestSchedulerStopRemovesAllTriggers(t *testing.T) {
	store := &fakeSchedulerStore{settings: db.DefaultSettings(), userIDs: []uuid.UUID{uuid.New(), uuid.New()}}

	s, triggers := newTestScheduler(t, store)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s.Stop()

	if len(triggers.Keys()) != 0 {
		t.Errorf("expected no triggers after Stop, got %v", triggers.Keys())
	}
}

func TestSchedulerUserTriggerLifecycle(t *testing.T) {
	store := &fakeSchedulerStore{settings: db.DefaultSettings()}

	s, triggers := newTestScheduler(t, store)

	userID := uuid.New()
	if err := s.StartForUser(context.Background(), userID); err != nil {
		t.Fatalf("StartForUser() error: %v", err)
	}
	if !triggers.Contains(userTriggerKey(userID)) {
		t.Fatalf("user trigger not registered")
	}

	s.StopForUser(userID)
	if triggers.Contains(userTriggerKey(userID)) {
		t.Errorf("user trigger not removed")
	}

	s.StopForUser(uuid.New()) // unknown user, no-op
}

func TestSchedulerTriggerNowEnqueues(t *testing.T) {
	store := &fakeSchedulerStore{settings: db.DefaultSettings()}

	logger := zap.NewNop()
	queue := jobs.NewQueue(jobs.Config{}, logger)
	triggers := jobs.NewRecurring(queue, logger)
	t.Cleanup(triggers.Stop)

	eval := NewEvaluator(&fakeCandidateSource{}, logger)
	dispatcher := newTestDispatcher(&fakeStore{settings: store.settings}, &syncQueue{}, &fakeMailer{}, &fakeChat{}, &fakeHub{}, nil)
	fanout := NewFanout(&fakeUserSource{}, eval, dispatcher, queue, logger)
	s := NewScheduler(store, triggers, queue, fanout, logger)

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}

	if queue.Stats().Depth != 1 {
		t.Errorf("expected one queued job, depth = %d", queue.Stats().Depth)
	}
}
