package reminder

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/jobs"
)

// Trigger keys. The recurring-trigger registry is the source of truth for
// whether the scheduler is running; no cached flag is kept here.
const (
	globalTriggerKey     = "reminder-global"
	userTriggerKeyPrefix = "reminder-user-"
	triggerNowJobName    = "reminder-run-all"
)

func userTriggerKey(id uuid.UUID) string {
	return userTriggerKeyPrefix + id.String()
}

// SchedulerStore is the repository slice the scheduler needs.
type SchedulerStore interface {
	GetSettings(ctx context.Context) (*db.Settings, error)
	DistinctAccountUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Status reports the scheduler state derived from the trigger registry and
// the job queue counters.
type Status struct {
	Running      bool       `json:"running"`
	Interval     string     `json:"interval"`
	NextFire     time.Time  `json:"next_fire"`
	QueueDepth   int        `json:"queue_depth"`
	UserTriggers int        `json:"user_triggers"`
	Jobs         jobs.Stats `json:"jobs"`
}

// Scheduler maintains the global recurring trigger plus one trigger per
// account-owning user, all bound to the fan-out job.
type Scheduler struct {
	store    SchedulerStore
	triggers *jobs.Recurring
	queue    *jobs.Queue
	fanout   *Fanout
	logger   *zap.Logger
}

func NewScheduler(store SchedulerStore, triggers *jobs.Recurring, queue *jobs.Queue, fanout *Fanout, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		triggers: triggers,
		queue:    queue,
		fanout:   fanout,
		logger:   logger,
	}
}

// Start registers the global trigger and syncs one trigger per distinct
// account-owning user. A no-op when auto reminders are disabled.
// Re-invoking while running re-registers the triggers, so interval changes
// take effect without a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	if !settings.Reminder.EnableAutoReminder {
		s.logger.Info("auto reminder disabled, scheduler not started")
		return nil
	}

	expr := settings.Reminder.CheckInterval

	if err := s.triggers.AddOrUpdate(globalTriggerKey, expr, s.fanout.RunAll); err != nil {
		return err
	}

	ids, err := s.store.DistinctAccountUserIDs(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		userID := id
		key := userTriggerKey(userID)
		want[key] = true
		if err := s.triggers.AddOrUpdate(key, expr, func(ctx context.Context) error {
			return s.fanout.RunForUser(ctx, userID)
		}); err != nil {
			return err
		}
	}

	// Drop triggers for users that no longer own accounts.
	for _, key := range s.triggers.Keys() {
		if strings.HasPrefix(key, userTriggerKeyPrefix) && !want[key] {
			s.triggers.Remove(key)
		}
	}

	s.logger.Info("reminder scheduler started",
		zap.String("interval", expr),
		zap.Int("user_triggers", len(ids)),
	)

	return nil
}

// Stop unregisters the global trigger and all per-user triggers. Safe to
// call when not running; jobs already dispatched to workers are not
// canceled.
func (s *Scheduler) Stop() {
	s.triggers.Remove(globalTriggerKey)
	for _, key := range s.triggers.Keys() {
		if strings.HasPrefix(key, userTriggerKeyPrefix) {
			s.triggers.Remove(key)
		}
	}

	s.logger.Info("reminder scheduler stopped")
}

// TriggerNow enqueues a single one-off fan-out run, independent of the
// recurring schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.queue.Enqueue(triggerNowJobName, s.fanout.RunAll)
}

// StartForUser registers the recurring trigger for one user. The cadence
// is the global check interval; there is no per-user interval.
func (s *Scheduler) StartForUser(ctx context.Context, userID uuid.UUID) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	if !settings.Reminder.EnableAutoReminder {
		s.logger.Info("auto reminder disabled, user trigger not started",
			zap.String("user_id", userID.String()),
		)
		return nil
	}

	return s.triggers.AddOrUpdate(userTriggerKey(userID), settings.Reminder.CheckInterval, func(ctx context.Context) error {
		return s.fanout.RunForUser(ctx, userID)
	})
}

// StopForUser unregisters one user's trigger. A no-op for unknown users.
func (s *Scheduler) StopForUser(userID uuid.UUID) {
	s.triggers.Remove(userTriggerKey(userID))
}

// Status reports whether the global trigger is registered, the interval
// expression, the computed next fire time and the job queue counters.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	running := s.triggers.Contains(globalTriggerKey)

	interval, ok := s.triggers.Expr(globalTriggerKey)
	if !ok {
		settings, err := s.store.GetSettings(ctx)
		if err != nil {
			return nil, err
		}
		interval = settings.Reminder.CheckInterval
	}

	userTriggers := 0
	for _, key := range s.triggers.Keys() {
		if strings.HasPrefix(key, userTriggerKeyPrefix) {
			userTriggers++
		}
	}

	stats := s.queue.Stats()

	return &Status{
		Running:      running,
		Interval:     interval,
		NextFire:     s.triggers.NextFire(interval, time.Now()),
		QueueDepth:   stats.Depth,
		UserTriggers: userTriggers,
		Jobs:         stats,
	}, nil
}
