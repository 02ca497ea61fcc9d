package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// fallbackInterval is used when a trigger expression cannot be parsed.
const fallbackInterval = time.Hour

// Recurring maintains named cron triggers. Each trigger enqueues its job on
// the queue at every fire time. The registry itself is the source of truth
// for whether a trigger is active.
type Recurring struct {
	queue  *Queue
	logger *zap.Logger
	parser cron.Parser

	mu      sync.Mutex
	entries map[string]*trigger
}

type trigger struct {
	expr     string
	schedule cron.Schedule
	cancel   context.CancelFunc
}

// NewRecurring creates an empty trigger registry bound to a queue.
func NewRecurring(queue *Queue, logger *zap.Logger) *Recurring {
	return &Recurring{
		queue:  queue,
		logger: logger,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		entries: make(map[string]*trigger),
	}
}

// AddOrUpdate registers a trigger under key, replacing any existing one with
// the same key. An unparsable expression falls back to an hourly schedule
// instead of failing.
func (r *Recurring) AddOrUpdate(key, expr string, fn func(ctx context.Context) error) error {
	schedule, err := r.parser.Parse(expr)
	if err != nil {
		r.logger.Warn("unparsable trigger expression, falling back to hourly",
			zap.String("key", key),
			zap.String("expr", expr),
			zap.Error(err),
		)
		schedule = cron.Every(fallbackInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		existing.cancel()
	}
	r.entries[key] = &trigger{expr: expr, schedule: schedule, cancel: cancel}
	r.mu.Unlock()

	go r.fire(ctx, key, schedule, fn)

	r.logger.Info("recurring trigger registered",
		zap.String("key", key),
		zap.String("expr", expr),
	)

	return nil
}

// Remove unregisters a trigger. Removing an unknown key is a no-op.
func (r *Recurring) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		existing.cancel()
		delete(r.entries, key)
		r.logger.Info("recurring trigger removed", zap.String("key", key))
	}
}

// Contains reports whether a trigger is registered under key.
func (r *Recurring) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[key]
	return ok
}

// Expr returns the expression registered under key, if any.
func (r *Recurring) Expr(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.expr, true
	}
	return "", false
}

// Keys returns the registered trigger keys in sorted order.
func (r *Recurring) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stop cancels every registered trigger.
func (r *Recurring) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.entries {
		e.cancel()
		delete(r.entries, k)
	}

	r.logger.Info("all recurring triggers stopped")
}

// NextFire computes the next fire time of expr after the given instant.
// An unparsable expression yields after + 1h rather than an error.
func (r *Recurring) NextFire(expr string, after time.Time) time.Time {
	schedule, err := r.parser.Parse(expr)
	if err != nil {
		return after.Add(fallbackInterval)
	}
	return schedule.Next(after)
}

func (r *Recurring) fire(ctx context.Context, key string, schedule cron.Schedule, fn func(ctx context.Context) error) {
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.queue.Enqueue(key, fn); err != nil {
				r.logger.Error("trigger enqueue failed",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}
}
